package sendnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"

	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/common/metrics"
	"parking-sticker/internal/common/validation"
	"parking-sticker/internal/models"
	"parking-sticker/pkg/registry"
)

const (
	TaskType = "send-notification"
)

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// ApplicationReader loads the application the notification is about.
type ApplicationReader interface {
	Get(ctx context.Context, applicationID string) (*models.Application, error)
}

type Handler struct {
	config       *Config
	apps         ApplicationReader
	sesClient    SESService
	snsClient    SNSService
	templates    map[models.NotificationEvent]template
	schema       json.RawMessage
	now          func() time.Time
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, apps ApplicationReader, sesClient SESService, snsClient SNSService, log logger.Logger) (*Handler, error) {
	schema, err := registry.Default().InputSchema(TaskType)
	if err != nil {
		return nil, fmt.Errorf("load input schema: %w", err)
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		apps:         apps,
		sesClient:    sesClient,
		snsClient:    snsClient,
		templates:    loadTemplates(),
		schema:       schema,
		now:          func() time.Time { return time.Now().UTC() },
		errorHandler: apperrors.NewErrorHandler(l),
		logger:       l,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer func() {
		metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := validation.ValidateJobVariables(job.Variables, h.schema); err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewInvalidJobVariablesError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	tmpl, ok := h.templates[input.NotificationEvent]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("notificationEvent: no template for %q", input.NotificationEvent))
	}

	app, err := h.apps.Get(ctx, input.ApplicationID)
	if err != nil {
		return nil, err
	}

	data := templateData(app)
	data["collectionPoint"] = h.config.CollectionPoint
	subject := renderTemplate(tmpl.Subject, data)
	body := renderTemplate(tmpl.Body, data)
	text := renderTemplate(tmpl.SMS, data)

	notificationID := uuid.New().String()
	sentAt := h.now().Format(time.RFC3339)
	deliver := func(channel string, enabled bool, to string, send func() (string, error)) models.Notification {
		n := models.Notification{
			ID:              notificationID,
			ApplicationID:   app.ID,
			ReferenceNumber: app.ReferenceNumber,
			Event:           input.NotificationEvent,
			Channel:         channel,
			Status:          StatusDisabled,
		}
		if !enabled || to == "" {
			return n
		}
		messageID, err := send()
		if err != nil {
			h.logger.Error("notification send failed", map[string]interface{}{
				"channel":       channel,
				"applicationId": app.ID,
				"error":         err.Error(),
			})
			n.Status = StatusFailed
			return n
		}
		n.Status = StatusSent
		n.MessageID = messageID
		n.SentAt = sentAt
		return n
	}

	phone := toE164(app.Applicant.Phone, h.config.CountryCode)
	deliveries := []models.Notification{
		deliver(ChannelEmail, h.config.EmailEnabled, app.Applicant.Email, func() (string, error) {
			return h.sendEmail(ctx, app.Applicant.Email, subject, body)
		}),
		deliver(ChannelSMS, h.config.SMSEnabled, phone, func() (string, error) {
			return h.sendSMS(ctx, phone, text)
		}),
	}

	sent, failed := 0, 0
	for _, d := range deliveries {
		switch d.Status {
		case StatusSent:
			sent++
		case StatusFailed:
			failed++
		}
	}

	// Retry the job only when nothing reached the applicant, otherwise a
	// retry would repeat the delivered message.
	if sent == 0 && failed > 0 {
		return nil, apperrors.NewNotificationSendFailedError(string(input.NotificationEvent), fmt.Errorf("%d channel(s) failed", failed))
	}

	status := StatusDisabled
	if sent > 0 {
		status = StatusSent
	}

	h.logger.Info("notification processed", map[string]interface{}{
		"applicationId": app.ID,
		"event":         string(input.NotificationEvent),
		"status":        status,
	})

	return &Output{
		NotificationID: notificationID,
		Status:         status,
		Deliveries:     deliveries,
		SentAt:         sentAt,
	}, nil
}

func templateData(app *models.Application) map[string]interface{} {
	data := map[string]interface{}{
		"name":            app.Applicant.Name,
		"referenceNumber": app.ReferenceNumber,
		"serialNumber":    app.SerialNumber,
		"adminNotes":      app.AdminNotes,
	}
	if app.ExpiryAt != nil {
		data["expiryDate"] = app.ExpiryAt.Format(models.DateLayout)
	}
	return data
}

func (h *Handler) sendEmail(ctx context.Context, to, subject, body string) (string, error) {
	out, err := h.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(h.config.FromEmail),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func (h *Handler) sendSMS(ctx context.Context, to, message string) (string, error) {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
		},
	}
	if h.config.SMSSenderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(h.config.SMSSenderID),
		}
	}
	out, err := h.snsClient.Publish(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

// toE164 turns a local Malaysian number into +60 form.
func toE164(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	p := b.String()
	lead := strings.TrimSuffix(countryCode, "0")
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, countryCode):
		return "+" + p
	case strings.HasPrefix(p, "0"):
		// trunk prefix doubles as the last digit of codes like 60
		return "+" + lead + p
	default:
		return "+" + countryCode + p
	}
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

// renderTemplate replaces {{key}} placeholders and drops the ones without a value.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}

func loadTemplates() map[models.NotificationEvent]template {
	return map[models.NotificationEvent]template{
		models.EventApproved: {
			Subject: "Disability parking sticker approved ({{referenceNumber}})",
			Body: "Dear {{name}},\n\nYour disability parking sticker application {{referenceNumber}} has been approved. " +
				"Your sticker serial number is {{serialNumber}} and it is valid until {{expiryDate}}. " +
				"We will let you know when it is ready for collection.",
			SMS: "Sticker application {{referenceNumber}} approved. Serial {{serialNumber}}, valid until {{expiryDate}}.",
		},
		models.EventIncomplete: {
			Subject: "Disability parking sticker application incomplete ({{referenceNumber}})",
			Body: "Dear {{name}},\n\nYour disability parking sticker application {{referenceNumber}} could not be approved. " +
				"Officer's note: {{adminNotes}}\n\nPlease submit a new application with the corrected details.",
			SMS: "Sticker application {{referenceNumber}} is incomplete: {{adminNotes}}",
		},
		models.EventReadyForCollection: {
			Subject: "Disability parking sticker ready for collection ({{serialNumber}})",
			Body: "Dear {{name}},\n\nYour disability parking sticker {{serialNumber}} is ready. " +
				"Please bring your identity card to {{collectionPoint}} to collect it.",
			SMS: "Sticker {{serialNumber}} is ready for collection at {{collectionPoint}}. Bring your IC.",
		},
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
