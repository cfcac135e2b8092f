package sendnotification

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	calls         int
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.calls++
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       int
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls++
	return m.PublishFunc(ctx, params, optFns...)
}

type stubApplications map[string]*models.Application

func (s stubApplications) Get(_ context.Context, id string) (*models.Application, error) {
	app, ok := s[id]
	if !ok {
		return nil, apperrors.NewApplicationNotFoundError(id)
	}
	return app, nil
}

type testLogger struct {
	t *testing.T
}

func (tl *testLogger) Debug(msg string, fields map[string]interface{}) {
	tl.t.Logf("DEBUG: %s %v", msg, fields)
}

func (tl *testLogger) Info(msg string, fields map[string]interface{}) {
	tl.t.Logf("INFO: %s %v", msg, fields)
}

func (tl *testLogger) Warn(msg string, fields map[string]interface{}) {
	tl.t.Logf("WARN: %s %v", msg, fields)
}

func (tl *testLogger) Error(msg string, fields map[string]interface{}) {
	tl.t.Logf("ERROR: %s %v", msg, fields)
}

func (tl *testLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return tl
}

func (tl *testLogger) WithError(err error) logger.Logger {
	return tl.WithFields(map[string]interface{}{"error": err})
}

func (tl *testLogger) With(fields map[string]interface{}) logger.Logger {
	return tl
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		EmailEnabled: true,
		SMSEnabled:   true,
		FromEmail:    "noreply@mphs.gov.my",
		SMSSenderID:  "MPHS",
		CountryCode:  "60",
		Timeout:      30 * time.Second,
	}
}

func approvedApplication() *models.Application {
	approved := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	loc, _ := time.LoadLocation("Asia/Kuala_Lumpur")
	expiry := models.ExpiryFor(approved, loc)
	return &models.Application{
		ID:              "app-1",
		ReferenceNumber: "RB20250001",
		Type:            models.TypeNew,
		Status:          models.StatusApproved,
		Applicant: models.Applicant{
			Name:     "Siti Nurhaliza",
			ICNumber: "850215-10-5432",
			Phone:    "012-345 6789",
			Email:    "siti@example.com",
		},
		SerialNumber: "MPHS/2025/0001",
		ApprovedAt:   &approved,
		ExpiryAt:     &expiry,
	}
}

func newTestHandler(t *testing.T, sesSvc SESService, snsSvc SNSService, apps ...*models.Application) *Handler {
	t.Helper()
	stub := stubApplications{}
	for _, a := range apps {
		stub[a.ID] = a
	}
	h, err := NewHandler(createTestConfig(), stub, sesSvc, snsSvc, &testLogger{t: t})
	require.NoError(t, err)
	return h
}

func okSES(t *testing.T) *MockSESService {
	return &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			assert.Equal(t, "siti@example.com", params.Destination.ToAddresses[0])
			assert.Equal(t, "noreply@mphs.gov.my", *params.Source)
			return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
		},
	}
}

func okSNS(t *testing.T) *MockSNSService {
	return &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			assert.Equal(t, "+60123456789", *params.PhoneNumber)
			assert.Equal(t, "MPHS", *params.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)
			return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
		},
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Approved(t *testing.T) {
	var subject, body, sms string
	sesSvc := &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			subject = *params.Message.Subject.Data
			body = *params.Message.Body.Text.Data
			return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
		},
	}
	snsSvc := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			sms = *params.Message
			return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
		},
	}
	h := newTestHandler(t, sesSvc, snsSvc, approvedApplication())

	output, err := h.Execute(context.Background(), &Input{ApplicationID: "app-1", NotificationEvent: models.EventApproved})
	require.NoError(t, err)

	assert.Equal(t, StatusSent, output.Status)
	assert.NotEmpty(t, output.NotificationID)
	require.Len(t, output.Deliveries, 2)
	assert.Equal(t, "ses-1", output.Deliveries[0].MessageID)
	assert.Equal(t, "sns-1", output.Deliveries[1].MessageID)

	assert.Contains(t, subject, "RB20250001")
	assert.Contains(t, body, "MPHS/2025/0001")
	assert.Contains(t, body, "2027-12-31")
	assert.Equal(t, "Sticker application RB20250001 approved. Serial MPHS/2025/0001, valid until 2027-12-31.", sms)
}

func TestHandler_Execute_ChannelsDisabled(t *testing.T) {
	sesSvc, snsSvc := okSES(t), okSNS(t)
	h := newTestHandler(t, sesSvc, snsSvc, approvedApplication())
	h.config.EmailEnabled = false
	h.config.SMSEnabled = false

	output, err := h.Execute(context.Background(), &Input{ApplicationID: "app-1", NotificationEvent: models.EventApproved})
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, output.Status)
	assert.Zero(t, sesSvc.calls)
	assert.Zero(t, snsSvc.calls)
}

func TestHandler_Execute_NoEmailAddress(t *testing.T) {
	app := approvedApplication()
	app.Applicant.Email = ""
	sesSvc, snsSvc := okSES(t), okSNS(t)
	h := newTestHandler(t, sesSvc, snsSvc, app)

	output, err := h.Execute(context.Background(), &Input{ApplicationID: "app-1", NotificationEvent: models.EventApproved})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, output.Status)
	assert.Equal(t, StatusDisabled, output.Deliveries[0].Status)
	assert.Equal(t, StatusSent, output.Deliveries[1].Status)
	assert.Zero(t, sesSvc.calls)
}

func TestHandler_Execute_PartialFailureCompletes(t *testing.T) {
	sesSvc := &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			return nil, errors.New("SES service unavailable")
		},
	}
	h := newTestHandler(t, sesSvc, okSNS(t), approvedApplication())

	output, err := h.Execute(context.Background(), &Input{ApplicationID: "app-1", NotificationEvent: models.EventApproved})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, output.Status)
	assert.Equal(t, StatusFailed, output.Deliveries[0].Status)
}

func TestHandler_Execute_AllChannelsFailed(t *testing.T) {
	sesSvc := &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			return nil, errors.New("SES service unavailable")
		},
	}
	snsSvc := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("SNS service unavailable")
		},
	}
	h := newTestHandler(t, sesSvc, snsSvc, approvedApplication())

	output, err := h.Execute(context.Background(), &Input{ApplicationID: "app-1", NotificationEvent: models.EventApproved})
	assert.Nil(t, output)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotificationSendFailed))

	bpmn := apperrors.ConvertToBPMNError(apperrors.Normalize(err))
	assert.Equal(t, 3, bpmn.Retries)
}

func TestHandler_Execute_Incomplete(t *testing.T) {
	app := approvedApplication()
	app.Status = models.StatusIncomplete
	app.SerialNumber = ""
	app.ApprovedAt = nil
	app.ExpiryAt = nil
	app.AdminNotes = "Disability card copy expired"

	var sms string
	snsSvc := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			sms = *params.Message
			return &sns.PublishOutput{}, nil
		},
	}
	h := newTestHandler(t, okSES(t), snsSvc, app)

	_, err := h.Execute(context.Background(), &Input{ApplicationID: "app-1", NotificationEvent: models.EventIncomplete})
	require.NoError(t, err)
	assert.Equal(t, "Sticker application RB20250001 is incomplete: Disability card copy expired", sms)
}

func TestHandler_Execute_Errors(t *testing.T) {
	h := newTestHandler(t, okSES(t), okSNS(t), approvedApplication())

	_, err := h.Execute(context.Background(), &Input{ApplicationID: "missing", NotificationEvent: models.EventApproved})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeApplicationNotFound))

	_, err = h.Execute(context.Background(), &Input{ApplicationID: "app-1", NotificationEvent: "collected"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

// ==========================
// Unit Tests
// ==========================

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]interface{}
		expected string
	}{
		{
			name:     "simple replacement",
			template: "Hello {{name}}",
			data:     map[string]interface{}{"name": "Siti"},
			expected: "Hello Siti",
		},
		{
			name:     "missing value removed",
			template: "Serial {{serialNumber}} until {{expiryDate}}",
			data:     map[string]interface{}{"serialNumber": "MPHS/2025/0001"},
			expected: "Serial MPHS/2025/0001 until ",
		},
		{
			name:     "non string value",
			template: "Attempt {{n}}",
			data:     map[string]interface{}{"n": 2},
			expected: "Attempt 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, renderTemplate(tt.template, tt.data))
		})
	}
}

func TestToE164(t *testing.T) {
	assert.Equal(t, "+60123456789", toE164("012-345 6789", "60"))
	assert.Equal(t, "+60123456789", toE164("60123456789", "60"))
	assert.Equal(t, "+60123456789", toE164("+60123456789", "60"))
	assert.Equal(t, "+60123456789", toE164("123456789", "60"))
	assert.Equal(t, "", toE164("", "60"))
}

func TestLoadTemplates_CoversEveryEvent(t *testing.T) {
	templates := loadTemplates()
	for _, event := range []models.NotificationEvent{models.EventApproved, models.EventIncomplete, models.EventReadyForCollection} {
		tmpl, ok := templates[event]
		require.True(t, ok, string(event))
		assert.NotEmpty(t, tmpl.Subject)
		assert.NotEmpty(t, tmpl.Body)
		assert.NotEmpty(t, tmpl.SMS)
	}
}
