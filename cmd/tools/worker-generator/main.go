// cmd/tools/worker-generator/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"parking-sticker/pkg/registry"
)

// WorkerData holds data for templates
type WorkerData struct {
	Name         string
	PackageName  string
	TaskType     string
	Description  string
	Category     string
	Timeout      string
	InputFields  string
	OutputFields string
	ErrorCodes   []string
}

// schemaProperties extracts properties from a JSON schema object
func schemaProperties(schema map[string]interface{}) map[string]interface{} {
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		return props
	}
	return map[string]interface{}{}
}

func requiredSet(schema map[string]interface{}) map[string]bool {
	out := map[string]bool{}
	list, _ := schema["required"].([]interface{})
	for _, item := range list {
		if name, ok := item.(string); ok {
			out[name] = true
		}
	}
	return out
}

// goTypeFromJSONType maps JSON schema types to Go types
func goTypeFromJSONType(jsonType interface{}) string {
	switch jsonType {
	case "string":
		return "string"
	case "integer":
		return "int"
	case "number":
		return "float64"
	case "boolean":
		return "bool"
	case "object":
		return "map[string]interface{}"
	case "array":
		return "[]interface{}"
	default:
		return "interface{}"
	}
}

// structFields renders Go struct fields for a schema, sorted by JSON name.
func structFields(schema map[string]interface{}) string {
	props := schemaProperties(schema)
	required := requiredSet(schema)

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]string, 0, len(names))
	for _, name := range names {
		details, _ := props[name].(map[string]interface{})
		tag := name
		if !required[name] {
			tag += ",omitempty"
		}
		fields = append(fields, fmt.Sprintf("\t%s %s `json:\"%s\"`", exportedName(name), goTypeFromJSONType(details["type"]), tag))
	}
	return strings.Join(fields, "\n")
}

// exportedName turns applicationId into ApplicationID.
func exportedName(s string) string {
	if s == "" {
		return s
	}
	out := strings.ToUpper(s[:1]) + s[1:]
	if strings.HasSuffix(out, "Id") {
		out = strings.TrimSuffix(out, "Id") + "ID"
	}
	return out
}

func packageName(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// mapCategoryToDirectory maps registry categories to directory names
func mapCategoryToDirectory(category string) string {
	switch category {
	case "communication":
		return "application"
	default:
		return strings.ToLower(category)
	}
}

func newWorkerData(a *registry.Activity) WorkerData {
	return WorkerData{
		Name:         a.DisplayName,
		PackageName:  packageName(a.ID),
		TaskType:     a.TaskType,
		Description:  a.Description,
		Category:     a.Category,
		Timeout:      a.Timeout,
		InputFields:  structFields(a.InputSchema),
		OutputFields: structFields(a.OutputSchema),
		ErrorCodes:   a.ErrorCodes,
	}
}

const configTemplate = `package {{ .PackageName }}

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: {{ .Timeout }},
	}
}
`

const modelsTemplate = `package {{ .PackageName }}

type Input struct {
{{ .InputFields }}
}

type Output struct {
{{ .OutputFields }}
}
`

const handlerTemplate = `package {{ .PackageName }}

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/common/metrics"
	"parking-sticker/internal/common/validation"
	"parking-sticker/pkg/registry"
)

const TaskType = "{{ .TaskType }}"

// Handler serves {{ .Name }} jobs. {{ .Description }}
type Handler struct {
	config       *Config
	schema       json.RawMessage
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, log logger.Logger) (*Handler, error) {
	schema, err := registry.Default().InputSchema(TaskType)
	if err != nil {
		return nil, err
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		schema:       schema,
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
		h.fail(ctx, client, job, apperrors.NewInvalidJobVariablesError(err.Error()))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}
	h.completeJob(ctx, client, job, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	// TODO: implement {{ .TaskType }}
	return &Output{}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err.Error()})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err.Error()})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
`

const testTemplate = `package {{ .PackageName }}

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-sticker/internal/common/logger"
)

func TestHandler_Execute(t *testing.T) {
	h, err := NewHandler(&Config{Timeout: time.Second}, logger.NewTestLogger(t))
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.NotNil(t, out)
}
`

const readmeTemplate = `# {{ .Name }}

{{ .Description }}

Task type: ` + "`{{ .TaskType }}`" + `

## Error codes
{{- range .ErrorCodes }}
- ` + "`{{ . }}`" + `
{{- else }}
No specific error codes defined.
{{- end }}

## Configuration

` + "```yaml" + `
workers:
  {{ .TaskType }}:
    enabled: true
    max_jobs_active: 5
    timeout: {{ .Timeout }}
` + "```" + `

Register the handler in cmd/worker-manager/main.go next to the other workers.
`

var templates = map[string]string{
	"config.go":       configTemplate,
	"models.go":       modelsTemplate,
	"handler.go":      handlerTemplate,
	"handler_test.go": testTemplate,
	"README.md":       readmeTemplate,
}

func render(dir string, data WorkerData) error {
	for filename, tmplStr := range templates {
		tmpl, err := template.New(filename).Parse(tmplStr)
		if err != nil {
			return fmt.Errorf("parse template %s: %w", filename, err)
		}

		path := filepath.Join(dir, filename)
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		err = tmpl.Execute(file, data)
		file.Close()
		if err != nil {
			return fmt.Errorf("render %s: %w", path, err)
		}
		fmt.Printf("Generated %s\n", path)
	}
	return nil
}

func main() {
	activity := flag.String("activity", "", "Activity ID from registry (e.g., approve-application)")
	outputDir := flag.String("output", "./internal/workers/", "Output directory for the generated worker")
	registryPath := flag.String("registry", "", "Path to the activity registry JSON file (default: embedded registry)")
	flag.Parse()

	if *activity == "" {
		fmt.Println("Usage: worker-generator --activity <id> [--output <dir>] [--registry <path>]")
		os.Exit(1)
	}

	reg := registry.Default()
	if *registryPath != "" {
		var err error
		reg, err = registry.LoadRegistry(*registryPath)
		if err != nil {
			fmt.Printf("Error loading registry from %s: %v\n", *registryPath, err)
			os.Exit(1)
		}
	}

	var found *registry.Activity
	for i := range reg.Activities {
		if reg.Activities[i].ID == *activity {
			found = &reg.Activities[i]
			break
		}
	}
	if found == nil {
		fmt.Printf("Activity '%s' not found in registry\n", *activity)
		os.Exit(1)
	}

	data := newWorkerData(found)
	if data.Timeout == "" {
		data.Timeout = "10s"
	}
	data.Timeout = durationLiteral(data.Timeout)

	workerDir := filepath.Join(*outputDir, mapCategoryToDirectory(found.Category), found.ID)
	if _, err := os.Stat(workerDir); err == nil {
		fmt.Printf("Worker directory %s already exists\n", workerDir)
		os.Exit(1)
	}
	if err := os.MkdirAll(workerDir, 0755); err != nil {
		fmt.Printf("Error creating directory: %v\n", err)
		os.Exit(1)
	}

	if err := render(workerDir, data); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nWorker scaffold generated at: %s\n", workerDir)
	fmt.Printf("Register it in cmd/worker-manager/main.go and add it to configs/config.yaml\n")
}
