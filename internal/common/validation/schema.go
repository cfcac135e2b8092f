package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "parking-sticker/internal/common/errors"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidateInput validates job variables against a JSON schema document.
func ValidateInput(input interface{}, schema json.RawMessage) (*ValidationResult, error) {
	if len(schema) == 0 {
		return &ValidationResult{Valid: true}, nil
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(input)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// CompileSchema checks that schema is itself a valid JSON schema.
func CompileSchema(schema json.RawMessage) error {
	_, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	return err
}

var taskTypePattern = regexp.MustCompile(`^[a-z]+(-[a-z]+)*$`)

// ValidateTaskType checks the kebab-case naming of Zeebe task types.
func ValidateTaskType(taskType string) error {
	if !taskTypePattern.MatchString(taskType) {
		return fmt.Errorf("task type %q must be kebab-case (e.g. approve-application)", taskType)
	}
	return nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") {
			return true
		}
	}
	return false
}

// ValidateJobVariables decodes raw Zeebe job variables and checks them
// against schema. Failures come back as INVALID_JOB_VARIABLES.
func ValidateJobVariables(variables string, schema json.RawMessage) error {
	var doc interface{}
	if err := json.Unmarshal([]byte(variables), &doc); err != nil {
		return apperrors.NewInvalidJobVariablesError(fmt.Sprintf("parse variables: %v", err))
	}
	result, err := ValidateInput(doc, schema)
	if err != nil {
		return apperrors.NewInvalidJobVariablesError(err.Error())
	}
	if !result.Valid {
		return apperrors.NewInvalidJobVariablesError(strings.Join(result.GetErrorMessages(), "; "))
	}
	return nil
}
