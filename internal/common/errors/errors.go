// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Lifecycle and issuance errors
const (
	ErrCodeDuplicateFieldConflict     ErrorCode = "DUPLICATE_FIELD_CONFLICT"
	ErrCodeIllegalTransition          ErrorCode = "ILLEGAL_TRANSITION"
	ErrCodeCapacityExceeded           ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeValidationFailed           ErrorCode = "VALIDATION_FAILED"
	ErrCodeAllocationRetriesExhausted ErrorCode = "ALLOCATION_RETRIES_EXHAUSTED"
	ErrCodeStoreUnavailable           ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeApplicationNotFound        ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeSessionNotConfigured       ErrorCode = "SESSION_NOT_CONFIGURED"
	ErrCodeCapacityBelowIssued        ErrorCode = "CAPACITY_BELOW_ISSUED"
)

// Integration errors
const (
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeSearchQueryFailed      ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeInvalidJobVariables    ErrorCode = "INVALID_JOB_VARIABLES"
	ErrCodeExternalService        ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// HasCode reports whether err wraps a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// AsStandard extracts the StandardError carried by err, if any.
func AsStandard(err error) (*StandardError, bool) {
	var se *StandardError
	ok := stderrors.As(err, &se)
	return se, ok
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewDuplicateFieldConflictError lists every guarded field that collided.
func NewDuplicateFieldConflictError(fields []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateFieldConflict,
		Message:   "Guarded field already registered to another applicant",
		Details:   fmt.Sprintf("fields: %s", strings.Join(fields, ", ")),
		Retryable: false,
		Metadata:  map[string]interface{}{"fields": fields},
		Timestamp: time.Now().UTC(),
	}
}

func NewIllegalTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIllegalTransition,
		Message:   "Status transition not permitted",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Metadata:  map[string]interface{}{"from": from, "to": to},
		Timestamp: time.Now().UTC(),
	}
}

func NewCapacityExceededError(year, capacity, issued int) *StandardError {
	return &StandardError{
		Code:      ErrCodeCapacityExceeded,
		Message:   "Session full",
		Details:   fmt.Sprintf("year: %d, capacity: %d, issued: %d", year, capacity, issued),
		Retryable: false,
		Metadata:  map[string]interface{}{"year": year, "capacity": capacity, "issued": issued},
		Timestamp: time.Now().UTC(),
	}
}

func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewAllocationRetriesExhaustedError(op string, attempts int, err error) *StandardError {
	details := fmt.Sprintf("operation: %s, attempts: %d", op, attempts)
	if err != nil {
		details += ", error: " + err.Error()
	}
	return &StandardError{
		Code:      ErrCodeAllocationRetriesExhausted,
		Message:   "Identifier allocation kept colliding",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Application store unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewApplicationNotFoundError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationNotFound,
		Message:   "Application not found",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewSessionNotConfiguredError(year int) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotConfigured,
		Message:   "No session configuration for year",
		Details:   fmt.Sprintf("year: %d", year),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewCapacityBelowIssuedError(year, capacity, issued int) *StandardError {
	return &StandardError{
		Code:      ErrCodeCapacityBelowIssued,
		Message:   "Capacity cannot be set below serials already issued",
		Details:   fmt.Sprintf("year: %d, capacity: %d, issued: %d", year, capacity, issued),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewSearchQueryFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Elasticsearch query error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidJobVariablesError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidJobVariables,
		Message:   "Job variables failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   "External service call failed",
		Details:   fmt.Sprintf("service: %s, error: %s", service, err.Error()),
		Retryable: true,
		Metadata:  map[string]interface{}{"service": service},
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. BPMN Mapping
// ==========================

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeDuplicateFieldConflict:     "DUPLICATE_FIELD_CONFLICT",
	ErrCodeIllegalTransition:          "ILLEGAL_TRANSITION",
	ErrCodeCapacityExceeded:           "SESSION_FULL",
	ErrCodeValidationFailed:           "VALIDATION_FAILED",
	ErrCodeAllocationRetriesExhausted: "ALLOCATION_RETRIES_EXHAUSTED",
	ErrCodeStoreUnavailable:           "STORE_UNAVAILABLE",
	ErrCodeApplicationNotFound:        "APPLICATION_NOT_FOUND",
	ErrCodeSessionNotConfigured:       "SESSION_NOT_CONFIGURED",
	ErrCodeCapacityBelowIssued:        "CAPACITY_BELOW_ISSUED",
	ErrCodeNotificationSendFailed:     "NOTIFICATION_SEND_FAILED",
	ErrCodeSearchQueryFailed:          "SEARCH_QUERY_FAILED",
	ErrCodeInvalidJobVariables:        "INVALID_JOB_VARIABLES",
	ErrCodeExternalService:            "EXTERNAL_SERVICE_ERROR",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStoreUnavailable,
		ErrCodeNotificationSendFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeAllocationRetriesExhausted:
		return 2 // each attempt already retried in-process

	default:
		return 0 // business errors
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeDuplicateFieldConflict, ErrCodeValidationFailed, ErrCodeInvalidJobVariables:
		return "VALIDATION"
	case ErrCodeIllegalTransition, ErrCodeApplicationNotFound:
		return "LIFECYCLE"
	case ErrCodeCapacityExceeded, ErrCodeAllocationRetriesExhausted,
		ErrCodeSessionNotConfigured, ErrCodeCapacityBelowIssued:
		return "ISSUANCE"
	case ErrCodeStoreUnavailable:
		return "DATABASE"
	case ErrCodeSearchQueryFailed:
		return "SEARCH"
	case ErrCodeNotificationSendFailed:
		return "NOTIFICATION"
	case ErrCodeExternalService:
		return "INTEGRATION"
	default:
		return "OTHER"
	}
}
