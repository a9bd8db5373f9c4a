// Package errors provides the structured error kinds shared by stage handlers,
// HTTP glue and Zeebe workers, plus their mapping onto BPMN errors.
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

// Lifecycle error kinds.
const (
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodePreconditionFailed   ErrorCode = "PRECONDITION_FAILED"
	ErrCodeCollaboratorFailed   ErrorCode = "COLLABORATOR_FAILED"
	ErrCodeTransitionInProgress ErrorCode = "TRANSITION_IN_PROGRESS"
	ErrCodePersistenceFailed    ErrorCode = "PERSISTENCE_FAILED"
)

// Infrastructure error kinds raised by the Zeebe client wrapper.
const (
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT_ERROR"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// Metadata keys attached to lifecycle errors.
const (
	MetaApplicationID = "applicationId"
	MetaStage         = "stage"
	MetaCollaborator  = "collaborator"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "StandardError[%s]: %s", e.Code, e.Message)
	if id := e.ApplicationID(); id != "" {
		fmt.Fprintf(&b, " (application %s", id)
		if st := e.Stage(); st != "" {
			fmt.Fprintf(&b, ", stage %s", st)
		}
		b.WriteString(")")
	}
	if e.Details != "" {
		b.WriteString(": ")
		b.WriteString(e.Details)
	}
	return b.String()
}

func (e *StandardError) Unwrap() error { return e.Cause }

// WithContext attaches the application and stage the error belongs to.
// Values already present are kept.
func (e *StandardError) WithContext(applicationID, stage string) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	if _, ok := e.Metadata[MetaApplicationID]; !ok && applicationID != "" {
		e.Metadata[MetaApplicationID] = applicationID
	}
	if _, ok := e.Metadata[MetaStage]; !ok && stage != "" {
		e.Metadata[MetaStage] = stage
	}
	return e
}

func (e *StandardError) ApplicationID() string { return e.meta(MetaApplicationID) }

func (e *StandardError) Stage() string { return e.meta(MetaStage) }

func (e *StandardError) meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if s, ok := e.Metadata[key].(string); ok {
		return s
	}
	return ""
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

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError reports malformed submission input. Nothing is persisted.
func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Application input validation failed", details, false, nil)
}

// NewApplicationNotFoundError reports an unknown application id.
func NewApplicationNotFoundError(applicationID string) *StandardError {
	return newError(ErrCodeNotFound, "Loan application not found",
		fmt.Sprintf("applicationId: %s", applicationID), false, nil).
		WithContext(applicationID, "")
}

// NewTaskNotFoundError reports that the orchestrator has no pending task for the stage.
func NewTaskNotFoundError(applicationID, stage, stageKey string) *StandardError {
	return newError(ErrCodeNotFound, "No pending task for stage",
		fmt.Sprintf("stageKey: %s", stageKey), false, nil).
		WithContext(applicationID, stage)
}

// NewPreconditionError reports a transition that the record's state forbids.
func NewPreconditionError(applicationID, stage, details string) *StandardError {
	return newError(ErrCodePreconditionFailed, "Stage precondition not met", details, false, nil).
		WithContext(applicationID, stage)
}

// NewCollaboratorError wraps a failed call to the orchestrator, payment or notification service.
func NewCollaboratorError(collaborator string, err error) *StandardError {
	e := newError(ErrCodeCollaboratorFailed,
		fmt.Sprintf("Collaborator '%s' failed", collaborator), errDetails(err), true, err)
	e.Metadata = map[string]interface{}{MetaCollaborator: collaborator}
	return e
}

// NewTransitionInProgressError reports that another transition holds the application.
func NewTransitionInProgressError(applicationID string) *StandardError {
	return newError(ErrCodeTransitionInProgress, "Another transition is in progress for this application",
		"", true, nil).
		WithContext(applicationID, "")
}

// NewPersistenceError wraps a storage failure.
func NewPersistenceError(operation string, err error) *StandardError {
	return newError(ErrCodePersistenceFailed, "Persistence operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, errDetails(err)), true, err)
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService,
		fmt.Sprintf("External service '%s' error", service), errDetails(err), true, err)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout,
		fmt.Sprintf("Service '%s' timeout", service), errDetails(err), true, err)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to the BPMN error codes caught by
// boundary events in the loan process.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:     "LOAN_VALIDATION_FAILED",
	ErrCodeNotFound:             "LOAN_NOT_FOUND",
	ErrCodePreconditionFailed:   "LOAN_PRECONDITION_FAILED",
	ErrCodeCollaboratorFailed:   "LOAN_COLLABORATOR_FAILED",
	ErrCodeTransitionInProgress: "LOAN_TRANSITION_IN_PROGRESS",
	ErrCodePersistenceFailed:    "LOAN_PERSISTENCE_FAILED",
}

// GetRetryCount returns the recommended job retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeCollaboratorFailed,
		ErrCodePersistenceFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeTransitionInProgress,
		ErrCodeTimeout:
		return 2

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
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
	if id := stdErr.ApplicationID(); id != "" {
		vars[MetaApplicationID] = id
	}
	if st := stdErr.Stage(); st != "" {
		vars[MetaStage] = st
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

// ==========================
// 5. Utility Functions
// ==========================

// AsStandard extracts a StandardError from an error chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// Normalize always yields a StandardError, wrapping unknown errors as internal.
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr
	}
	return newError(ErrCodeInternal, "Unexpected error", errDetails(err), false, err)
}

// CodeOf returns the code of the first StandardError in the chain.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeValidationFailed:
		return "VALIDATION"
	case ErrCodeNotFound:
		return "LOOKUP"
	case ErrCodePreconditionFailed, ErrCodeTransitionInProgress:
		return "LIFECYCLE"
	case ErrCodeCollaboratorFailed, ErrCodeExternalService, ErrCodeTimeout:
		return "COLLABORATOR"
	case ErrCodePersistenceFailed:
		return "DATABASE"
	default:
		return "OTHER"
	}
}
