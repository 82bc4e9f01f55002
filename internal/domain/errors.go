package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EngineError represents a standardized error surfaced to callers of the engine
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput    = "INVALID_INPUT"
	ErrDatabaseError   = "DATABASE_ERROR"
	ErrRemoteSystem    = "REMOTE_SYSTEM_ERROR"
	ErrReconciliation  = "RECONCILIATION_ERROR"
	ErrResolutionMiss  = "NO_DEFAULT_AVAILABLE"
	ErrConcurrentWrite = "REPORT_BUSY"
	ErrInternalServer  = "INTERNAL_SERVER_ERROR"
	ErrValidation      = "VALIDATION_ERROR"
)

// NewEngineError creates a new EngineError with timestamp
func NewEngineError(code, message, details, requestID string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ErrNoDefault is matched by every resolution miss.
var ErrNoDefault = errors.New("no default available")

// SoftMiss reports that no reference rule or sub-value could be resolved.
// Callers substitute "no default" and carry on.
type SoftMiss struct {
	What  string
	Query map[string]string
}

func (e *SoftMiss) Error() string {
	keys := make([]string, 0, len(e.Query))
	for k := range e.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Query[k])
	}
	return fmt.Sprintf("%s: %s [%s]", ErrNoDefault, e.What, strings.Join(parts, ", "))
}

// Is makes errors.Is(err, ErrNoDefault) true for every SoftMiss.
func (e *SoftMiss) Is(target error) bool {
	return target == ErrNoDefault
}

// IsSoftMiss reports whether err is a non-fatal resolution miss.
func IsSoftMiss(err error) bool {
	return errors.Is(err, ErrNoDefault)
}

// Candidate describes a summarized information record that was available
// while reconciling an imported row.
type Candidate struct {
	SummaryID int64  `json:"summary_id"`
	SampleID  string `json:"sample_id"`
}

// ReconciliationError is raised when an imported case or result row cannot
// be attached to any summarized information. It is fatal to the import pass.
type ReconciliationError struct {
	OrigSampID string
	Row        map[string]string
	Candidates []Candidate
}

func (e *ReconciliationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no aggregated data was found related to origSampId=%q", e.OrigSampID)
	if id, ok := e.Row[ColSampleID]; ok {
		fmt.Fprintf(&b, " for individual case sampId=%q", id)
	}
	fmt.Fprintf(&b, "; available aggregated data (%d):", len(e.Candidates))
	for _, c := range e.Candidates {
		fmt.Fprintf(&b, " [id=%d sampId=%s]", c.SummaryID, c.SampleID)
	}
	return b.String()
}

// IsReconciliation reports whether err is a fatal import reconciliation failure.
func IsReconciliation(err error) bool {
	var re *ReconciliationError
	return errors.As(err, &re)
}
