package appointment

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotConflict        = errors.New("slot is no longer available")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStoreUnavailable marks transient infrastructure failures. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrReconcilePending marks a reservation whose slot lock succeeded but whose
	// appointment write did not. Only the appointment write may be retried.
	ErrReconcilePending = errors.New("slot reserved but appointment not yet written")
)

// ValidationError lists the offending fields. It never reaches the store.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// unavailable wraps a backend error and marks it as ErrStoreUnavailable.
func unavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrStoreUnavailable)
}
