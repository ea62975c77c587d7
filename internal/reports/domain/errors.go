package reports

import (
	"errors"
	"strings"
)

// ErrInvalidReport is matched by every ValidationError.
var ErrInvalidReport = errors.New("report: invalid")

// FieldError describes one violated rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	DeviceCode string       `json:"deviceCode,omitempty"`
	Fields     []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrInvalidReport.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrInvalidReport.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrInvalidReport.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidReport
}

// Has reports whether the named field failed.
func (e *ValidationError) Has(field string) bool {
	if e == nil {
		return false
	}
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}
