package engine

import (
	"errors"
	"strings"

	"github.com/odvcencio/testpilot/pkg/storage"
)

// NotFoundError is returned when the requested resource does not exist.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// ForbiddenError is returned when the caller may not act on the resource.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "access denied"
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var fb *ForbiddenError
	return errors.As(err, &fb)
}

// classifyStepError maps a failed step's message to a run-level error type.
// Classification is by message substring: resolver failures embed
// ELEMENT_NOT_FOUND, driver waits mention "timeout", and assertion failures
// are phrased with "expect".
func classifyStepError(message string) string {
	switch {
	case strings.Contains(message, "ELEMENT_NOT_FOUND"):
		return storage.ErrorTypeElementNotFound
	case strings.Contains(strings.ToLower(message), "timeout"):
		return storage.ErrorTypeTimeout
	case strings.Contains(strings.ToLower(message), "expect"):
		return storage.ErrorTypeAssertion
	default:
		return storage.ErrorTypeOther
	}
}
