package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidCredential     = errors.New("invalid credential")
	ErrUnsupportedFormat     = errors.New("unsupported image format")
	ErrImageTooLarge         = errors.New("image too large")
	ErrInvalidImageData      = errors.New("invalid image data")
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrAuthentication        = errors.New("provider authentication failed")
	ErrProviderRejected      = errors.New("provider rejected request")
	ErrJobTimeout            = errors.New("job timed out")
	ErrResultFetch           = errors.New("result fetch failed")
	ErrResultDecode          = errors.New("result decode failed")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

// ProviderError carries a classified failure reported by a provider adapter.
// It matches its Kind sentinel under errors.Is.
type ProviderError struct {
	Provider string
	Kind     error
	Status   int
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("provider error")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (code %s)", e.Code)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " [http %d]", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ExhaustedError reports that both the primary and the secondary attempt failed.
type ExhaustedError struct {
	Primary   error
	Secondary error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: primary: %v; secondary: %v", ErrAllProvidersExhausted, e.Primary, e.Secondary)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{e.Primary, e.Secondary}
}

// ErrorClass groups errors by how the caller should react to them.
type ErrorClass string

const (
	ClassNone        ErrorClass = ""
	ClassClientInput ErrorClass = "client_input"
	ClassProvider    ErrorClass = "provider"
	ClassResult      ErrorClass = "result"
	ClassExhausted   ErrorClass = "exhausted"
	ClassCanceled    ErrorClass = "canceled"
	ClassInternal    ErrorClass = "internal"
)

// Classify maps an error onto the taxonomy.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrAllProvidersExhausted):
		return ClassExhausted
	case errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrImageTooLarge),
		errors.Is(err, ErrInvalidImageData),
		errors.Is(err, ErrInvalidCredential):
		return ClassClientInput
	case IsProviderFailure(err):
		return ClassProvider
	case errors.Is(err, ErrResultFetch), errors.Is(err, ErrResultDecode):
		return ClassResult
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	default:
		return ClassInternal
	}
}

// IsProviderFailure reports whether err belongs to the class recovered by
// switching providers.
func IsProviderFailure(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrProviderRejected) ||
		errors.Is(err, ErrJobTimeout)
}
