package relay

import (
	"errors"
	"net/http"

	"github.com/r9s-ai/gemini-relay/internal/upstream"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindTooLarge
	KindConfiguration
	KindUpstream
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTooLarge:
		return "too_large"
	case KindConfiguration:
		return "configuration"
	case KindUpstream:
		return "upstream"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

const (
	msgNoPrompt      = "No prompt provided."
	msgMissingAPIKey = "API key is missing."
)

// Error is what a generation handler fails with. It maps to an HTTP status and
// a JSON body only at the response boundary.
type Error struct {
	Kind    Kind
	Message string
	// Status and Details are set for KindUpstream.
	Status  int
	Details string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUpstream:
		if e.Status >= 100 && e.Status <= 999 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) Body() map[string]any {
	if e.Kind == KindUpstream {
		return map[string]any{"error": e.Message, "details": e.Details}
	}
	return map[string]any{"error": e.Message}
}

func validationErr(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

// fromUpstream classifies an upstream client failure.
func fromUpstream(err error) *Error {
	var uerr *upstream.Error
	if errors.As(err, &uerr) && uerr.Kind == upstream.KindStatus {
		return &Error{
			Kind:    KindUpstream,
			Message: uerr.Error(),
			Status:  uerr.Status,
			Details: uerr.Body,
			Err:     err,
		}
	}
	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}
