package upstream

import (
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	// KindStatus: the provider answered with a non-2xx status.
	KindStatus ErrorKind = iota + 1
	// KindTransport: no usable HTTP response (dial, TLS, timeout, body read).
	KindTransport
	// KindDecode: a 2xx body that is not valid JSON.
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned by every failed call. Err is nil for KindStatus.
type Error struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("Google API returned %d", e.Status)
	case KindDecode:
		return "invalid JSON from upstream: " + e.Err.Error()
	default:
		if e.Err == nil {
			return http.StatusText(http.StatusBadGateway)
		}
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }
