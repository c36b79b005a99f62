// Package failure classifies pipeline errors into the kinds the CLI reports:
// configuration, connectivity, transport, data and precondition failures.
package failure

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Kind names a class of failure.
type Kind string

// Failure kinds.
const (
	KindUnknown      Kind = "unknown"
	KindConfig       Kind = "config"
	KindConnectivity Kind = "connectivity"
	KindTransport    Kind = "transport"
	KindData         Kind = "data"
	KindPrecondition Kind = "precondition"
)

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind       Kind
	Err        error
	StatusCode int // HTTP status for transport failures, 0 otherwise
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap wraps err with msg and tags it with kind. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: eris.Wrap(err, msg)}
}

// Wrapf is Wrap with a format string.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: eris.Wrapf(err, format, args...)}
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: eris.New(msg)}
}

// Errorf creates a new formatted error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// Transport tags err as a transport failure with an optional HTTP status code.
func Transport(err error, statusCode int, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransport, Err: eris.Wrap(err, msg), StatusCode: statusCode}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err is a transport failure that is likely to
// succeed if the step is re-run: 408/429/5xx responses, network timeouts,
// connection resets and DNS hiccups.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var fe *Error
	if errors.As(err, &fe) && fe.Kind == KindTransport && IsTransientHTTPStatus(fe.StatusCode) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"client.timeout exceeded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether statusCode indicates a temporary
// server-side condition.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Describe renders a short "kind: message" line for logs.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", KindOf(err), err.Error())
}
