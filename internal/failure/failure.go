// Package failure is the single error taxonomy shared by the completion
// client, the orchestrator and the transports. Callers branch on Kind, never
// on message text.
package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation       Kind = "validation"
	KindUpstream         Kind = "upstream"
	KindUpstreamProtocol Kind = "upstream_protocol"
	KindUpstreamTimeout  Kind = "upstream_timeout"
	KindInternal         Kind = "internal"
)

// Error carries the kind plus whatever diagnostics the kind has. StatusCode
// and Body are only set for KindUpstream (StatusCode is 0 when the request
// never got a response).
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Kind == KindUpstream && e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Upstream reports a non-success status from the completion service, or a
// transport failure when status is 0.
func Upstream(status int, body string, cause error) *Error {
	msg := "completion service error"
	if status == 0 {
		msg = "completion service unreachable"
	}
	return &Error{Kind: KindUpstream, Message: msg, StatusCode: status, Body: body, Err: cause}
}

func UpstreamProtocol(message string, cause error) *Error {
	return &Error{Kind: KindUpstreamProtocol, Message: message, Err: cause}
}

func UpstreamTimeout(cause error) *Error {
	return &Error{Kind: KindUpstreamTimeout, Message: "completion service timed out", Err: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for foreign errors. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// As is errors.As specialised to *Error.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func IsUpstream(err error) bool { return KindOf(err) == KindUpstream }

func IsTimeout(err error) bool { return KindOf(err) == KindUpstreamTimeout }

func IsAuthError(err error) bool {
	if fe, ok := As(err); ok && fe.Kind == KindUpstream {
		return fe.StatusCode == 401 || fe.StatusCode == 403
	}
	return false
}

func IsRateLimitError(err error) bool {
	if fe, ok := As(err); ok && fe.Kind == KindUpstream {
		return fe.StatusCode == 429
	}
	return false
}
