package codec

import "fmt"

type DecodeErrorKind string

const (
	ErrMalformedEnvelope DecodeErrorKind = "malformed_envelope"
	ErrMissingField      DecodeErrorKind = "missing_field"
	ErrInvalidAttachment DecodeErrorKind = "invalid_attachment"
	ErrUnknownEventKind  DecodeErrorKind = "unknown_event_kind"
)

// DecodeError is reported to the originating connection only and never closes
// it.
type DecodeError struct {
	Kind  DecodeErrorKind
	Field string
	cause error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Kind == ErrMissingField:
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	case e.Kind == ErrUnknownEventKind && e.Field != "":
		return fmt.Sprintf("%s: %q", e.Kind, e.Field)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	default:
		return string(e.Kind)
	}
}

func (e *DecodeError) Unwrap() error { return e.cause }
