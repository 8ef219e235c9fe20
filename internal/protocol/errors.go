package protocol

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrorKind represents the category of a protocol failure
type ErrorKind int

const (
	// ErrKindTransport covers socket create/bind/send/receive failures, including timeouts
	ErrKindTransport ErrorKind = iota
	// ErrKindFraming covers malformed base64, ciphertext, padding or JSON
	ErrKindFraming
	// ErrKindHandshake covers a failed or malformed discovery/bind step
	ErrKindHandshake
	// ErrKindProtocol covers well-formed but unusable responses (missing keys, wrong shape)
	ErrKindProtocol
)

// String returns a human-readable name for the error kind
func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransport:
		return "Transport Error"
	case ErrKindFraming:
		return "Framing Error"
	case ErrKindHandshake:
		return "Handshake Error"
	case ErrKindProtocol:
		return "Protocol Error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error is the single error type produced by the protocol stack.
// Op names the step that failed (e.g. "scan", "bind", "status", "decode").
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a receive timeout
func (e *Error) Timeout() bool {
	return e.Kind == ErrKindTransport && e.Err != nil && os.IsTimeout(e.Err)
}

// NewTransportError creates a transport-level error
func NewTransportError(op, message string, err error) *Error {
	return &Error{Kind: ErrKindTransport, Op: op, Message: message, Err: err}
}

// NewFramingError creates a framing error
func NewFramingError(message string, err error) *Error {
	return &Error{Kind: ErrKindFraming, Op: "decode", Message: message, Err: err}
}

// NewHandshakeError creates a handshake error for the given step
func NewHandshakeError(op, message string, err error) *Error {
	return &Error{Kind: ErrKindHandshake, Op: op, Message: message, Err: err}
}

// NewProtocolError creates a protocol error
func NewProtocolError(op, message string, err error) *Error {
	return &Error{Kind: ErrKindProtocol, Op: op, Message: message, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsTransportError checks if an error is a transport error
func IsTransportError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrKindTransport
}

// IsFramingError checks if an error is a framing error
func IsFramingError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrKindFraming
}

// IsHandshakeError checks if an error is a handshake error
func IsHandshakeError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrKindHandshake
}

// IsProtocolError checks if an error is a protocol error
func IsProtocolError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrKindProtocol
}

// ShortMessage returns a concise, user-friendly error message
func ShortMessage(err error) string {
	var pe *Error
	if !errors.As(err, &pe) {
		return err.Error()
	}

	switch pe.Kind {
	case ErrKindTransport:
		if pe.Timeout() {
			return "Heat pump not responding (timeout)"
		}
		return "Network error - check connection"
	case ErrKindFraming:
		return "Could not decrypt device reply"
	case ErrKindHandshake:
		return "Could not bind to heat pump"
	case ErrKindProtocol:
		return "Unexpected reply from heat pump"
	default:
		return pe.Message
	}
}

// TroubleshootingHint returns user-facing advice for an error
func TroubleshootingHint(err error) string {
	var pe *Error
	if !errors.As(err, &pe) {
		return "An unexpected error occurred. Please try again."
	}

	switch pe.Kind {
	case ErrKindTransport:
		return strings.Join([]string{
			"The heat pump did not answer.",
			"Troubleshooting:",
			"  • Check that the heat pump WiFi module is powered and joined to your network",
			"  • Verify the IP address (a DHCP reservation is recommended)",
			fmt.Sprintf("  • Make sure nothing else on this host is bound to UDP port %d", DefaultPort),
		}, "\n")
	case ErrKindFraming:
		return strings.Join([]string{
			"A reply could not be decrypted.",
			"Troubleshooting:",
			"  • Another controller may have re-bound the device; retry to bind again",
			"  • The device firmware may use a different protocol key",
		}, "\n")
	case ErrKindHandshake:
		return strings.Join([]string{
			"Discovery or binding failed.",
			"Troubleshooting:",
			"  • Power-cycle the heat pump WiFi module",
			"  • Confirm the device answers scans from the vendor app",
		}, "\n")
	case ErrKindProtocol:
		return "The device replied with an unexpected message shape. Run with --log-level debug and report the dump."
	default:
		return "An error occurred. Please check the error message for details."
	}
}
