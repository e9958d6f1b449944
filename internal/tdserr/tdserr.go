// Package tdserr provides the structured error type every fallible
// operation in this module returns.
package tdserr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ha1tch/tdsclient/internal/tdslog"
)

// Kind classifies the failure per the taxonomy: Transport, Protocol,
// Authentication, Server, Unsupported, Timeout, State.
type Kind int

const (
	KindTransport Kind = iota
	KindProtocol
	KindAuthentication
	KindServer
	KindUnsupported
	KindTimeout
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindAuthentication:
		return "authentication"
	case KindServer:
		return "server"
	case KindUnsupported:
		return "unsupported"
	case KindTimeout:
		return "timeout"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Code is a numeric error code, continuing the 2xxx connection/protocol
// range with dedicated sub-ranges for this module's layers.
type Code int

const (
	// Handshake / authentication (2000-2399, shared with the donor's
	// original connection-error range)
	ErrCodeConnectionFailed  Code = 2001
	ErrCodeConnectionClosed  Code = 2002
	ErrCodeConnectionTimeout Code = 2003
	ErrCodeProtocolError     Code = 2004
	ErrCodeHandshakeFailed   Code = 2005
	ErrCodeAuthFailed        Code = 2006
	ErrCodeTLSError          Code = 2007
	ErrCodeRoutingLoop       Code = 2008
	ErrCodeFedAuthRejected   Code = 2009

	// Token stream / codec (2400-2499)
	ErrCodeTokenMalformed Code = 2401
	ErrCodeUnsupportedType Code = 2402
	ErrCodeServerError    Code = 2403

	// Pool (2700-2799)
	ErrCodePoolExhausted   Code = 2701
	ErrCodeAcquireTimeout  Code = 2702
	ErrCodePoolClosed      Code = 2703

	// State misuse (2800-2899)
	ErrCodeInvalidState Code = 2801

	// Bulk load (2900-2999)
	ErrCodeBCPRowCountMismatch Code = 2901

	// Azure federated-auth token provider (3000-3099)
	ErrCodeTokenProviderFailed Code = 3001
	ErrCodeTokenCacheInvalid   Code = 3002

	// Client pool registry (3100-3199)
	ErrCodeContextNotFound Code = 3101
	ErrCodeContextExists   Code = 3102
)

func (c Code) String() string { return fmt.Sprintf("E%04d", c) }

// Severity mirrors the donor package's four-level scheme.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the structured error returned by every exported operation.
type Error struct {
	Kind     Kind
	Code     Code
	Severity Severity
	Layer    tdslog.Layer
	Message  string
	Cause    error
	Fields   map[string]interface{}

	// Server-originated detail, populated for KindServer errors built
	// from an ERROR or INFO token.
	ServerNumber int32
	ServerState  uint8
	ServerClass  uint8
	ProcName     string
	LineNumber   int32
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code.String())
	b.WriteString(" [")
	b.WriteString(e.Kind.String())
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// WithField attaches a context field and returns the receiver.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// IsFatal reports whether the severity requires tearing down the
// connection that produced it (spec taxonomy: Transport/Protocol/
// Authentication are always fatal; Server is fatal only at class>=20).
func (e *Error) IsFatal() bool {
	return e.Severity >= SeverityCritical
}

// New builds a new Error.
func New(kind Kind, code Code, layer tdslog.Layer, msg string) *Error {
	sev := SeverityError
	switch kind {
	case KindTransport, KindProtocol, KindAuthentication:
		sev = SeverityCritical
	case KindServer:
		sev = SeverityWarning
	}
	return &Error{Kind: kind, Code: code, Severity: sev, Layer: layer, Message: msg}
}

// Newf builds a new Error with a formatted message.
func Newf(kind Kind, code Code, layer tdslog.Layer, format string, args ...interface{}) *Error {
	return New(kind, code, layer, fmt.Sprintf(format, args...))
}

// Wrap builds a new Error around a cause.
func Wrap(cause error, kind Kind, code Code, layer tdslog.Layer, msg string) *Error {
	e := New(kind, code, layer, msg)
	e.Cause = cause
	return e
}

// Server builds a KindServer error from an ERROR/INFO token. Severity is
// Critical (fatal) when class >= 20 per spec, Warning otherwise — the
// caller decides whether to raise it or accumulate it as a warning.
func Server(number int32, state, class uint8, msg, procName string, line int32) *Error {
	e := &Error{
		Kind:         KindServer,
		Code:         ErrCodeServerError,
		Layer:        tdslog.LayerToken,
		Message:      msg,
		ServerNumber: number,
		ServerState:  state,
		ServerClass:  class,
		ProcName:     procName,
		LineNumber:   line,
	}
	if class >= 20 {
		e.Severity = SeverityCritical
	} else {
		e.Severity = SeverityWarning
	}
	return e
}

// As reports whether err (or anything it wraps) is a *Error, populating
// target like errors.As.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// Is delegates to errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }
