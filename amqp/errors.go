package amqp

import (
	"errors"
	"fmt"
)

// ErrClosed is the terminal cause for every operation issued against a
// connection or channel that has finished closing, whoever initiated it.
var ErrClosed = errors.New("amqp: connection or channel already closed")

// Close-direction sentinels. Both match ErrClosed under errors.Is.
var (
	ErrClosedByClient = fmt.Errorf("%w by client", ErrClosed)
	ErrClosedByServer = fmt.Errorf("%w by server", ErrClosed)
)

// ErrDeleted reports an operation on a queue that was already deleted.
var ErrDeleted = errors.New("amqp: queue has been deleted")

// Named errors for the broker reply codes a client can receive. Compare with
// errors.Is against the error returned from an operation or carried in a
// close notification.
var (
	ErrContentTooLarge    = errors.New("amqp: content too large (311)")
	ErrNoRoute            = errors.New("amqp: no route (312)")
	ErrNoConsumers        = errors.New("amqp: no consumers (313)")
	ErrConnectionForced   = errors.New("amqp: connection forced (320)")
	ErrInvalidPath        = errors.New("amqp: invalid path (402)")
	ErrAccessRefused      = errors.New("amqp: access refused (403)")
	ErrNotFound           = errors.New("amqp: not found (404)")
	ErrResourceLocked     = errors.New("amqp: resource locked (405)")
	ErrPreconditionFailed = errors.New("amqp: precondition failed (406)")
	ErrFrame              = errors.New("amqp: frame error (501)")
	ErrSyntax             = errors.New("amqp: syntax error (502)")
	ErrCommandInvalid     = errors.New("amqp: command invalid (503)")
	ErrChannel            = errors.New("amqp: channel error (504)")
	ErrUnexpectedFrame    = errors.New("amqp: unexpected frame (505)")
	ErrResource           = errors.New("amqp: resource error (506)")
	ErrNotAllowed         = errors.New("amqp: not allowed (530)")
	ErrNotImplemented     = errors.New("amqp: not implemented (540)")
	ErrInternal           = errors.New("amqp: internal error (541)")
)

var codeErrors = map[uint16]error{
	311: ErrContentTooLarge,
	312: ErrNoRoute,
	313: ErrNoConsumers,
	320: ErrConnectionForced,
	402: ErrInvalidPath,
	403: ErrAccessRefused,
	404: ErrNotFound,
	405: ErrResourceLocked,
	406: ErrPreconditionFailed,
	501: ErrFrame,
	502: ErrSyntax,
	503: ErrCommandInvalid,
	504: ErrChannel,
	505: ErrUnexpectedFrame,
	506: ErrResource,
	530: ErrNotAllowed,
	540: ErrNotImplemented,
	541: ErrInternal,
}

// Error is a close or return notification from the broker, carrying the
// reply code and text and, when present, the method that provoked it.
type Error struct {
	Code     uint16
	Reason   string
	ClassID  uint16
	MethodID uint16
}

func (e *Error) Error() string {
	if e.ClassID != 0 || e.MethodID != 0 {
		return fmt.Sprintf("amqp: broker reported %d %q (method %d,%d)", e.Code, e.Reason, e.ClassID, e.MethodID)
	}
	return fmt.Sprintf("amqp: broker reported %d %q", e.Code, e.Reason)
}

// Is makes an *Error match its named reply-code sentinel.
func (e *Error) Is(target error) bool {
	return codeErrors[e.Code] == target
}

// ConnectionLostError reports that the transport failed underneath the
// connection, outside any close handshake. It matches ErrClosed under
// errors.Is and unwraps to the transport error when one exists.
type ConnectionLostError struct {
	Reason string
	Cause  error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("amqp: connection lost: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("amqp: connection lost: %s", e.Reason)
}

func (e *ConnectionLostError) Unwrap() error { return e.Cause }

func (e *ConnectionLostError) Is(target error) bool { return target == ErrClosed }

// serverClosed wraps the broker's close notification so both the reply-code
// sentinel and the closed-by-server sentinels match.
func serverClosed(code uint16, reason string, classID, methodID uint16) error {
	return fmt.Errorf("%w: %w", ErrClosedByServer, &Error{
		Code:     code,
		Reason:   reason,
		ClassID:  classID,
		MethodID: methodID,
	})
}
