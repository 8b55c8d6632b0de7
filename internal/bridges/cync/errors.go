package cync

import "errors"

// Domain errors for the Cync bridge package.
var (
	// ErrSessionClosed is returned when an operation requires a live
	// session but the connection has been torn down.
	ErrSessionClosed = errors.New("cync: session closed")

	// ErrNotReady is returned when a control is attempted on a session
	// that has not completed the want-to-control handshake.
	ErrNotReady = errors.New("cync: session not ready to control")

	// ErrNoSessions is returned when a command has no live session to go
	// out on.
	ErrNoSessions = errors.New("cync: no connected sessions")

	// ErrFrameTooShort is returned when a buffer is too small to contain
	// the structure being decoded.
	ErrFrameTooShort = errors.New("cync: frame too short")

	// ErrFrameTooLarge is returned when a declared payload length exceeds
	// the protocol bound. Treated as desync, not as a fatal error.
	ErrFrameTooLarge = errors.New("cync: declared frame length too large")

	// ErrBadEnvelope is returned when a frame's payload does not carry
	// the structure its type byte promises.
	ErrBadEnvelope = errors.New("cync: envelope does not match packet type")

	// ErrBadInnerStruct is returned when a 0x7E-bounded struct is
	// malformed beyond use.
	ErrBadInnerStruct = errors.New("cync: malformed inner struct")

	// ErrUnknownEffect is returned when a lightshow name has no wire
	// mapping.
	ErrUnknownEffect = errors.New("cync: unknown lightshow effect")

	// ErrQueueFull is returned when the command queue cannot take more
	// work; enqueue never blocks the MQTT callback.
	ErrQueueFull = errors.New("cync: command queue full")

	// ErrQueueClosed is returned when a command arrives after shutdown
	// has begun.
	ErrQueueClosed = errors.New("cync: command queue closed")

	// ErrInvalidValue is returned when a command argument is out of its
	// wire range.
	ErrInvalidValue = errors.New("cync: value out of range")
)
