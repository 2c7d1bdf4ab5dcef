package stage

import "errors"

// Sentinel errors returned by this package. All returned errors wrap one of
// these with contextual detail; match with errors.Is.
var (
	// ErrConnection means the serial port could not be opened.
	ErrConnection = errors.New("stage: no connection")

	// ErrConfiguration means an unknown stage model, an invalid channel
	// label, or an operation on a channel with no stage bound.
	ErrConfiguration = errors.New("stage: invalid configuration")

	// ErrOutOfRange means a requested move, scan limit, or retract point
	// falls outside the active bounds. The operation is rejected and
	// controller state is unchanged.
	ErrOutOfRange = errors.New("stage: out of range")

	// ErrProtocolMismatch means a response echoed a channel other than the
	// one queried. The in-flight operation is aborted.
	ErrProtocolMismatch = errors.New("stage: protocol mismatch")

	// ErrLinkDesync means stray bytes were found on the line after a
	// command/response exchange, or a response came up short. The link
	// cannot be trusted until it is re-established.
	ErrLinkDesync = errors.New("stage: link desynchronized")

	// ErrReadTimeout means the device sent nothing back within the read
	// deadline; it may be unpowered or unplugged.
	ErrReadTimeout = errors.New("stage: read timed out")

	// ErrMotionTimeout means an encoder reset was not confirmed within the
	// deadline. Move timeouts are not errors; see MoveOutcome.
	ErrMotionTimeout = errors.New("stage: motion timed out")
)
