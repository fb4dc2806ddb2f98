// ABOUTME: Error taxonomy of the operation surface
// ABOUTME: Typed sentinels the controller maps to protocol-level failures

package adapter

import "errors"

var (
	// ErrEntityNotFound is returned when a room, user, message or
	// reaction the operation names does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrNotSupported is returned for requests outside the adapter's
	// capabilities, such as a state update naming no state.
	ErrNotSupported = errors.New("not supported")

	// ErrNotEnabled is returned for operations behind a disabled
	// feature gate.
	ErrNotEnabled = errors.New("not enabled")
)
