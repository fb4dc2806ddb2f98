// Package adapter exposes the operations the platform invokes against the
// chat protocol.
//
// # Overview
//
// The Service composes the session pool, the elevated admin session, the
// room-peek circuit breaker, the timeline converter and the direct-room
// resolver into the command surface consumed by the controller layer:
// message and reaction operations act through the sender's pooled session,
// room administration acts through the elevated session, and room reads
// for rooms the adapter does not occupy go through the breaker-protected
// peek path.
//
// # Failure policy
//
// Credential and protocol failures propagate unchanged. Membership
// convergence (joins after invites, removals) is best-effort: eventual
// consistency makes these retried by the protocol itself, so errors are
// logged and the operation proceeds. Multi-target operations (membership
// replication, invite-to-many-rooms) continue past per-item failures and
// only fail when the work list itself cannot be established.
package adapter
