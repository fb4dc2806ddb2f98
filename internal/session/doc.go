// Package session manages authenticated Matrix sessions for platform users.
//
// # Overview
//
// A Session wraps one authenticated protocol client for one identity and
// owns an event Router that fans the client's sync stream out to persistent
// handlers and one-shot conditional waiters. Sessions for ordinary users are
// created and destroyed exclusively by the Pool, a bounded TTL cache keyed
// by identity. The privileged admin session lives in an Elevated holder
// with mutex-guarded single initialization.
//
// # Identities
//
// Protocol identities are derived deterministically from platform email
// addresses ("john.doe@example.com" -> "@john.doe=example.com:server") and
// are reversible, so no identity mapping needs to be persisted. Passwords
// are derived from a configured secret with PBKDF2, which lets the adapter
// log back in to existing accounts after a restart without a credential
// store.
//
// # Lifecycle
//
// Pool.Acquire resolves credentials on miss (register if the username is
// free, otherwise log in), constructs the Session and optionally starts its
// sync loop. Entries carry a sliding 15 minute TTL; a background sweep
// releases expired entries and a full pool evicts the entry closest to
// expiry. Eviction does not invalidate Session references already handed
// out; operations in flight on an evicted Session run to completion.
package session
