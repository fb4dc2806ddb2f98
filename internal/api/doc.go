// Package api exposes the adapter over HTTP with JSON bodies.
//
// The surface is platform-facing: callers address people by email and
// the handlers translate to protocol identities before delegating to the
// adapter service. When a JWT secret is configured every /api route
// requires a bearer token signed with it; health endpoints stay open.
//
// Failures map onto HTTP status codes rather than being swallowed:
// unknown entities become 404, disabled or unsupported operations 403
// and 400, an open circuit 503 with a Retry-After header, and upstream
// authentication trouble 502.
package api
