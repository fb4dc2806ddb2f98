// Package breaker provides a three-state circuit breaker for the rate
// limited room-peek path, with exponential backoff between probes.
package breaker
