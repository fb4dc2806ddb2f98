// Package config handles configuration loading for the matrix adapter.
//
// # Overview
//
// Configuration is loaded from a TOML file with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MATRIX_ADAPTER_CONFIG environment variable
//  2. ./config.toml (current directory)
//  3. ~/.config/matrix-adapter/config.toml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[matrix]
//	password_secret = "${MATRIX_PASSWORD_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	[pool]
//	ttl = "15m"
//	sweep_interval = "2s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Homeserver connection and account material:
//
//	[matrix]
//	homeserver = "https://synapse.local"
//	server_name = "matrix.local"
//	admin_email = "adapter-admin@matrix.local"
//	password_secret = "${MATRIX_PASSWORD_SECRET}"
//	allow_registration = true
//
// Session pool:
//
//	[pool]
//	capacity = 100
//	ttl = "15m"
//	sweep_interval = "2s"
//
// Room-peek circuit breaker:
//
//	[breaker]
//	failure_threshold = 5
//	initial_reset_timeout = "1s"
//	max_reset_timeout = "1m"
//
// History pagination:
//
//	[timeline]
//	batch_size = 1000
//
// HTTP API:
//
//	[api]
//	addr = ":4006"
//	jwt_secret = "${MATRIX_ADAPTER_JWT_SECRET}"
//
// Logging:
//
//	[logging]
//	level = "info"   # debug, info, warn, error
package config
