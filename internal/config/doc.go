// Package config handles configuration loading for sonar-matrix.
//
// # Overview
//
// Configuration is loaded from a TOML file (YAML is accepted when the file
// ends in .yaml or .yml) with environment variable expansion. The package
// validates required fields and applies defaults for the rest.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SONAR_MATRIX_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/sonar-matrix/config.toml
//  3. ~/.config/sonar-matrix/config.toml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[openrouter]
//	api_key = "${OPENROUTER_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Matrix connection:
//
//	[matrix]
//	homeserver = "https://matrix.org"
//	user_id = "@fxivity:matrix.org"
//	access_token = "${MATRIX_TOKEN}"
//	device_id = ""       # set to enable end-to-end encryption
//	recovery_key = ""    # optional, enables cross-signing verification
//
// OpenRouter completion API:
//
//	[openrouter]
//	api_key = "${OPENROUTER_API_KEY}"
//	model = "perplexity/sonar-pro"
//	max_tokens = 0       # 0 = provider default
//	# temperature = 0.7  # absent = provider default; 0.0 is a valid value
//
// Bot behavior:
//
//	[bot]
//	name = "fxivity"
//	allowed_users = []   # regex patterns matched from the start of the
//	                     # sender's user ID; empty list allows everyone
//
// The bot section also accepts max_context_messages, reply_in_thread and
// system_prompt. They are reserved for future behavior and currently
// ignored.
//
// Metrics:
//
//	[metrics]
//	listen = ""          # e.g. "127.0.0.1:9090" serves /metrics
//
// Logging:
//
//	[logging]
//	level = "info"       # debug, info, warn, error
//
// # Validation
//
// Load() validates:
//
//   - Homeserver URL shape and scheme
//   - User ID shape (@localpart:server)
//   - Presence of the Matrix access token and OpenRouter API key
//   - Allow-list pattern compilation
//   - Logging level and metrics listen address values
package config
