// Package config handles configuration loading for toolgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion, duration parsing, validation, and sensible defaults. When no
// config file exists, Default() provides a working configuration so the
// stdio transport runs on a bare machine.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/toolgate/toolgate.yaml
//  3. ~/.config/toolgate/toolgate.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	providers:
//	  homeassistant:
//	    token: "${HASS_TOKEN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	dispatch:
//	  execute_timeout: "30s"
//	  lifecycle_timeout: "10s"
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	cors:
//	  enabled: true
//	  allowed_origins: ["*"]
//	database:
//	  path: "~/.local/share/toolgate/toolgate.db"
//	providers:
//	  http:
//	    max_timeout: "60s"
//	    max_response_bytes: 1048576
//	  homeassistant:
//	    enabled: true
//	    base_url: "http://homeassistant.local:8123"
//	    token: "${HASS_TOKEN}"
//	logging:
//	  level: "info"
//	  format: "text"
package config
