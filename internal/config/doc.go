// Package config provides configuration loading and validation for the UDP chat relay.
// It handles YAML-based configuration decoded on top of built-in defaults, with
// per-section validation of the transport, keepalive schedule, HTTP API and logging.
package config
