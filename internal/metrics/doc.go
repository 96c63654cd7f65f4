// Package metrics defines the Prometheus instruments of the chat relay.
package metrics
