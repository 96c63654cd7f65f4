// Package session provides the fixed-capacity session registry of the chat relay.
// Sessions live in numbered slots that are reused after release, and are correlated to
// inbound datagrams by the full peer endpoint (host and port).
package session
