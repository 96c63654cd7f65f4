// Package protocol implements the text wire protocol spoken between chat peers and the relay.
// It classifies datagram bodies into session control tokens or chat text and formats the
// notices the relay sends on join, departure, chat relay and directory queries.
package protocol
