// Package client implements an interactive peer for the chat relay.
//
// A session starts from a "_connect NAME HOST PORT" line. The client answers
// relay pings, prints relayed traffic and forwards typed lines. It gives up
// when no ping has arrived within the silence timeout, and always says
// goodbye with #logout.
package client
