// Package admin implements the operator console of the chat relay.
//
// The console understands two commands read from standard input:
//
//	_kill NAME   ask the named session to log out
//	_shutdown    log out every session and stop the relay
//
// Both are forwarded to the relay hub, so they are serialized with network
// traffic and the liveness sweep.
package admin
