// Package relay implements the group chat relay core.
//
// A Hub owns the session registry and runs as one goroutine. The UDP
// transport submits inbound datagrams, a ticker drives the liveness sweep,
// and administrative commands (kill, shutdown, snapshots) arrive on the same
// event channel, so no two registry operations ever overlap.
//
// Outbound datagrams produced while handling an event are queued and flushed
// once the event is done. A recipient whose send fails is logged and skipped.
//
// Client protocol, one datagram per message:
//
//	#login          reserve a slot; the next datagram carries the display name
//	NAME            completes the join; the relay answers with an empty datagram
//	#logout         leave; acknowledged with #logout
//	#pong           answer to the relay's #ping
//	_who            comma-joined list of active names, sent to the asker only
//	anything else   relayed to every other member as "NAME: text"
package relay
