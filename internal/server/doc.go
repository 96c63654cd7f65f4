// Package server implements the relay's UDP endpoint and its HTTP admin API.
//
// UDPServer hands every inbound datagram to the relay hub and carries the
// hub's outbound datagrams. HTTPServer exposes session state and Prometheus
// metrics to operators.
package server
