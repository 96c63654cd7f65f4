package protocol

import (
	"fmt"
	"strings"
)

// Wire tokens. A datagram carries exactly one token or one line of chat text.
const (
	TokenLogin  = "#login"
	TokenLogout = "#logout"
	TokenPing   = "#ping"
	TokenPong   = "#pong"
	TokenClosed = "#closed"

	// TokenWho asks the relay for the comma-joined list of active display names
	TokenWho = "_who"
)

// Size limits
const (
	MaxDatagram   = 600 // largest payload the relay reads or writes
	MaxNameLength = 99  // longest accepted display name in bytes
)

// Kind classifies an inbound or outbound datagram body
type Kind uint8

const (
	KindChat Kind = iota
	KindLogin
	KindLogout
	KindPing
	KindPong
	KindClosed
	KindWho
)

// String returns the token for control kinds and "chat" for free text
func (k Kind) String() string {
	switch k {
	case KindLogin:
		return TokenLogin
	case KindLogout:
		return TokenLogout
	case KindPing:
		return TokenPing
	case KindPong:
		return TokenPong
	case KindClosed:
		return TokenClosed
	case KindWho:
		return TokenWho
	case KindChat:
		return "chat"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// IsControl reports whether the kind is one of the session control tokens
func (k Kind) IsControl() bool {
	return k != KindChat
}

// Trim strips the line terminator a console may have left on a datagram
func Trim(payload []byte) string {
	return strings.TrimRight(string(payload), "\r\n")
}

// Classify returns the kind of a datagram body. Control tokens match exactly
// after the trailing line terminator is removed; anything else is chat.
func Classify(payload []byte) Kind {
	switch Trim(payload) {
	case TokenLogin:
		return KindLogin
	case TokenLogout:
		return KindLogout
	case TokenPing:
		return KindPing
	case TokenPong:
		return KindPong
	case TokenClosed:
		return KindClosed
	case TokenWho:
		return KindWho
	default:
		return KindChat
	}
}

// ValidateName checks a display name received during a join
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("display name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("display name too long: %d bytes (maximum %d)", len(name), MaxNameLength)
	}

	if Classify([]byte(name)).IsControl() {
		return fmt.Errorf("display name cannot be a control token: %q", name)
	}

	return nil
}

// JoinNotice is sent to every other session when a peer completes its join
func JoinNotice(name string) string {
	return name + " is added to the group"
}

// DepartureNotice is sent to the remaining sessions when a session is released
func DepartureNotice(name string) string {
	return name + " logged out"
}

// ChatLine prefixes relayed text with the author's display name
func ChatLine(name, text string) string {
	return name + ": " + text
}

// Directory joins active display names for a directory query reply
func Directory(names []string) string {
	return strings.Join(names, ", ")
}

// Truncate clips an outbound body to MaxDatagram bytes
func Truncate(body string) string {
	if len(body) <= MaxDatagram {
		return body
	}
	return body[:MaxDatagram]
}
