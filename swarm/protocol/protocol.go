// Package protocol defines the message envelope exchanged between
// peers. Payload values are individually CBOR-encoded so that any
// nested primitive (strings, integers, booleans, byte arrays, lists,
// maps and the block structures) round-trips without the sender and
// receiver sharing a schema for the whole payload.
package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// Message types.
const (
	TypeJoin               = "JOIN"
	TypeJoinResponse       = "JOIN_RESPONSE"
	TypePeerList           = "PEER_LIST"
	TypeFileRequest        = "FILE_REQUEST"
	TypeFileResponse       = "FILE_RESPONSE"
	TypeLedgerSync         = "LEDGER_SYNC"
	TypeLedgerSyncResponse = "LEDGER_SYNC_RESPONSE"
	TypeLedgerEntry        = "LEDGER_ENTRY"
	TypePing               = "PING"
	TypePong               = "PONG"
)

var responseExpected = map[string]bool{
	TypeJoin:        true,
	TypeFileRequest: true,
	TypeLedgerSync:  true,
	TypePing:        true,
}

// ExpectsResponse reports whether a sender of the given message type
// must read one response frame before closing the connection.
func ExpectsResponse(msgType string) bool {
	return responseExpected[msgType]
}

type Message struct {
	Type    string                     `cbor:"1,keyasint,omitempty"`
	From    string                     `cbor:"2,keyasint,omitempty"`
	Payload map[string]cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// PeerEntry is the wire form of one peer in a PEER_LIST payload.
type PeerEntry struct {
	ID   string `cbor:"1,keyasint,omitempty"`
	Host string `cbor:"2,keyasint,omitempty"`
	Port int    `cbor:"3,keyasint,omitempty"`
}

func NewMessage(msgType, from string) *Message {
	return &Message{
		Type:    msgType,
		From:    from,
		Payload: make(map[string]cbor.RawMessage),
	}
}

// Set encodes v and stores it under key.
func (m *Message) Set(key string, v any) {
	raw, err := cbor.Marshal(v)
	if err != nil {
		log.Errorf("protocol: failed to encode payload %q of %s: %v", key, m.Type, err)
		return
	}
	if m.Payload == nil {
		m.Payload = make(map[string]cbor.RawMessage)
	}
	m.Payload[key] = raw
}

// Value decodes the payload entry under key into out.
func (m *Message) Value(key string, out any) error {
	raw, ok := m.Payload[key]
	if !ok {
		return fmt.Errorf("protocol: message %s has no payload %q", m.Type, key)
	}
	return cbor.Unmarshal(raw, out)
}

// Text returns the string payload under key, or "" if absent.
func (m *Message) Text(key string) string {
	var s string
	if err := m.Value(key, &s); err != nil {
		return ""
	}
	return s
}

// Int returns the integer payload under key, or 0 if absent.
func (m *Message) Int(key string) int {
	var n int
	if err := m.Value(key, &n); err != nil {
		return 0
	}
	return n
}

// Bool returns the boolean payload under key, or false if absent.
func (m *Message) Bool(key string) bool {
	var b bool
	if err := m.Value(key, &b); err != nil {
		return false
	}
	return b
}

// Bytes returns the byte-string payload under key, or nil if absent.
func (m *Message) Bytes(key string) []byte {
	var b []byte
	if err := m.Value(key, &b); err != nil {
		return nil
	}
	return b
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{type=%s, from=%s, payload keys=%d}", m.Type, m.From, len(m.Payload))
}
