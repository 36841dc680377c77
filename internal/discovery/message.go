// Package discovery implements LAN peer discovery: a UDP broadcast
// request/response exchange framed with a fixed magic-byte prefix so this
// system's traffic is distinguishable from arbitrary broadcast noise on
// the same port.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Magic is the 6-byte prefix ("P2PLT\0") every discovery datagram carries.
var Magic = [6]byte{'P', '2', 'P', 'L', 'T', 0}

// ErrNotMagic is returned when a datagram's prefix does not match Magic;
// callers are expected to silently drop such datagrams rather than treat
// them as a protocol error.
var ErrNotMagic = errors.New("discovery: datagram missing magic prefix")

// Kind distinguishes a discovery request from its response.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Message is both DiscoveryRequest and DiscoveryResponse from the wire
// format - the two variants share an identical field set and are told
// apart only by Kind.
type Message struct {
	Kind         Kind   `json:"kind"`
	EndpointID   string `json:"endpoint_id"`
	DisplayName  string `json:"display_name"`
	TransferPort int    `json:"transfer_port"`
}

// Encode prefixes m's JSON encoding with Magic.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("discovery: encoding message: %w", err)
	}
	out := make([]byte, 0, len(Magic)+len(body))
	out = append(out, Magic[:]...)
	out = append(out, body...)
	return out, nil
}

// Decode strips and validates the magic prefix and parses the remainder as
// a Message. Any datagram shorter than the magic prefix, or whose prefix
// does not match, is rejected with ErrNotMagic and should be dropped
// silently, never treated as fatal - unrelated broadcast traffic on this
// port is expected.
func Decode(data []byte) (Message, error) {
	if len(data) < len(Magic) {
		return Message{}, ErrNotMagic
	}
	for i := range Magic {
		if data[i] != Magic[i] {
			return Message{}, ErrNotMagic
		}
	}
	var m Message
	if err := json.Unmarshal(data[len(Magic):], &m); err != nil {
		return Message{}, fmt.Errorf("discovery: decoding message: %w", err)
	}
	return m, nil
}
