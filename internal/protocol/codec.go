package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize is the hard cap on a single framed message, enforced
// before the body is ever allocated.
const MaxMessageSize = 64 * 1024

// ErrMessageTooLarge is returned when the declared frame length exceeds
// MaxMessageSize.
var ErrMessageTooLarge = errors.New("protocol: message exceeds 64 KiB limit")

// WriteMessage frames env as a u32 big-endian length followed by its JSON
// encoding, and writes it to w.
func WriteMessage(w io.Writer, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("protocol: encoding message: %w", err)
	}
	if len(body) > MaxMessageSize {
		return fmt.Errorf("protocol: encoded message of %d bytes exceeds limit: %w", len(body), ErrMessageTooLarge)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("protocol: writing length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: writing message body: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from r. The declared length is
// checked against MaxMessageSize before any body buffer is allocated, so a
// malicious peer cannot force an oversized allocation merely by lying
// about the length.
func ReadMessage(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, fmt.Errorf("protocol: reading length prefix: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxMessageSize {
		return Envelope{}, fmt.Errorf("protocol: declared length %d: %w", length, ErrMessageTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("protocol: reading message body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decoding message: %w", err)
	}
	return env, nil
}
