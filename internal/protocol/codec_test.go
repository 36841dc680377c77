package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestRoundTripEveryMessageKind(t *testing.T) {
	msgs := []Envelope{
		PairingRequest("AAA", "alice"),
		PairingAccepted(),
		VerificationRequired(),
		VerificationCode("4217"),
		VerificationSuccess(),
		VerificationFailed("Invalid code"),
		FileMetadata(FileDescriptor{Name: "a.bin", Size: 1024, Hash: "deadbeef"}),
		ResumeInfo(1000),
		TransferComplete(),
		Error("stream closed early"),
	}

	for _, want := range msgs {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, want); err != nil {
			t.Fatalf("WriteMessage(%v): %v", want.Type, err)
		}
		got, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("ReadMessage(%v): %v", want.Type, err)
		}
		if got.Type != want.Type {
			t.Fatalf("type mismatch: got %v want %v", got.Type, want.Type)
		}
		if got.EndpointID != want.EndpointID || got.DisplayName != want.DisplayName ||
			got.Code != want.Code || got.Message != want.Message || got.Offset != want.Offset {
			t.Fatalf("field mismatch for %v: got %+v want %+v", want.Type, got, want)
		}
		if (got.File == nil) != (want.File == nil) {
			t.Fatalf("file descriptor presence mismatch for %v", want.Type)
		}
		if got.File != nil && *got.File != *want.File {
			t.Fatalf("file descriptor mismatch: got %+v want %+v", *got.File, *want.File)
		}
	}
}

// TestOversizedFrameRejectedBeforeAllocation is scenario S5: a declared
// length of 65537 must fail fast, without the reader ever trying to read
// that many bytes from an attacker that never sends them.
func TestOversizedFrameRejectedBeforeAllocation(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 65537)
	buf.Write(lenBuf[:])
	// Deliberately do not write any body - if ReadMessage tried to read it,
	// io.ReadFull would block/EOF well before returning ErrMessageTooLarge.

	_, err := ReadMessage(&buf)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestExactlyMaxSizeIsAccepted(t *testing.T) {
	// A FileMetadata whose name padding brings the JSON body to exactly the
	// cap should still round-trip; only frames strictly greater than the
	// cap are rejected. The envelope adds 61 bytes of JSON around the name.
	padded := make([]byte, MaxMessageSize-61)
	for i := range padded {
		padded[i] = 'a'
	}
	env := FileMetadata(FileDescriptor{Name: string(padded), Size: 1})

	var buf bytes.Buffer
	if err := WriteMessage(&buf, env); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if _, err := ReadMessage(&buf); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
}
