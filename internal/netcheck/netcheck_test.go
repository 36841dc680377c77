package netcheck

import (
	"encoding/binary"
	"testing"
)

func buildXORMappedResponse(txnID [12]byte, ip [4]byte, port uint16) []byte {
	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], magicCookie)

	xport := port ^ uint16(magicCookie>>16)
	var xip [4]byte
	for i := range ip {
		xip[i] = ip[i] ^ cookie[i]
	}

	attr := make([]byte, 8)
	attr[1] = familyIPv4
	binary.BigEndian.PutUint16(attr[2:4], xport)
	copy(attr[4:8], xip[:])

	header := make([]byte, 20)
	binary.BigEndian.PutUint16(header[0:2], typeBindingResponse)
	binary.BigEndian.PutUint16(header[2:4], uint16(4+len(attr)))
	binary.BigEndian.PutUint32(header[4:8], magicCookie)
	copy(header[8:20], txnID[:])

	attrHeader := make([]byte, 4)
	binary.BigEndian.PutUint16(attrHeader[0:2], attrXORMappedAddress)
	binary.BigEndian.PutUint16(attrHeader[2:4], uint16(len(attr)))

	return append(header, append(attrHeader, attr...)...)
}

func TestParseBindingResponseDecodesXORMappedAddress(t *testing.T) {
	var txnID [12]byte
	copy(txnID[:], []byte("abcdefghijkl"))

	msg := buildXORMappedResponse(txnID, [4]byte{203, 0, 113, 42}, 51820)

	addr, err := parseBindingResponse(msg, txnID)
	if err != nil {
		t.Fatalf("parseBindingResponse: %v", err)
	}
	if addr != "203.0.113.42:51820" {
		t.Fatalf("got %q, want 203.0.113.42:51820", addr)
	}
}

func TestParseBindingResponseRejectsWrongCookie(t *testing.T) {
	var txnID [12]byte
	msg := buildXORMappedResponse(txnID, [4]byte{1, 2, 3, 4}, 1)
	binary.BigEndian.PutUint32(msg[4:8], 0xdeadbeef)

	if _, err := parseBindingResponse(msg, txnID); err == nil {
		t.Fatal("expected an error for a mismatched magic cookie")
	}
}

func TestParseBindingResponseRejectsTruncatedMessage(t *testing.T) {
	if _, err := parseBindingResponse([]byte{0x01, 0x01}, [12]byte{}); err == nil {
		t.Fatal("expected an error for a too-short message")
	}
}
