// Package netcheck sends a single STUN binding request and reports the
// server-reflexive address the STUN server saw; it backs the CLI's netcheck
// subcommand.
package netcheck

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	magicCookie = 0x2112A442

	typeBindingRequest  = 0x0001
	typeBindingResponse = 0x0101

	attrXORMappedAddress = 0x0020
	attrMappedAddress    = 0x0001

	familyIPv4 = 0x01
	familyIPv6 = 0x02
)

// DefaultServer is used when the caller has no particular STUN server in
// mind, the same public server the WAN overlay's ICE agent gathers against.
const DefaultServer = "stun.l.google.com:19302"

var errNoMappedAddress = errors.New("netcheck: response carried no (XOR-)MAPPED-ADDRESS attribute")

// Check sends one STUN binding request to server and returns the
// server-reflexive address reported in the response.
func Check(server string, timeout time.Duration) (string, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return "", fmt.Errorf("netcheck: resolving %s: %w", server, err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return "", fmt.Errorf("netcheck: opening local udp socket: %w", err)
	}
	defer conn.Close()

	var txnID [12]byte
	req := bindingRequest(txnID)
	if _, err := conn.WriteToUDP(req, udpAddr); err != nil {
		return "", fmt.Errorf("netcheck: sending binding request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("netcheck: setting read deadline: %w", err)
	}
	buf := make([]byte, 1024)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return "", fmt.Errorf("netcheck: reading response (timed out after %s?): %w", timeout, err)
	}

	return parseBindingResponse(buf[:n], txnID)
}

func bindingRequest(txnID [12]byte) []byte {
	req := make([]byte, 20)
	binary.BigEndian.PutUint16(req[0:2], typeBindingRequest)
	binary.BigEndian.PutUint16(req[2:4], 0)
	binary.BigEndian.PutUint32(req[4:8], magicCookie)
	copy(req[8:20], txnID[:])
	return req
}

// parseBindingResponse validates the STUN header and walks the TLV
// attribute list for XOR-MAPPED-ADDRESS (preferred) or the older
// MAPPED-ADDRESS, per RFC 5389 SS15.1/15.2.
func parseBindingResponse(msg []byte, txnID [12]byte) (string, error) {
	if len(msg) < 20 {
		return "", fmt.Errorf("netcheck: response too short (%d bytes)", len(msg))
	}
	if binary.BigEndian.Uint16(msg[0:2]) != typeBindingResponse {
		return "", fmt.Errorf("netcheck: not a binding success response (type 0x%04x)", binary.BigEndian.Uint16(msg[0:2]))
	}
	if binary.BigEndian.Uint32(msg[4:8]) != magicCookie {
		return "", errors.New("netcheck: response magic cookie mismatch")
	}

	attrLen := int(binary.BigEndian.Uint16(msg[2:4]))
	body := msg[20:]
	if len(body) < attrLen {
		return "", errors.New("netcheck: truncated attribute section")
	}
	body = body[:attrLen]

	var mapped, xorMapped string
	for len(body) >= 4 {
		attrType := binary.BigEndian.Uint16(body[0:2])
		attrValLen := int(binary.BigEndian.Uint16(body[2:4]))
		padded := (attrValLen + 3) &^ 3
		if len(body) < 4+padded {
			break
		}
		val := body[4 : 4+attrValLen]

		switch attrType {
		case attrXORMappedAddress:
			if addr, err := decodeXORAddress(val, txnID); err == nil {
				xorMapped = addr
			}
		case attrMappedAddress:
			if addr, err := decodePlainAddress(val); err == nil {
				mapped = addr
			}
		}
		body = body[4+padded:]
	}

	if xorMapped != "" {
		return xorMapped, nil
	}
	if mapped != "" {
		return mapped, nil
	}
	return "", errNoMappedAddress
}

func decodePlainAddress(val []byte) (string, error) {
	if len(val) < 8 {
		return "", errors.New("netcheck: MAPPED-ADDRESS too short")
	}
	family := val[1]
	port := binary.BigEndian.Uint16(val[2:4])
	switch family {
	case familyIPv4:
		ip := net.IP(val[4:8])
		return fmt.Sprintf("%s:%d", ip, port), nil
	default:
		return "", fmt.Errorf("netcheck: unsupported address family 0x%02x", family)
	}
}

func decodeXORAddress(val []byte, txnID [12]byte) (string, error) {
	if len(val) < 8 {
		return "", errors.New("netcheck: XOR-MAPPED-ADDRESS too short")
	}
	family := val[1]
	xport := binary.BigEndian.Uint16(val[2:4])
	port := xport ^ uint16(magicCookie>>16)

	switch family {
	case familyIPv4:
		var cookie [4]byte
		binary.BigEndian.PutUint32(cookie[:], magicCookie)
		ip := make(net.IP, 4)
		for i := 0; i < 4; i++ {
			ip[i] = val[4+i] ^ cookie[i]
		}
		return fmt.Sprintf("%s:%d", ip, port), nil
	case familyIPv6:
		if len(val) < 20 {
			return "", errors.New("netcheck: XOR-MAPPED-ADDRESS (v6) too short")
		}
		var xorBytes [16]byte
		binary.BigEndian.PutUint32(xorBytes[0:4], magicCookie)
		copy(xorBytes[4:16], txnID[:])
		ip := make(net.IP, 16)
		for i := 0; i < 16; i++ {
			ip[i] = val[4+i] ^ xorBytes[i]
		}
		return fmt.Sprintf("[%s]:%d", ip, port), nil
	default:
		return "", fmt.Errorf("netcheck: unsupported address family 0x%02x", family)
	}
}
