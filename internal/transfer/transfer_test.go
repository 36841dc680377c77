package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/long113112113/p2p-transfer/internal/bus"
	"github.com/long113112113/p2p-transfer/internal/identity"
	"github.com/long113112113/p2p-transfer/internal/protocol"
)

func randomFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("generating random data: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestSendReceiveRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := randomFile(t, srcDir, "payload.bin", ChunkSize+12345)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sendBus := bus.New()
	recvBus := bus.New()

	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- Send(context.Background(), clientConn, srcPath, sendBus)
	}()

	meta, err := protocol.ReadMessage(serverConn)
	if err != nil {
		t.Fatalf("reading FileMetadata: %v", err)
	}
	if meta.Type != protocol.TypeFileMetadata || meta.File == nil {
		t.Fatalf("got %v, want FileMetadata", meta.Type)
	}

	recvErrCh := make(chan error, 1)
	go func() {
		recvErrCh <- Receive(context.Background(), serverConn, *meta.File, dstDir, recvBus)
	}()

	if err := <-sendErrCh; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := <-recvErrCh; err != nil {
		t.Fatalf("Receive: %v", err)
	}

	want, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatalf("reading source: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dstDir, "payload.bin"))
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(want, got) {
		t.Fatal("received content does not match source content")
	}
}

func TestReceiveResumesFromPartialFile(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := randomFile(t, srcDir, "resume.bin", 300_000)

	full, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatalf("reading source: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dstDir, "resume.bin"), full[:100_000], 0o600); err != nil {
		t.Fatalf("seeding partial destination: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sendBus := bus.New()
	recvBus := bus.New()

	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- Send(context.Background(), clientConn, srcPath, sendBus)
	}()

	meta, err := protocol.ReadMessage(serverConn)
	if err != nil {
		t.Fatalf("reading FileMetadata: %v", err)
	}

	recvErrCh := make(chan error, 1)
	go func() {
		recvErrCh <- Receive(context.Background(), serverConn, *meta.File, dstDir, recvBus)
	}()

	if err := <-sendErrCh; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := <-recvErrCh; err != nil {
		t.Fatalf("Receive: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "resume.bin"))
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(full, got) {
		t.Fatal("resumed file content does not match source")
	}
}

func TestReceiveRejectsTruncatedStream(t *testing.T) {
	dstDir := t.TempDir()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	desc := protocol.FileDescriptor{Name: "short.bin", Size: 1000, Hash: ""}
	b := bus.New()

	recvErrCh := make(chan error, 1)
	go func() {
		recvErrCh <- Receive(context.Background(), serverConn, desc, dstDir, b)
	}()

	if _, err := protocol.ReadMessage(clientConn); err != nil {
		t.Fatalf("reading ResumeInfo: %v", err)
	}
	if _, err := clientConn.Write(make([]byte, 10)); err != nil {
		t.Fatalf("writing partial body: %v", err)
	}
	clientConn.Close() // simulate the peer vanishing mid-transfer

	if err := <-recvErrCh; err == nil {
		t.Fatal("expected Receive to report an error for a truncated stream")
	}
}

func TestHandleIncomingRejectsUnpairedFileMetadata(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	store := identity.NewStore(t.TempDir())
	b := bus.New()

	errCh := make(chan error, 1)
	go func() {
		errCh <- HandleIncoming(context.Background(), serverConn, store, b, t.TempDir(), time.Second)
	}()

	desc := protocol.FileDescriptor{Name: "sneaky.bin", Size: 1}
	if err := protocol.WriteMessage(clientConn, protocol.FileMetadata(desc)); err != nil {
		t.Fatalf("sending FileMetadata: %v", err)
	}

	resp, err := protocol.ReadMessage(clientConn)
	if err != nil {
		t.Fatalf("reading rejection: %v", err)
	}
	if resp.Type != protocol.TypeError || resp.Message != "unauthenticated" {
		t.Fatalf("got %+v, want Error{unauthenticated}", resp)
	}

	if err := <-errCh; err == nil {
		t.Fatal("expected HandleIncoming to return an error for an unpaired transfer attempt")
	}
}
