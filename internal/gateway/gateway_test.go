package gateway

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/long113112113/p2p-transfer/internal/bus"
)

func dialToken(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + token + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	return conn
}

func TestUploadAcceptedFlow(t *testing.T) {
	destDir := t.TempDir()
	b := bus.New()
	gw := New("s3cr3t", destDir, b)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn := dialToken(t, srv, "s3cr3t")
	defer conn.Close()

	payload := []byte("hello from the browser upload path")
	if err := conn.WriteJSON(map[string]any{"type": "file_info", "file_name": "../../etc/passwd", "file_size": len(payload)}); err != nil {
		t.Fatalf("sending file_info: %v", err)
	}

	var req bus.Event
	select {
	case req = <-b.Events:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for UploadRequest event")
	}
	if req.Kind != bus.EventUploadRequest {
		t.Fatalf("got event %v, want UploadRequest", req.Kind)
	}
	if req.FileName != "passwd" {
		t.Fatalf("expected the traversal attempt to be sanitized to a bare name, got %q", req.FileName)
	}

	if !gw.Respond(req.RequestID, true) {
		t.Fatal("expected Respond to find the pending request")
	}

	var accepted map[string]any
	if err := conn.ReadJSON(&accepted); err != nil {
		t.Fatalf("reading accepted message: %v", err)
	}
	if accepted["type"] != "accepted" {
		t.Fatalf("got %v, want accepted", accepted)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("writing payload: %v", err)
	}

	var complete map[string]any
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("reading response: %v", err)
		}
		if msg["type"] == "complete" {
			complete = msg
			break
		}
	}

	saved, err := os.ReadFile(filepath.Join(destDir, "passwd"))
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if string(saved) != string(payload) {
		t.Fatalf("saved content %q, want %q", saved, payload)
	}
	if complete["saved_path"] != filepath.Join(destDir, "passwd") {
		t.Fatalf("unexpected saved_path %v", complete["saved_path"])
	}
}

func TestUploadRejectedFlow(t *testing.T) {
	destDir := t.TempDir()
	b := bus.New()
	gw := New("tok", destDir, b)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn := dialToken(t, srv, "tok")
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "file_info", "file_name": "report.pdf", "file_size": 10}); err != nil {
		t.Fatalf("sending file_info: %v", err)
	}

	var req bus.Event
	select {
	case req = <-b.Events:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for UploadRequest event")
	}

	gw.Respond(req.RequestID, false)

	var rejected map[string]any
	if err := conn.ReadJSON(&rejected); err != nil {
		t.Fatalf("reading rejected message: %v", err)
	}
	if rejected["type"] != "rejected" {
		t.Fatalf("got %v, want rejected", rejected)
	}

	if _, err := os.Stat(filepath.Join(destDir, "report.pdf")); err == nil {
		t.Fatal("expected no file to be written for a rejected upload")
	}
}

func TestWrongTokenIsNotFound(t *testing.T) {
	b := bus.New()
	gw := New("correct", t.TempDir(), b)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/wrong/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the wrong token to be rejected")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %v", resp)
	}
}

func TestApprovalTimeoutRejectsUpload(t *testing.T) {
	destDir := t.TempDir()
	b := bus.New()
	gw := New("tok", destDir, b)
	gw.ApprovalTimeout = 50 * time.Millisecond
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn := dialToken(t, srv, "tok")
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "file_info", "file_name": "slow.bin", "file_size": 1}); err != nil {
		t.Fatalf("sending file_info: %v", err)
	}

	var rejected map[string]any
	if err := conn.ReadJSON(&rejected); err != nil {
		t.Fatalf("reading timeout rejection: %v", err)
	}
	if rejected["type"] != "rejected" || rejected["reason"] != "request timed out" {
		t.Fatalf("got %v, want a timeout rejection", rejected)
	}
}

func TestDeclaredSizeCapsOversizedPayload(t *testing.T) {
	destDir := t.TempDir()
	b := bus.New()
	gw := New("tok", destDir, b)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn := dialToken(t, srv, "tok")
	defer conn.Close()

	declared := 5
	if err := conn.WriteJSON(map[string]any{"type": "file_info", "file_name": "oversized.bin", "file_size": declared}); err != nil {
		t.Fatalf("sending file_info: %v", err)
	}

	var req bus.Event
	select {
	case req = <-b.Events:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for UploadRequest event")
	}
	gw.Respond(req.RequestID, true)

	var accepted map[string]any
	if err := conn.ReadJSON(&accepted); err != nil {
		t.Fatalf("reading accepted message: %v", err)
	}

	oversized := []byte("this payload is much longer than the declared size")
	if err := conn.WriteMessage(websocket.BinaryMessage, oversized); err != nil {
		t.Fatalf("writing oversized payload: %v", err)
	}

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("reading response: %v", err)
		}
		if msg["type"] == "complete" {
			break
		}
	}

	saved, err := os.ReadFile(filepath.Join(destDir, "oversized.bin"))
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if len(saved) != declared {
		t.Fatalf("saved %d bytes, want exactly the declared %d", len(saved), declared)
	}
	if string(saved) != string(oversized[:declared]) {
		t.Fatal("truncated content does not match the declared-size prefix of what was sent")
	}
}

