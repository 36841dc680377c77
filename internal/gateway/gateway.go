// Package gateway is the HTTPS/WebSocket upload path: a browser that never
// installed the desktop client can upload one file after a human on the
// receiving end approves it, scoped to a per-session token in the URL path.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/long113112113/p2p-transfer/internal/bus"
	"github.com/long113112113/p2p-transfer/internal/transfer"
)

const (
	// MaxConnections bounds concurrent WebSocket connections this gateway
	// will accept, independent of how many ever reach the upload dialog.
	MaxConnections = 50
	// MaxPendingUploads bounds upload requests awaiting a human decision.
	MaxPendingUploads = 10
	// MaxActiveUploads bounds uploads actively streaming bytes to disk.
	MaxActiveUploads = 5

	handshakeTimeout = 10 * time.Second
	approvalTimeout  = 60 * time.Second
	progressInterval = 100 * time.Millisecond
)

// Upgrader allows all origins: the token in the URL path is the gateway's
// only access control, same as PeernetOfficial's WSUpgrader for its own
// unauthenticated streaming endpoints.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: handshakeTimeout,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

type fileInfoMessage struct {
	Type     string `json:"type"`
	FileName string `json:"file_name"`
	FileSize uint64 `json:"file_size"`
}

type serverMessage struct {
	Type          string `json:"type"`
	RequestID     string `json:"request_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Message       string `json:"message,omitempty"`
	ReceivedBytes uint64 `json:"received_bytes,omitempty"`
	SavedPath     string `json:"saved_path,omitempty"`
}

// Gateway serves a single token-scoped upload endpoint.
type Gateway struct {
	Token   string
	DestDir string
	Bus     *bus.Bus

	// ApprovalTimeout overrides approvalTimeout; zero means use the default.
	ApprovalTimeout time.Duration

	decisions *bus.Waiters[bool]

	connections atomic.Int32
	pending     atomic.Int32
	active      atomic.Int32
}

// New constructs a Gateway for one upload session. Token must be unguessable
// (the caller mints it, typically alongside the ngrok tunnel URL it rides on).
func New(token, destDir string, b *bus.Bus) *Gateway {
	return &Gateway{Token: token, DestDir: destDir, Bus: b, decisions: bus.NewWaiters[bool]()}
}

func (g *Gateway) approvalTimeout() time.Duration {
	if g.ApprovalTimeout > 0 {
		return g.ApprovalTimeout
	}
	return approvalTimeout
}

// Respond delivers a human decision for a pending upload request_id, as
// issued through bus.Command{Kind: CommandRespondUploadRequest}. It reports
// whether anything was actually waiting on it.
func (g *Gateway) Respond(requestID string, accept bool) bool {
	return g.decisions.Deliver(requestID, accept)
}

// Handler returns the mux serving GET /{token}/ws, matched against the
// actual Gateway.Token rather than the mux pattern alone so a timing leak
// in routing can't be used to guess it.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{token}/ws", g.handleWS)
	return mux
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.PathValue("token")), []byte(g.Token)) != 1 {
		http.NotFound(w, r)
		return
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// gorilla already wrote the error response.
		return
	}
	defer conn.Close()

	if g.connections.Add(1) > MaxConnections {
		g.connections.Add(-1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("Too many concurrent connections"))
		return
	}
	defer g.connections.Add(-1)

	clientIP := r.RemoteAddr
	if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		clientIP = host
	}

	g.serve(conn, clientIP)
}

type wsFrame struct {
	data []byte
	err  error
}

// serve runs the entire connection lifecycle against one background reader
// pump: everything downstream (the approval wait, the chunk loop) consumes
// from the same frames channel instead of calling conn.ReadMessage
// directly, so an early disconnect is visible wherever the connection
// currently is waiting.
func (g *Gateway) serve(conn *websocket.Conn, clientIP string) {
	frames := make(chan wsFrame, 4)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			frames <- wsFrame{data: data, err: err}
			if err != nil {
				return
			}
		}
	}()

	var first wsFrame
	select {
	case first = <-frames:
	case <-time.After(handshakeTimeout):
		_ = conn.WriteJSON(serverMessage{Type: "error", Message: "timed out waiting for file_info"})
		return
	}
	if first.err != nil {
		return
	}
	var info fileInfoMessage
	if err := json.Unmarshal(first.data, &info); err != nil || info.Type != "file_info" {
		_ = conn.WriteJSON(serverMessage{Type: "error", Message: "expected file_info message"})
		return
	}
	if err := transfer.ValidateFileInfo(info.FileName, info.FileSize); err != nil {
		_ = conn.WriteJSON(serverMessage{Type: "error", Message: err.Error()})
		return
	}

	name := transfer.SanitizeName(info.FileName)
	requestID := uuid.NewString()[:8]

	if g.pending.Add(1) > MaxPendingUploads {
		g.pending.Add(-1)
		_ = conn.WriteJSON(serverMessage{Type: "rejected", Reason: "too many pending uploads"})
		return
	}
	decisionCh := g.decisions.Register(requestID)
	g.Bus.Emit(bus.Event{Kind: bus.EventUploadRequest, RequestID: requestID, FileName: name, DeclaredSize: info.FileSize, SourceIP: clientIP})

	accepted, ok := g.awaitDecision(frames, decisionCh, requestID, conn)
	g.pending.Add(-1)
	if !ok {
		return
	}
	if !accepted {
		_ = conn.WriteJSON(serverMessage{Type: "rejected", Reason: "user rejected the upload"})
		return
	}

	if g.active.Add(1) > MaxActiveUploads {
		g.active.Add(-1)
		_ = conn.WriteJSON(serverMessage{Type: "rejected", Reason: "too many active uploads"})
		return
	}
	defer g.active.Add(-1)

	_ = conn.WriteJSON(serverMessage{Type: "accepted", RequestID: requestID})
	g.receiveUpload(frames, conn, requestID, name, info.FileSize)
}

func (g *Gateway) awaitDecision(frames <-chan wsFrame, decisions <-chan bool, requestID string, conn *websocket.Conn) (accepted, ok bool) {
	timeout := time.NewTimer(g.approvalTimeout())
	defer timeout.Stop()
	for {
		select {
		case accepted := <-decisions:
			return accepted, true
		case fr := <-frames:
			// A close frame or read error means the client gave up; any
			// other frame arriving before the decision is discarded.
			if fr.err == nil {
				continue
			}
			g.decisions.Cancel(requestID)
			g.Bus.Emit(bus.Event{Kind: bus.EventUploadRequestCancelled, RequestID: requestID})
			return false, false
		case <-timeout.C:
			g.decisions.Cancel(requestID)
			_ = conn.WriteJSON(serverMessage{Type: "rejected", Reason: "request timed out"})
			g.Bus.Emit(bus.Event{Kind: bus.EventUploadRequestCancelled, RequestID: requestID})
			return false, false
		}
	}
}

func (g *Gateway) receiveUpload(frames <-chan wsFrame, conn *websocket.Conn, requestID, name string, declaredSize uint64) {
	if err := os.MkdirAll(g.DestDir, 0o755); err != nil {
		_ = conn.WriteJSON(serverMessage{Type: "error", Message: fmt.Sprintf("cannot create download dir: %v", err)})
		return
	}
	path := filepath.Join(g.DestDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		_ = conn.WriteJSON(serverMessage{Type: "error", Message: fmt.Sprintf("cannot create file: %v", err)})
		return
	}
	defer f.Close()

	var received uint64
	lastReport := time.Time{}

	for received < declaredSize {
		fr := <-frames
		if fr.err != nil {
			g.Bus.Emit(bus.Event{Kind: bus.EventUploadRequestCancelled, RequestID: requestID})
			return
		}

		n := len(fr.data)
		// Never write past the size the client itself declared, even if a
		// misbehaving or malicious client sends more.
		if remaining := declaredSize - received; uint64(n) > remaining {
			n = int(remaining)
		}
		if n > 0 {
			if _, werr := f.Write(fr.data[:n]); werr != nil {
				_ = conn.WriteJSON(serverMessage{Type: "error", Message: fmt.Sprintf("write error: %v", werr)})
				return
			}
			received += uint64(n)
		}

		if time.Since(lastReport) >= progressInterval || received >= declaredSize {
			_ = conn.WriteJSON(serverMessage{Type: "progress", ReceivedBytes: received})
			g.Bus.Emit(bus.Event{Kind: bus.EventUploadProgress, RequestID: requestID, ReceivedBytes: received, DeclaredSize: declaredSize})
			lastReport = time.Now()
		}
	}

	_ = conn.WriteJSON(serverMessage{Type: "complete", SavedPath: path})
	g.Bus.Emit(bus.Event{Kind: bus.EventUploadCompleted, RequestID: requestID, FileName: name, SavedPath: path})
}
