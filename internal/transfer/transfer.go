// Package transfer implements the file transfer engine: hashing, resume
// negotiation, and the raw (unframed) chunked body stream that follows a
// FileMetadata/ResumeInfo exchange.
package transfer

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/long113112113/p2p-transfer/internal/bus"
	"github.com/long113112113/p2p-transfer/internal/protocol"
	"lukechampine.com/blake3"
)

// ChunkSize is the buffer size used for both sending and receiving; it has
// no on-wire framing of its own, since the body is a raw byte stream
// delimited only by the declared file size.
const ChunkSize = 16 * 1024 * 1024

// MaxFileNameLength and MaxFileSize bound a declared FileDescriptor/
// fileInfoMessage before either the stream engine or the upload gateway
// acts on it; a peer or browser declaring past either limit is refused
// with an Error instead of being trusted.
const (
	MaxFileNameLength = 255
	MaxFileSize       = 10 * 1024 * 1024 * 1024 // 10 GiB
)

// completionTimeout bounds how long the sender waits for the receiver's
// TransferComplete acknowledgement once the body has been written.
// LAN and WAN streams share this bound identically.
const completionTimeout = 30 * time.Second

// progressInterval throttles the sender's TransferProgress events to
// something a UI can actually render, rather than one per chunk. The
// receiver reports once per ChunkSize bytes received instead.
const progressInterval = 200 * time.Millisecond

// Stream is the minimal capability the engine needs from the underlying
// transport stream.
type Stream interface {
	io.Reader
	io.Writer
}

func hashReader(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("transfer: hashing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateFileInfo rejects a declared name/size before either side commits
// any disk or stream work to it: name must be non-empty once directory
// components are stripped and no longer than MaxFileNameLength bytes, size
// must not exceed MaxFileSize. Shared by the stream receiver and the
// upload gateway, both of which otherwise trust an attacker-controlled
// FileDescriptor/fileInfoMessage.
func ValidateFileInfo(name string, size uint64) error {
	base := filepath.Base(filepath.Clean(name))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return fmt.Errorf("file name is empty once directory components are stripped")
	}
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("file name exceeds %d characters", MaxFileNameLength)
	}
	if size > MaxFileSize {
		return fmt.Errorf("file size %d bytes exceeds the %d byte limit", size, MaxFileSize)
	}
	return nil
}

// SanitizeName strips any path components from a peer-declared file name,
// since it is attacker-controlled and must never be used to escape the
// receive directory. Shared by the stream receiver and the upload gateway.
func SanitizeName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == ".." || name == "" || name == string(filepath.Separator) {
		return "unknown_file.bin"
	}
	return strings.TrimPrefix(name, string(filepath.Separator))
}

// Send streams path to s after negotiating resume with the receiver and
// emits TransferProgress/TransferCompleted bus events along the way. The
// caller is responsible for having already completed pairing (or having
// confirmed the peer is already paired) on this stream.
func Send(ctx context.Context, s Stream, path string, b *bus.Bus) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("transfer: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("transfer: stat %s: %w", path, err)
	}
	size := uint64(info.Size())

	hash, err := hashReader(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("transfer: rewinding %s: %w", path, err)
	}

	desc := protocol.FileDescriptor{Name: filepath.Base(path), Size: size, Hash: hash}
	if err := protocol.WriteMessage(s, protocol.FileMetadata(desc)); err != nil {
		return fmt.Errorf("transfer: sending FileMetadata: %w", err)
	}

	resp, err := protocol.ReadMessage(s)
	if err != nil {
		return fmt.Errorf("transfer: awaiting ResumeInfo: %w", err)
	}
	switch resp.Type {
	case protocol.TypeResumeInfo:
	case protocol.TypeError:
		return fmt.Errorf("transfer: receiver rejected transfer: %s", resp.Message)
	default:
		return fmt.Errorf("transfer: expected ResumeInfo, got %s", resp.Type)
	}
	offset := resp.Offset
	if offset > size {
		return fmt.Errorf("transfer: receiver reported resume offset %d beyond file size %d", offset, size)
	}
	if offset > 0 {
		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
			return fmt.Errorf("transfer: seeking to resume offset: %w", err)
		}
	}

	sent := offset
	buf := make([]byte, ChunkSize)
	lastReport := time.Time{}
	sessionStart := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				return fmt.Errorf("transfer: writing body: %w", werr)
			}
			sent += uint64(n)
			if time.Since(lastReport) >= progressInterval || sent == size {
				percent := 100.0
				if size > 0 {
					percent = float64(sent) / float64(size) * 100
				}
				speed := float64(sent-offset) / time.Since(sessionStart).Seconds()
				b.Emit(bus.Event{Kind: bus.EventTransferProgress, FileName: desc.Name, Percent: percent, SpeedBps: speed, Direction: "send"})
				lastReport = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("transfer: reading %s: %w", path, rerr)
		}
	}

	envCh := make(chan protocol.Envelope, 1)
	errCh := make(chan error, 1)
	go func() {
		env, err := protocol.ReadMessage(s)
		if err != nil {
			errCh <- err
			return
		}
		envCh <- env
	}()

	select {
	case env := <-envCh:
		if env.Type != protocol.TypeTransferComplete {
			return fmt.Errorf("transfer: expected TransferComplete, got %s", env.Type)
		}
	case err := <-errCh:
		return fmt.Errorf("transfer: awaiting TransferComplete: %w", err)
	case <-time.After(completionTimeout):
		return fmt.Errorf("transfer: timed out waiting for TransferComplete")
	case <-ctx.Done():
		return ctx.Err()
	}

	b.Emit(bus.Event{Kind: bus.EventTransferCompleted, FileName: desc.Name, Success: true})
	return nil
}

// Receive negotiates resume against an already-received FileDescriptor,
// streams the body into destDir, verifies its BLAKE3 hash, and replies with
// TransferComplete.
func Receive(ctx context.Context, s Stream, desc protocol.FileDescriptor, destDir string, b *bus.Bus) error {
	if err := ValidateFileInfo(desc.Name, desc.Size); err != nil {
		_ = protocol.WriteMessage(s, protocol.Error(err.Error()))
		return fmt.Errorf("transfer: rejecting file info: %w", err)
	}

	name := SanitizeName(desc.Name)
	destPath := filepath.Join(destDir, name)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		_ = protocol.WriteMessage(s, protocol.Error("cannot create download directory"))
		return fmt.Errorf("transfer: creating %s: %w", destDir, err)
	}

	var offset uint64
	if info, err := os.Stat(destPath); err == nil && uint64(info.Size()) <= desc.Size {
		offset = uint64(info.Size())
	}

	if err := protocol.WriteMessage(s, protocol.ResumeInfo(offset)); err != nil {
		return fmt.Errorf("transfer: sending ResumeInfo: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(destPath, flags, 0o600)
	if err != nil {
		return fmt.Errorf("transfer: opening %s: %w", destPath, err)
	}
	defer f.Close()

	hasher := blake3.New(32, nil)
	if offset > 0 {
		existing, err := os.Open(destPath)
		if err != nil {
			return fmt.Errorf("transfer: re-reading partial file: %w", err)
		}
		_, err = io.Copy(hasher, io.LimitReader(existing, int64(offset)))
		existing.Close()
		if err != nil {
			return fmt.Errorf("transfer: rehashing partial file: %w", err)
		}
	}

	remaining := desc.Size - offset
	received := offset
	buf := make([]byte, ChunkSize)
	reportedAt := offset

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		readSize := uint64(len(buf))
		if readSize > remaining {
			readSize = remaining
		}
		n, rerr := s.Read(buf[:readSize])
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("transfer: writing %s: %w", destPath, werr)
			}
			hasher.Write(buf[:n])
			received += uint64(n)
			remaining -= uint64(n)
			if received-reportedAt >= ChunkSize || remaining == 0 {
				percent := 100.0
				if desc.Size > 0 {
					percent = float64(received) / float64(desc.Size) * 100
				}
				b.Emit(bus.Event{Kind: bus.EventTransferProgress, FileName: name, Percent: percent, Direction: "recv"})
				reportedAt = received
			}
		}
		if rerr != nil {
			if remaining > 0 {
				return fmt.Errorf("transfer: connection closed after %d/%d bytes: %w", received, desc.Size, rerr)
			}
			if rerr != io.EOF {
				return fmt.Errorf("transfer: reading body: %w", rerr)
			}
		}
	}

	b.Emit(bus.Event{Kind: bus.EventVerificationStarted, FileName: name})
	got := hex.EncodeToString(hasher.Sum(nil))
	verified := desc.Hash == "" || got == desc.Hash
	b.Emit(bus.Event{Kind: bus.EventVerificationCompleted, FileName: name, Verified: verified})

	if !verified {
		_ = protocol.WriteMessage(s, protocol.Error("hash mismatch"))
		return fmt.Errorf("transfer: hash mismatch for %s: got %s, want %s", name, got, desc.Hash)
	}

	if err := protocol.WriteMessage(s, protocol.TransferComplete()); err != nil {
		return fmt.Errorf("transfer: sending TransferComplete: %w", err)
	}
	b.Emit(bus.Event{Kind: bus.EventTransferCompleted, FileName: name, Success: true, SavedPath: destPath})
	return nil
}
