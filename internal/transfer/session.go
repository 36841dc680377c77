package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/long113112113/p2p-transfer/internal/bus"
	"github.com/long113112113/p2p-transfer/internal/identity"
	"github.com/long113112113/p2p-transfer/internal/pairing"
	"github.com/long113112113/p2p-transfer/internal/protocol"
)

// HandleIncoming dispatches the first message of a freshly accepted stream.
// A PairingRequest runs the pairing FSM and, on success, expects a
// FileMetadata to follow on the same stream; anything else arriving first
// is rejected outright. In particular, a peer that sends FileMetadata
// without ever pairing is refused with an "unauthenticated" Error,
// regardless of what endpoint id it claims - this implementation never
// trusts a stream that has not completed its own pairing dialog.
func HandleIncoming(ctx context.Context, s Stream, store *identity.Store, b *bus.Bus, destDir string, pairingTimeout time.Duration) error {
	first, err := protocol.ReadMessage(s)
	if err != nil {
		return fmt.Errorf("transfer: reading first message: %w", err)
	}

	switch first.Type {
	case protocol.TypePairingRequest:
		paired, err := pairing.RunReceiver(ctx, s, first, pairing.Deps{Store: store, Bus: b, Timeout: pairingTimeout})
		if err != nil {
			return fmt.Errorf("transfer: pairing: %w", err)
		}
		if !paired {
			return nil
		}

		next, err := protocol.ReadMessage(s)
		if err != nil {
			return fmt.Errorf("transfer: reading metadata after pairing: %w", err)
		}
		if next.Type != protocol.TypeFileMetadata || next.File == nil {
			_ = protocol.WriteMessage(s, protocol.Error("expected file metadata"))
			return fmt.Errorf("transfer: expected FileMetadata after pairing, got %s", next.Type)
		}
		return Receive(ctx, s, *next.File, destDir, b)

	case protocol.TypeFileMetadata:
		_ = protocol.WriteMessage(s, protocol.Error("unauthenticated"))
		return fmt.Errorf("transfer: peer sent FileMetadata without pairing first")

	default:
		_ = protocol.WriteMessage(s, protocol.Error("unexpected message"))
		return fmt.Errorf("transfer: unexpected first message %s", first.Type)
	}
}
