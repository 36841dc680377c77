package pairing

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/long113112113/p2p-transfer/internal/bus"
	"github.com/long113112113/p2p-transfer/internal/identity"
	"github.com/long113112113/p2p-transfer/internal/protocol"
)

// antiTimingDelay is the mandatory pause after comparing a submitted code,
// independent of whether the comparison succeeded. It frustrates both
// timing side channels and rapid brute-force retries.
const antiTimingDelay = 2 * time.Second

// DefaultTimeout is the AWAIT_CODE wait, overridable by
// config.PairingTimeoutEnv.
const DefaultTimeout = 30 * time.Second

// Stream is the minimal capability the FSM needs from the underlying
// transport stream; *quic.Stream and an overlay stream both satisfy it.
type Stream interface {
	ReadWriter
}

// ReadWriter avoids importing io just for this alias; kept distinct so the
// FSM's dependency surface reads as transport-agnostic.
type ReadWriter interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Deps bundles what the receiver FSM needs beyond the stream itself.
type Deps struct {
	Store   *identity.Store
	Bus     *bus.Bus
	Timeout time.Duration
}

// RunReceiver drives the receiver side of the pairing FSM once the first
// message on the stream has already been read and classified as
// PairingRequest by the caller (the transfer session dispatcher - see
// SPEC_FULL.md §4.E on why that classification happens one level up).
// It reports whether the peer ended up paired.
func RunReceiver(ctx context.Context, s Stream, req protocol.Envelope, deps Deps) (bool, error) {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	paired, err := deps.Store.IsPaired(req.EndpointID)
	if err != nil {
		return false, fmt.Errorf("pairing: checking store: %w", err)
	}
	if paired {
		if err := protocol.WriteMessage(s, protocol.PairingAccepted()); err != nil {
			return false, fmt.Errorf("pairing: sending PairingAccepted: %w", err)
		}
		return true, nil
	}

	guard, ok := acquireSlot()
	if !ok {
		_ = protocol.WriteMessage(s, protocol.VerificationFailed("Too many concurrent pairing attempts"))
		deps.Bus.Emit(bus.Event{Kind: bus.EventPairingResult, PeerID: req.EndpointID, Success: false, Message: "Too many concurrent pairing attempts"})
		return false, nil
	}
	defer guard.Release()

	code, err := identity.GenerateVerificationCode()
	if err != nil {
		return false, fmt.Errorf("pairing: generating verification code: %w", err)
	}
	deps.Bus.Emit(bus.Event{Kind: bus.EventShowVerificationCode, Code: code, PeerID: req.EndpointID, PeerName: req.DisplayName})
	if err := protocol.WriteMessage(s, protocol.VerificationRequired()); err != nil {
		return false, fmt.Errorf("pairing: sending VerificationRequired: %w", err)
	}

	type readResult struct {
		env protocol.Envelope
		err error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		env, err := protocol.ReadMessage(s)
		resultCh <- readResult{env, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return false, fmt.Errorf("pairing: awaiting verification code: %w", r.err)
		}
		if r.env.Type != protocol.TypeVerificationCode {
			_ = protocol.WriteMessage(s, protocol.Error("unexpected message"))
			return false, fmt.Errorf("pairing: expected VerificationCode, got %s", r.env.Type)
		}

		time.Sleep(antiTimingDelay)

		if subtle.ConstantTimeCompare([]byte(r.env.Code), []byte(code)) == 1 {
			if err := deps.Store.AddPairing(req.EndpointID, req.DisplayName); err != nil {
				return false, fmt.Errorf("pairing: recording pairing: %w", err)
			}
			if err := protocol.WriteMessage(s, protocol.VerificationSuccess()); err != nil {
				return false, fmt.Errorf("pairing: sending VerificationSuccess: %w", err)
			}
			deps.Bus.Emit(bus.Event{Kind: bus.EventPairingResult, PeerID: req.EndpointID, Success: true})
			return true, nil
		}

		_ = protocol.WriteMessage(s, protocol.VerificationFailed("Invalid code"))
		deps.Bus.Emit(bus.Event{Kind: bus.EventPairingResult, PeerID: req.EndpointID, Success: false, Message: "Invalid code"})
		return false, nil

	case <-time.After(timeout):
		_ = protocol.WriteMessage(s, protocol.VerificationFailed("timeout"))
		deps.Bus.Emit(bus.Event{Kind: bus.EventPairingResult, PeerID: req.EndpointID, Success: false, Message: "timeout"})
		return false, nil

	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// RunSender drives the sender side: send PairingRequest, then either
// proceed immediately (already paired) or collect a code from codeInput
// (a single-shot channel fed by the caller after EventRequestVerificationCode
// is observed on the bus) and submit it.
func RunSender(ctx context.Context, s Stream, endpointID, displayName string, codeInput <-chan string, b *bus.Bus) error {
	if err := protocol.WriteMessage(s, protocol.PairingRequest(endpointID, displayName)); err != nil {
		return fmt.Errorf("pairing: sending PairingRequest: %w", err)
	}

	env, err := protocol.ReadMessage(s)
	if err != nil {
		return fmt.Errorf("pairing: awaiting receiver reply: %w", err)
	}

	switch env.Type {
	case protocol.TypePairingAccepted:
		return nil

	case protocol.TypeVerificationFailed:
		return fmt.Errorf("pairing: rejected: %s", env.Message)

	case protocol.TypeVerificationRequired:
		b.Emit(bus.Event{Kind: bus.EventRequestVerificationCode, PeerID: endpointID})

		var code string
		select {
		case code = <-codeInput:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := protocol.WriteMessage(s, protocol.VerificationCode(code)); err != nil {
			return fmt.Errorf("pairing: sending VerificationCode: %w", err)
		}

		resp, err := protocol.ReadMessage(s)
		if err != nil {
			return fmt.Errorf("pairing: awaiting verification result: %w", err)
		}
		switch resp.Type {
		case protocol.TypeVerificationSuccess:
			return nil
		case protocol.TypeVerificationFailed:
			return fmt.Errorf("pairing: rejected: %s", resp.Message)
		default:
			return fmt.Errorf("pairing: unexpected message %s", resp.Type)
		}

	default:
		return fmt.Errorf("pairing: unexpected message %s", env.Type)
	}
}
