// Command p2p is the terminal client: LAN and WAN file transfer, the
// browser upload gateway, and the transfer history log, all driven off
// one bounded event/command bus per invocation.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"lukechampine.com/blake3"

	"github.com/long113112113/p2p-transfer/internal/audit"
	"github.com/long113112113/p2p-transfer/internal/bus"
	"github.com/long113112113/p2p-transfer/internal/config"
	"github.com/long113112113/p2p-transfer/internal/identity"
	"github.com/long113112113/p2p-transfer/internal/pairing"
)

// displayNameEnv lets a user pin a stable display name across runs;
// without it every invocation picks a fresh petname, which is fine for
// a single transfer but confusing for a long-lived receiver.
const displayNameEnv = "P2P_DISPLAY_NAME"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	root := &cobra.Command{
		Use:           "p2p",
		Short:         "Peer-to-peer file transfer over LAN discovery, a WAN overlay, or a browser upload gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newSendCmd(), newReceiveCmd(), newServeGatewayCmd(), newHistoryCmd(), newNetcheckCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// appContext bundles what every subcommand needs: our own identity, the
// paired-device store, and a fresh bus for this invocation.
type appContext struct {
	id    *identity.Identity
	store *identity.Store
	bus   *bus.Bus
}

func newAppContext() (*appContext, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("resolving config directory: %w", err)
	}
	id, err := identity.LoadOrGenerate(dir)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	return &appContext{
		id:    id,
		store: identity.NewStore(dir),
		bus:   bus.New(),
	}, nil
}

func displayName() string {
	if name := os.Getenv(displayNameEnv); name != "" {
		return name
	}
	return identity.DefaultDisplayName()
}

func pairingTimeout() time.Duration {
	raw := os.Getenv(config.PairingTimeoutEnv)
	if raw == "" {
		return pairing.DefaultTimeout
	}
	seconds, err := time.ParseDuration(raw + "s")
	if err != nil {
		return pairing.DefaultTimeout
	}
	return seconds
}

// withSignalCancel cancels ctx on SIGINT/SIGTERM, so Ctrl-C during
// discovery, pairing or a transfer unwinds every goroutine through the
// same context.
func withSignalCancel(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// runCommandDispatcher forwards bus.Commands to whichever component can
// act on them. Both the terminal UI and the headless console prompts
// issue commands the same way, through app.bus.TrySend, so this is the
// only place that needs to know what a command actually does.
func runCommandDispatcher(b *bus.Bus, codeInput chan<- string, gatewayRespond func(requestID string, accept bool)) {
	for cmd := range b.Commands {
		switch cmd.Kind {
		case bus.CommandSubmitVerificationCode:
			select {
			case codeInput <- cmd.Code:
			default:
			}
		case bus.CommandRespondUploadRequest:
			if gatewayRespond != nil {
				gatewayRespond(cmd.RequestID, cmd.Accept)
			}
		}
	}
}

// printEventsHeadless is the non-TUI driver: it renders bus.Events to
// stdout and answers the two events that need a human decision
// (a verification code, or an upload approval) by prompting on stdin.
func printEventsHeadless(b *bus.Bus) {
	reader := bufio.NewReader(os.Stdin)
	for ev := range b.Events {
		switch ev.Kind {
		case bus.EventStatus:
			fmt.Println("status:", ev.Message)

		case bus.EventPeerFound:
			fmt.Printf("found %s (%s) at %s\n", ev.PeerName, ev.PeerID, ev.PeerAddr)

		case bus.EventShowVerificationCode:
			fmt.Println("verification code:", ev.Code)
			_ = clipboard.WriteAll(ev.Code)

		case bus.EventRequestVerificationCode:
			fmt.Print("enter the code shown on the other device: ")
			line, _ := reader.ReadString('\n')
			b.TrySend(bus.Command{Kind: bus.CommandSubmitVerificationCode, Code: strings.TrimSpace(line)})

		case bus.EventPairingResult:
			if ev.Success {
				fmt.Println("paired")
			} else {
				fmt.Println("pairing failed:", ev.Message)
			}

		case bus.EventTransferProgress:
			fmt.Printf("\r%s: %5.1f%% (%s)", ev.FileName, ev.Percent, ev.Direction)

		case bus.EventTransferCompleted:
			fmt.Println()
			if ev.Success {
				fmt.Println("transfer complete:", ev.FileName)
			} else {
				fmt.Println("transfer failed:", ev.Message)
			}

		case bus.EventError:
			fmt.Println("error:", ev.Message)

		case bus.EventUploadRequest:
			fmt.Printf("incoming browser upload %q (%d bytes) from %s - accept? [y/N] ", ev.FileName, ev.DeclaredSize, ev.SourceIP)
			line, _ := reader.ReadString('\n')
			accept := strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
			b.TrySend(bus.Command{Kind: bus.CommandRespondUploadRequest, RequestID: ev.RequestID, Accept: accept})

		case bus.EventUploadProgress:
			fmt.Printf("\rupload: %d/%d bytes", ev.ReceivedBytes, ev.DeclaredSize)

		case bus.EventUploadCompleted:
			fmt.Println()
			fmt.Println("upload complete:", ev.SavedPath)

		case bus.EventUploadRequestCancelled:
			fmt.Println("upload request cancelled")
		}
	}
}

// recordTransfer appends one audit.LogEntry; it never fails the caller's
// own transfer on a logging error, it only reports one to stderr.
func recordTransfer(role, peerID, transportLabel, fileName, path string, size int64, success bool, errMsg string, start time.Time) {
	hash, err := hashFile(path)
	if err != nil {
		hash = ""
	}
	status := "failed"
	if success {
		status = "success"
	}
	entry := audit.LogEntry{
		Role:      role,
		FileName:  fileName,
		FileSize:  size,
		FileHash:  hash,
		PeerID:    peerID,
		Transport: transportLabel,
		Status:    status,
		Error:     errMsg,
		Duration:  time.Since(start).Seconds(),
	}
	if err := audit.WriteEntry(entry); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not record history entry:", err)
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
