package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/long113112113/p2p-transfer/internal/bus"
	"github.com/long113112113/p2p-transfer/internal/discovery"
	"github.com/long113112113/p2p-transfer/internal/overlay"
	"github.com/long113112113/p2p-transfer/internal/pairing"
	"github.com/long113112113/p2p-transfer/internal/transfer"
	"github.com/long113112113/p2p-transfer/internal/transport"
	"github.com/long113112113/p2p-transfer/internal/ui"
)

func newSendCmd() *cobra.Command {
	var (
		peerMatch     string
		endpointID    string
		headless      bool
		timeout       time.Duration
		discoveryPort int
	)

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file to a peer on the LAN, or to a long-lived Endpoint ID over the WAN overlay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args[0], peerMatch, endpointID, headless, timeout, discoveryPort)
		},
	}

	cmd.Flags().StringVar(&peerMatch, "peer", "", "display name or Endpoint ID prefix to match against LAN discovery")
	cmd.Flags().StringVar(&endpointID, "endpoint", "", "peer's Endpoint ID; dials over the WAN overlay instead of the LAN")
	cmd.Flags().BoolVar(&headless, "headless", false, "print status to stdout instead of the terminal UI")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "deadline covering discovery, pairing and the transfer itself")
	cmd.Flags().IntVar(&discoveryPort, "discovery-port", discovery.DefaultPort, "UDP port used for LAN discovery")
	return cmd
}

func runSend(path, peerMatch, endpointID string, headless bool, timeout time.Duration, discoveryPort int) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	app, err := newAppContext()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := withSignalCancel(ctx)
	defer stop()

	codeInput := make(chan string, 1)
	go runCommandDispatcher(app.bus, codeInput, nil)

	start := time.Now()
	var program *tea.Program
	var peerID, transportLabel string

	if headless {
		go printEventsHeadless(app.bus)
	} else {
		m := ui.NewModel(ui.RoleSender, filepath.Base(path), app.bus)
		m.OnEvent = func(ev bus.Event) {
			if ev.Kind == bus.EventTransferCompleted {
				recordTransfer("sender", peerID, transportLabel, ev.FileName, path, info.Size(), ev.Success, ev.Message, start)
			}
		}
		program = tea.NewProgram(m)
		go func() {
			if _, err := program.Run(); err != nil {
				fmt.Fprintln(os.Stderr, "ui error:", err)
			}
			cancel()
		}()
	}

	var stream transfer.Stream

	if endpointID != "" {
		mgr, err := overlay.NewManager(app.id.EndpointID)
		if err != nil {
			return fmt.Errorf("send: starting overlay manager: %w", err)
		}
		defer mgr.Close()

		conn, err := mgr.Connect(ctx, endpointID)
		if err != nil {
			return fmt.Errorf("send: connecting to %s over the overlay: %w", endpointID, err)
		}
		defer conn.Close()

		s, err := conn.OpenBi(ctx)
		if err != nil {
			return fmt.Errorf("send: opening overlay stream: %w", err)
		}
		defer s.Close()

		stream = s
		peerID = endpointID
		transportLabel = "wan"
	} else {
		app.bus.Emit(bus.Event{Kind: bus.EventStatus, Message: "scanning the LAN for a peer..."})
		peer, err := discoverPeer(ctx, app, discoveryPort, peerMatch)
		if err != nil {
			return err
		}

		tr := transport.NewQUICTransport()
		addr := net.JoinHostPort(peer.Addr, strconv.Itoa(peer.TransferPort))
		conn, err := tr.Dial(addr)
		if err != nil {
			return fmt.Errorf("send: dialing %s: %w", addr, err)
		}
		defer conn.CloseWithError(0, "transfer complete")

		s, err := conn.OpenStreamSync(ctx)
		if err != nil {
			return fmt.Errorf("send: opening stream: %w", err)
		}
		defer s.Close()

		stream = s
		peerID = peer.EndpointID
		transportLabel = "lan"
	}

	name := displayName()
	app.bus.Emit(bus.Event{Kind: bus.EventStatus, Message: "pairing with " + peerID})
	if err := pairing.RunSender(ctx, stream, app.id.EndpointID, name, codeInput, app.bus); err != nil {
		app.bus.Emit(bus.Event{Kind: bus.EventError, Message: err.Error()})
		if headless {
			recordTransfer("sender", peerID, transportLabel, filepath.Base(path), path, info.Size(), false, err.Error(), start)
		}
		return err
	}

	sendErr := transfer.Send(ctx, stream, path, app.bus)
	if headless {
		msg := ""
		if sendErr != nil {
			msg = sendErr.Error()
		}
		recordTransfer("sender", peerID, transportLabel, filepath.Base(path), path, info.Size(), sendErr == nil, msg, start)
	}
	if program != nil {
		time.Sleep(500 * time.Millisecond) // let the UI render the final frame
		program.Quit()
	}
	return sendErr
}

// discoverPeer scans the LAN for a few seconds and returns the first peer
// matching match against its display name or Endpoint ID prefix; an empty
// match accepts the first peer seen at all.
func discoverPeer(ctx context.Context, app *appContext, port int, match string) (discovery.PeerFound, error) {
	svc, err := discovery.NewService(app.id.EndpointID, displayName(), 0, port)
	if err != nil {
		return discovery.PeerFound{}, fmt.Errorf("send: starting discovery: %w", err)
	}
	defer svc.Close()
	svc.Start()
	svc.Scan()

	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()

	for {
		select {
		case p := <-svc.Events():
			app.bus.Emit(bus.Event{Kind: bus.EventPeerFound, PeerID: p.EndpointID, PeerName: p.DisplayName, PeerAddr: p.Addr, TransferPort: p.TransferPort})
			if match == "" ||
				strings.Contains(strings.ToLower(p.DisplayName), strings.ToLower(match)) ||
				strings.HasPrefix(p.EndpointID, match) {
				return p, nil
			}
		case <-deadline.C:
			return discovery.PeerFound{}, fmt.Errorf("send: no matching peer found on the LAN")
		case <-ctx.Done():
			return discovery.PeerFound{}, ctx.Err()
		}
	}
}
