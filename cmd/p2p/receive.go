package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/long113112113/p2p-transfer/internal/bus"
	"github.com/long113112113/p2p-transfer/internal/discovery"
	"github.com/long113112113/p2p-transfer/internal/overlay"
	"github.com/long113112113/p2p-transfer/internal/transfer"
	"github.com/long113112113/p2p-transfer/internal/transport"
	"github.com/long113112113/p2p-transfer/internal/ui"
)

func newReceiveCmd() *cobra.Command {
	var (
		destDir       string
		headless      bool
		port          int
		discoveryPort int
		enableWAN     bool
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for one incoming file, over the LAN or (with --wan) the overlay, and save it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(destDir, headless, port, discoveryPort, enableWAN, timeout)
		},
	}

	cmd.Flags().StringVar(&destDir, "dir", ".", "directory to save the incoming file in")
	cmd.Flags().BoolVar(&headless, "headless", false, "print status to stdout instead of the terminal UI")
	cmd.Flags().IntVar(&port, "port", 9000, "QUIC listener port (0 picks an ephemeral port)")
	cmd.Flags().IntVar(&discoveryPort, "discovery-port", discovery.DefaultPort, "UDP port used for LAN discovery")
	cmd.Flags().BoolVar(&enableWAN, "wan", false, "also accept a connection over the WAN overlay")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for an incoming connection")
	return cmd
}

func runReceive(destDir string, headless bool, port, discoveryPort int, enableWAN bool, timeout time.Duration) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := withSignalCancel(ctx)
	defer stop()

	codeInput := make(chan string, 1) // unused on the receive side, RunReceiver never reads it
	go runCommandDispatcher(app.bus, codeInput, nil)

	start := time.Now()
	var program *tea.Program
	var transportLabel string

	if headless {
		go printEventsHeadless(app.bus)
	} else {
		m := ui.NewModel(ui.RoleReceiver, "", app.bus)
		m.OnEvent = func(ev bus.Event) {
			if ev.Kind == bus.EventTransferCompleted {
				size := int64(0)
				if info, statErr := os.Stat(ev.SavedPath); statErr == nil {
					size = info.Size()
				}
				recordTransfer("receiver", "", transportLabel, ev.FileName, ev.SavedPath, size, ev.Success, ev.Message, start)
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

	tr := transport.NewQUICTransport()
	listener, err := tr.Listen(strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("receive: listening: %w", err)
	}

	// MultiListener fans multiple concurrently-listening QUICListeners into
	// one Accept loop; today there is exactly one LAN listener, but this
	// keeps room for binding additional interfaces without touching the
	// accept logic below.
	ml := transport.NewMultiListener()
	ml.Add(listener)
	defer ml.Close()

	listenPort := port
	if parsed, ok := parseListenerPort(listener.Addr().String()); ok {
		listenPort = parsed
	}

	disc, err := discovery.NewService(app.id.EndpointID, displayName(), listenPort, discoveryPort)
	if err != nil {
		return fmt.Errorf("receive: starting discovery: %w", err)
	}
	defer disc.Close()
	disc.Start()

	app.bus.Emit(bus.Event{Kind: bus.EventStatus, Message: fmt.Sprintf("waiting for a sender (endpoint %s)", app.id.EndpointID)})

	type incoming struct {
		stream  transfer.Stream
		fromWAN bool
	}
	incomingCh := make(chan incoming, 1)
	errCh := make(chan error, 2)

	go func() {
		conn, err := ml.Accept(ctx)
		if err != nil {
			errCh <- err
			return
		}
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			errCh <- err
			return
		}
		incomingCh <- incoming{stream: s}
	}()

	if enableWAN {
		mgr, err := overlay.NewManager(app.id.EndpointID)
		if err != nil {
			return fmt.Errorf("receive: starting overlay manager: %w", err)
		}
		defer mgr.Close()

		go func() {
			conn, err := mgr.Accept(ctx)
			if err != nil {
				errCh <- err
				return
			}
			s, err := conn.AcceptBi(ctx)
			if err != nil {
				errCh <- err
				return
			}
			incomingCh <- incoming{stream: s, fromWAN: true}
		}()
	}

	var transferErr error
	select {
	case in := <-incomingCh:
		transportLabel = "lan"
		if in.fromWAN {
			transportLabel = "wan"
		}
		app.bus.Emit(bus.Event{Kind: bus.EventStatus, Message: "peer connected over " + transportLabel})
		transferErr = transfer.HandleIncoming(ctx, in.stream, app.store, app.bus, destDir, pairingTimeout())
		if transferErr != nil {
			app.bus.Emit(bus.Event{Kind: bus.EventError, Message: transferErr.Error()})
		}
	case err := <-errCh:
		transferErr = err
	case <-ctx.Done():
		transferErr = ctx.Err()
	}

	if program != nil {
		time.Sleep(500 * time.Millisecond)
		program.Quit()
	}
	return transferErr
}

// parseListenerPort is a fallback for transports whose net.Addr doesn't
// expose a Port() method; it never fails the caller, a 0 just means the
// discovery announcement carries an unhelpful port.
func parseListenerPort(addr string) (int, bool) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port, err := strconv.Atoi(addr[i+1:])
			if err != nil {
				return 0, false
			}
			return port, true
		}
	}
	return 0, false
}
