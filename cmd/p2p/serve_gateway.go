package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/long113112113/p2p-transfer/internal/config"
	"github.com/long113112113/p2p-transfer/internal/gateway"
	"github.com/long113112113/p2p-transfer/internal/transport"
)

func newServeGatewayCmd() *cobra.Command {
	var (
		token string
		dir   string
		port  int
	)

	cmd := &cobra.Command{
		Use:   "serve-gateway",
		Short: "Serve the token-scoped WebSocket upload endpoint for browsers without the desktop client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeGateway(token, dir, port)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "upload token for this session; a random one is generated if empty")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory uploaded files are saved to")
	cmd.Flags().IntVar(&port, "port", 8443, "HTTPS port to listen on (put an ngrok tunnel in front of it for a public URL)")
	return cmd
}

func runServeGateway(token, dir string, port int) error {
	if token == "" {
		token = uuid.NewString()
	}

	app, err := newAppContext()
	if err != nil {
		return err
	}

	gw := gateway.New(token, dir, app.bus)

	go runCommandDispatcher(app.bus, make(chan string, 1), func(requestID string, accept bool) {
		gw.Respond(requestID, accept)
	})
	go printEventsHeadless(app.bus)

	tlsConf, err := transport.ServerTLSConfig("http/1.1")
	if err != nil {
		return fmt.Errorf("serve-gateway: %w", err)
	}

	addr := fmt.Sprintf(":%d", port)
	fmt.Printf("serving uploads at https://<this host>%s/%s/ws\n", addr, token)
	if ngrokToken := config.NgrokAuthToken(); ngrokToken != "" {
		fmt.Println("an ngrok authtoken is configured; point a tunnel at this port to expose it publicly")
	} else {
		fmt.Println("no ngrok authtoken configured (NGROK_AUTHTOKEN); this endpoint is LAN-only unless tunneled some other way")
	}

	srv := &http.Server{Addr: addr, Handler: gw.Handler(), TLSConfig: tlsConf}

	ctx, cancel := withSignalCancel(context.Background())
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve-gateway: %w", err)
	}
	return nil
}
