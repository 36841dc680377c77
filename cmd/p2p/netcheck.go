package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/long113112113/p2p-transfer/internal/netcheck"
)

func newNetcheckCmd() *cobra.Command {
	var (
		server  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "netcheck",
		Short: "Send one STUN binding request and report the server-reflexive address seen back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := netcheck.Check(server, timeout)
			if err != nil {
				return err
			}
			fmt.Println("reflexive address:", addr)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", netcheck.DefaultServer, "STUN server host:port")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for a response")
	return cmd
}
