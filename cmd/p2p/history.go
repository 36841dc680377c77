package main

import (
	"github.com/spf13/cobra"

	"github.com/long113112113/p2p-transfer/internal/audit"
)

func newHistoryCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show the transfer history log, a single entry's detail, or clear it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clear {
				return audit.ClearHistory()
			}
			if len(args) == 1 {
				audit.ShowDetail(args[0])
				return nil
			}
			audit.ShowHistory()
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "delete the history log instead of showing it")
	return cmd
}
