package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Forget the remembered device used by auto-connect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.client.Forget(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Remembered device cleared")
			return nil
		},
	}
}
