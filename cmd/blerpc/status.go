package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/session"
)

var statusColors = map[session.Status]*color.Color{
	session.Disconnected: color.New(color.FgRed),
	session.Connecting:   color.New(color.FgYellow),
	session.Connected:    color.New(color.FgCyan),
	session.Ready:        color.New(color.FgGreen, color.Bold),
}

func newStatusCmd() *cobra.Command {
	var hold bool
	cmd := &cobra.Command{
		Use:   "status <address|auto>",
		Short: "Connect and print each connection state change",
		Long: `Connect to a peripheral and print every status transition until it is ready.
With --hold the connection stays open and transitions keep printing until
Ctrl+C or the link is lost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, args[0], hold)
		},
	}
	cmd.Flags().BoolVar(&hold, "hold", false, "Keep the connection open after it is ready")
	return cmd
}

func runStatus(cmd *cobra.Command, target string, hold bool) error {
	a, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	events := a.client.StatusChanged()
	printed := make(chan struct{})
	lost := make(chan struct{})
	go func() {
		defer close(printed)
		wasReady := false
		for ev := range events {
			printStatus(out, ev)
			switch {
			case ev.Status == session.Ready && !hold:
				return
			case ev.Status == session.Ready:
				wasReady = true
			case ev.Status == session.Disconnected && wasReady:
				close(lost)
				return
			}
		}
	}()

	if _, err := a.connect(ctx, target); err != nil {
		return err
	}

	if hold {
		select {
		case <-ctx.Done():
		case <-lost:
			return device.Errorf(device.KindConnectionLost, nil, "connection to %s lost", a.client.Address())
		}
	} else {
		<-printed
	}
	a.client.Disconnect()
	return nil
}

func printStatus(out io.Writer, ev session.StatusEvent) {
	c, ok := statusColors[ev.Status]
	if !ok {
		c = color.New(color.Reset)
	}
	line := fmt.Sprintf("%-12s", ev.Status)
	if ev.Address != "" {
		line += " " + ev.Address
	}
	if ev.Err != nil {
		line += ": " + FormatUserError(ev.Err)
	}
	c.Fprintln(out, line)
}
