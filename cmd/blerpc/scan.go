package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/pkg/client"
	"github.com/srg/blerpc/pkg/config"
	"github.com/srg/blerpc/scanner"
)

type scanOptions struct {
	duration time.Duration
	format   string
	allow    []string
	block    []string
	all      bool
}

var validFormats = []string{"table", "json"}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for JSON-RPC peripherals",
		Long: `Scan for Bluetooth Low Energy peripherals advertising the JSON-RPC service
and display their names, addresses and signal strength, strongest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (defaults to scan_timeout from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVar(&opts.allow, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&opts.block, "block", nil, "Hide devices with these addresses")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Show every advertising device, not only JSON-RPC peripherals")
	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	if !slices.Contains(validFormats, opts.format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", opts.format, validFormats)
	}

	a, err := setup(cmd, func(cfg *config.Config, co *client.Options) {
		co.Scanner.AllowList = opts.allow
		co.Scanner.BlockList = opts.block
		if opts.all {
			co.Scanner.ServiceFilter = ""
		}
		if opts.duration <= 0 {
			opts.duration = cfg.ScanTimeout
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	scanCtx, cancelScan := context.WithTimeout(ctx, opts.duration)
	defer cancelScan()

	if err := a.client.StartScan(scanCtx); err != nil {
		return err
	}

	progress := NewCountdownProgressPrinter(cmd.OutOrStdout(), interactive(cmd), "Scanning for BLE devices", "Scanning", opts.duration)
	progress.Start()

	seen := 0
	for done := false; !done; {
		select {
		case <-scanCtx.Done():
			done = true
		case dev := <-a.client.DeviceFound():
			seen++
			a.logger.WithFields(logrus.Fields{
				"address": dev.Address,
				"rssi":    dev.RSSI,
			}).Debug("Advertisement")
		}
	}
	progress.Stop()
	a.client.StopScan()

	if ctx.Err() != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Scan interrupted")
	}
	a.logger.WithField("advertisements", seen).Info("Scan finished")

	devices := a.client.Devices()
	if opts.format == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return displayDevicesTable(cmd.OutOrStdout(), devices)
}

func displayDevicesTable(out io.Writer, devices []scanner.DiscoveredDevice) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, dev := range devices {
		name := dev.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		uuids := make([]string, 0, len(dev.Services))
		for _, s := range dev.Services {
			uuids = append(uuids, device.NormalizeUUID(s))
		}
		services := strings.Join(uuids, ",")
		if len(services) > 36 {
			services = services[:33] + "..."
		}

		lastSeen := time.Since(dev.SeenAt).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s ago\n", name, dev.Address, dev.RSSI, services, lastSeen)
	}
	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []scanner.DiscoveredDevice) error {
	if devices == nil {
		devices = []scanner.DiscoveredDevice{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
