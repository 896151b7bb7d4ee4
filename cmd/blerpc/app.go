package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blerpc/internal/devicefactory"
	"github.com/srg/blerpc/pkg/client"
	"github.com/srg/blerpc/pkg/config"
	"golang.org/x/term"
)

// Overridable in tests.
var (
	newCentral = devicefactory.NewCentral
	newGate    = devicefactory.NewPermissionGate
)

// app bundles what every command needs.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	client *client.Client
}

// setup loads config, builds the logger and a client on the configured
// backend. tune adjusts client options before the client is created.
func setup(cmd *cobra.Command, tune func(*config.Config, *client.Options)) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg, path != "")
	if err != nil {
		return nil, err
	}

	// Arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := cfg.ClientOptions()
	if tune != nil {
		tune(cfg, &opts)
	}

	central, err := newCentral(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	c, err := client.New(central, newGate(logger), opts, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, client: c}, nil
}

func (a *app) Close() {
	if err := a.client.Close(); err != nil {
		a.logger.WithError(err).Debug("Client close failed")
	}
}

// connect opens a Ready session to target, which is an address or "auto".
func (a *app) connect(ctx context.Context, target string) (client.RememberedDevice, error) {
	if target == autoTarget {
		return a.client.AutoConnect(ctx)
	}
	if err := a.client.Connect(ctx, target); err != nil {
		return client.RememberedDevice{}, err
	}
	if err := a.client.WaitReady(ctx); err != nil {
		return client.RememberedDevice{}, err
	}
	return client.RememberedDevice{Address: target}, nil
}

const autoTarget = "auto"

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// interactive reports whether progress output should be drawn.
func interactive(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
