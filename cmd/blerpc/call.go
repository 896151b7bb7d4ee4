package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type callOptions struct {
	params string
	raw    bool
}

func newCallCmd() *cobra.Command {
	opts := &callOptions{}
	cmd := &cobra.Command{
		Use:   "call <address|auto> <method> [key=value ...]",
		Short: "Call a JSON-RPC method on a peripheral",
		Long: `Connect to a peripheral, wait until it is ready, call one JSON-RPC method and
print the result.

Use "auto" instead of an address to reconnect to the remembered device or pick
the strongest nearby device whose name starts with name_prefix.

Parameters are given as key=value pairs, kept in the order written. A value
that parses as JSON is sent as JSON, anything else as a string. --params sends
a literal JSON value instead. Without either, params is sent as null.`,
		Example: `  blerpc call auto getDeviceInfo
  blerpc call AA:BB:CC:DD:EE:01 setLed on=true color=red
  blerpc call auto configure --params '{"interval": 5}'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.params, "params", "p", "", "Parameters as a JSON value")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print the result without indentation")
	return cmd
}

func runCall(cmd *cobra.Command, opts *callOptions, args []string) error {
	target, method := args[0], args[1]
	params, err := buildParams(opts.params, args[2:])
	if err != nil {
		return err
	}

	a, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.OutOrStdout(), interactive(cmd), "Connecting to "+target, "Connecting")
	progress.Start()
	dev, err := a.connect(ctx, target)
	if err != nil {
		progress.Stop()
		return err
	}
	progress.SetPhase("Calling " + method)

	result, err := a.client.Call(ctx, method, params)
	progress.Stop()
	a.client.Disconnect()
	if err != nil {
		return err
	}

	a.logger.WithField("address", dev.Address).Debug("Call completed")
	return printResult(cmd.OutOrStdout(), result, opts.raw)
}

// buildParams returns the request params: the literal JSON value, an
// ordered object built from key=value pairs, or nil when neither is given.
func buildParams(literal string, pairs []string) (any, error) {
	if literal != "" {
		if len(pairs) > 0 {
			return nil, fmt.Errorf("--params cannot be combined with key=value arguments")
		}
		if !json.Valid([]byte(literal)) {
			return nil, fmt.Errorf("invalid --params: not valid JSON")
		}
		return json.RawMessage(literal), nil
	}

	if len(pairs) == 0 {
		return nil, nil
	}

	params := orderedmap.New[string, any]()
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		if json.Valid([]byte(value)) {
			params.Set(key, json.RawMessage(value))
		} else {
			params.Set(key, value)
		}
	}
	return params, nil
}

func printResult(out io.Writer, result json.RawMessage, raw bool) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	if raw {
		_, err := fmt.Fprintln(out, string(result))
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, buf.String())
	return err
}
