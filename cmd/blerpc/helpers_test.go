package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParams(t *testing.T) {
	tests := []struct {
		name     string
		literal  string
		pairs    []string
		expected string
		errText  string
	}{
		{name: "no params is null", expected: `null`},
		{name: "json values and strings", pairs: []string{"b=2", "a=hello", "c=[1,2]", "d=null"}, expected: `{"b":2,"a":"hello","c":[1,2],"d":null}`},
		{name: "value may contain equals", pairs: []string{"expr=x=1"}, expected: `{"expr":"x=1"}`},
		{name: "literal", literal: `[1, 2]`, expected: `[1, 2]`},
		{name: "invalid literal", literal: `{`, errText: "not valid JSON"},
		{name: "literal with pairs", literal: `{}`, pairs: []string{"a=1"}, errText: "cannot be combined"},
		{name: "missing equals", pairs: []string{"flag"}, errText: "expected key=value"},
		{name: "empty key", pairs: []string{"=1"}, errText: "expected key=value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := buildParams(tt.literal, tt.pairs)
			if tt.errText != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
				return
			}
			require.NoError(t, err)
			data, err := json.Marshal(params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))
		})
	}
}

func TestBuildParams_NoneEncodesNull(t *testing.T) {
	params, err := buildParams("", nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	data, err := rpc.EncodeRequest(1, "getDeviceInfo", params)
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"getDeviceInfo","params":null,"id":1}`, string(data),
		"a call without parameters MUST send params null")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, json.RawMessage(`{"a":[1]}`), false))
	assert.Equal(t, "{\n  \"a\": [\n    1\n  ]\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, printResult(&buf, nil, true))
	assert.Equal(t, "null\n", buf.String(), "missing result MUST print null")
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "plain", err: fmt.Errorf("boom"), expected: "boom"},
		{
			name:     "kind with hint",
			err:      device.Errorf(device.KindUnavailable, nil, "enable adapter"),
			expected: "unavailable: enable adapter (check that Bluetooth is turned on)",
		},
		{
			name:     "rpc error with data",
			err:      &rpc.Error{Code: 7, Message: "bad", Data: json.RawMessage(`"why"`)},
			expected: `device returned error 7: bad ("why")`,
		},
		{
			name:     "unauthorized keeps hint",
			err:      device.Errorf(device.KindUnauthorized, &rpc.Error{Code: rpc.CodeUnauthorized, Message: "no"}, "secret"),
			expected: "unauthorized: secret: rpc error -32001: no (the device rejected the request as unauthorized)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, false, "Connecting", "Dialing")
	p.Start()
	p.Stop()
	assert.Empty(t, buf.String(), "disabled printer MUST NOT write")
	assert.Panics(t, p.Start, "Start MUST be single-use")

	buf.Reset()
	p = NewCountdownProgressPrinter(&buf, true, "Scanning", "Scanning", time.Second)
	p.Start()
	p.SetPhase("Done")
	p.Stop()
	p.Stop()
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\rScanning (Scanning...)"), "first frame MUST show the initial phase: %q", out)
	assert.True(t, strings.HasSuffix(out, clearLineSequence), "Stop MUST clear the line")
}

func TestProgressPrinter_Seconds(t *testing.T) {
	up := NewProgressPrinter(nil, false, "", "")
	assert.Equal(t, 2, up.seconds(2500*time.Millisecond))

	down := NewCountdownProgressPrinter(nil, false, "", "", 5*time.Second)
	assert.Equal(t, 4, down.seconds(1300*time.Millisecond), "remaining time MUST round to nearest second")
	assert.Equal(t, 0, down.seconds(6*time.Second))
}
