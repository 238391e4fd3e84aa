package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poi-controller/internal/protocol"
	"poi-controller/internal/serial"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		args []string
		want protocol.Command
	}{
		{[]string{"Ping"}, protocol.Ping{}},
		{[]string{"ChangeColor", "5", "255", "0", "128"}, protocol.ChangeColor{Index: 5, Color: protocol.Color{R: 255, B: 128}}},
		{[]string{"SetMode", "2", "0x10"}, protocol.SetMode{Mode: 2, Opts: 16}},
		{[]string{"GenerateScalingColorArray", "10", "255", "0", "0", "0", "0", "255", "1"},
			protocol.GenerateScalingColorArray{Size: 10, From: protocol.Color{R: 255}, To: protocol.Color{B: 255}, Reverse: true}},
	}
	for _, tt := range tests {
		got, err := buildCommand(tt.args)
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range [][]string{
		{"Explode"},
		{"SetPattern"},
		{"SetPattern", "1", "2"},
		{"SetInterval", "256"},
	} {
		_, err := buildCommand(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrintFrames(t *testing.T) {
	buf, err := parseHex("0x06 03:04 0a")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printFrames(&out, buf))
	assert.Contains(t, out.String(), "SetPattern{index:3}")
	assert.Contains(t, out.String(), "SetInterval{interval:10}")

	out.Reset()
	err = printFrames(&out, []byte{0, 9})
	assert.ErrorIs(t, err, protocol.ErrUnknownAction)
	assert.Contains(t, out.String(), "Ping{}")

	_, err = parseHex("zz")
	assert.Error(t, err)
	_, err = parseHex("  ")
	assert.ErrorIs(t, err, protocol.ErrEmptyFrame)
}

func TestRunSim(t *testing.T) {
	var stream []byte
	stream = protocol.AppendFrame(stream, protocol.GenerateColorArray{Size: 3, Color: protocol.Color{G: 255}})
	stream = append(stream, 0xEE) // stray byte, skipped
	stream = protocol.AppendFrame(stream, protocol.ChangeColor{Index: 1, Color: protocol.Color{R: 9}})
	stream = protocol.AppendFrame(stream, protocol.SetMode{Mode: 4, Opts: 2})

	src := serial.NewLink(stdio{Reader: bytes.NewReader(stream), Writer: &bytes.Buffer{}}, nil)
	p, err := runSim(context.Background(), src, 8)
	require.NoError(t, err)

	st := p.Snapshot()
	assert.Equal(t, []protocol.Color{{G: 255}, {R: 9}, {G: 255}}, st.LEDs)
	assert.Equal(t, uint8(4), st.Mode)
	assert.Equal(t, uint8(2), st.Opts)
}

func TestDecodeCommand(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "missing.json")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgFile, "decode", "0603", "00"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "SetPattern{index:3}")
	assert.Contains(t, out.String(), "Ping{}")
}
