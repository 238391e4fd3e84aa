package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"poi-controller/internal/core"
	"poi-controller/internal/protocol"
)

// ParseCommand turns a schedule command line into an agent command.
//
//	ping
//	pattern <index>
//	mode <mode> [opts]
//	interval <value>
//	color <r> <g> <b> [size]
//	script <name.lua>
//	stop
func ParseCommand(line string) (core.Command, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return core.Command{}, fmt.Errorf("empty command")
	}

	args := parts[1:]
	switch parts[0] {
	case "ping":
		return core.Send(protocol.Ping{}), nil

	case "pattern":
		v, err := bytesArgs(args, 1, 1)
		if err != nil {
			return core.Command{}, fmt.Errorf("pattern: %w", err)
		}
		return core.Send(protocol.SetPattern{Index: v[0]}), nil

	case "mode":
		v, err := bytesArgs(args, 1, 2)
		if err != nil {
			return core.Command{}, fmt.Errorf("mode: %w", err)
		}
		cmd := protocol.SetMode{Mode: v[0]}
		if len(v) > 1 {
			cmd.Opts = v[1]
		}
		return core.Send(cmd), nil

	case "interval":
		v, err := bytesArgs(args, 1, 1)
		if err != nil {
			return core.Command{}, fmt.Errorf("interval: %w", err)
		}
		return core.Send(protocol.SetInterval{Interval: v[0]}), nil

	case "color":
		v, err := bytesArgs(args, 3, 4)
		if err != nil {
			return core.Command{}, fmt.Errorf("color: %w", err)
		}
		size := uint8(255)
		if len(v) > 3 {
			size = v[3]
		}
		return core.Send(protocol.GenerateColorArray{Size: size, Color: protocol.Color{R: v[0], G: v[1], B: v[2]}}), nil

	case "script":
		if len(args) != 1 {
			return core.Command{}, fmt.Errorf("script: expected a file name")
		}
		return core.Command{Type: core.CmdRunScript, Payload: map[string]interface{}{"name": args[0]}}, nil

	case "stop":
		return core.Command{Type: core.CmdStopScript}, nil
	}
	return core.Command{}, fmt.Errorf("unknown command '%s'", parts[0])
}

func bytesArgs(args []string, lo, hi int) ([]uint8, error) {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return nil, fmt.Errorf("expected %d argument(s), got %d", lo, len(args))
		}
		return nil, fmt.Errorf("expected %d to %d arguments, got %d", lo, hi, len(args))
	}
	out := make([]uint8, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = uint8(v)
	}
	return out, nil
}
