package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"poi-controller/internal/core"
	"poi-controller/internal/protocol"
)

type colorPayload struct {
	R   uint8  `json:"r"`
	G   uint8  `json:"g"`
	B   uint8  `json:"b"`
	Hex string `json:"hex"`
}

func (c colorPayload) color() (protocol.Color, error) {
	if c.Hex != "" {
		return protocol.ParseHexColor(c.Hex)
	}
	return protocol.Color{R: c.R, G: c.G, B: c.B}, nil
}

type changeColorPayload struct {
	Index uint8 `json:"index"`
	colorPayload
}

type colorArrayPayload struct {
	Size uint8 `json:"size"`
	colorPayload
}

type scalingArrayPayload struct {
	Size    uint8        `json:"size"`
	From    colorPayload `json:"from"`
	To      colorPayload `json:"to"`
	Reverse bool         `json:"reverse"`
}

type namePayload struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type schedulePayload struct {
	ID      int    `json:"id"`
	Spec    string `json:"spec"`
	Command string `json:"command"`
}

// FrameError reports a frame from a client that failed to decode.
type FrameError struct {
	Frame []byte
	Err   error
}

func (e *FrameError) Error() string { return e.Err.Error() }

func (e *FrameError) Unwrap() error { return e.Err }

// ParseCommand converts a client command into agent commands. A "frame"
// command may carry several back-to-back frames and yields one command each.
// When a frame is bad the commands decoded before it are returned together
// with a *FrameError.
func ParseCommand(cmd Command) ([]core.Command, error) {
	var poiCmd protocol.Command

	switch cmd.Type {
	case "ping":
		poiCmd = protocol.Ping{}

	case "changeColor":
		var p changeColorPayload
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		c, err := p.color()
		if err != nil {
			return nil, err
		}
		poiCmd = protocol.ChangeColor{Index: p.Index, Color: c}

	case "generateColorArray":
		var p colorArrayPayload
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		c, err := p.color()
		if err != nil {
			return nil, err
		}
		poiCmd = protocol.GenerateColorArray{Size: p.Size, Color: c}

	case "generateScalingColorArray":
		var p scalingArrayPayload
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		from, err := p.From.color()
		if err != nil {
			return nil, err
		}
		to, err := p.To.color()
		if err != nil {
			return nil, err
		}
		poiCmd = protocol.GenerateScalingColorArray{Size: p.Size, From: from, To: to, Reverse: p.Reverse}

	case "setInterval":
		var p struct {
			Interval uint8 `json:"interval"`
		}
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		poiCmd = protocol.SetInterval{Interval: p.Interval}

	case "setMode":
		var p struct {
			Mode uint8 `json:"mode"`
			Opts uint8 `json:"opts"`
		}
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		poiCmd = protocol.SetMode{Mode: p.Mode, Opts: p.Opts}

	case "setPattern":
		var p struct {
			Index uint8 `json:"index"`
		}
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		poiCmd = protocol.SetPattern{Index: p.Index}

	case "frame":
		var p struct {
			Hex string `json:"hex"`
		}
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(strings.ReplaceAll(p.Hex, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid frame hex: %w", err)
		}
		if len(raw) == 0 {
			return nil, &FrameError{Frame: raw, Err: protocol.ErrEmptyFrame}
		}
		cmds, err := protocol.DecodeAll(raw)
		out := make([]core.Command, 0, len(cmds))
		for _, c := range cmds {
			out = append(out, core.Send(c))
		}
		if err != nil {
			return out, &FrameError{Frame: raw, Err: err}
		}
		return out, nil

	case "runScript", "getScriptCode", "deleteScript", "saveScriptCode":
		var p namePayload
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, fmt.Errorf("%s: missing name", cmd.Type)
		}
		payload := map[string]interface{}{"name": p.Name}
		if cmd.Type == "saveScriptCode" {
			payload["code"] = p.Code
		}
		return []core.Command{{Type: core.CommandType(cmd.Type), Payload: payload}}, nil

	case "stopScript":
		return []core.Command{{Type: core.CmdStopScript}}, nil

	case "runCode":
		var p namePayload
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Code) == "" {
			return nil, fmt.Errorf("runCode: missing code")
		}
		return []core.Command{{Type: core.CmdRunCode, Payload: map[string]interface{}{"code": p.Code}}}, nil

	case "addSchedule":
		var p schedulePayload
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		return []core.Command{{Type: core.CmdAddSchedule, Payload: map[string]interface{}{
			"spec": p.Spec, "command": p.Command,
		}}}, nil

	case "removeSchedule":
		var p schedulePayload
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		return []core.Command{{Type: core.CmdRemoveSchedule, Payload: map[string]interface{}{"id": p.ID}}}, nil

	default:
		return nil, fmt.Errorf("unknown command type '%s'", cmd.Type)
	}

	return []core.Command{core.Send(poiCmd)}, nil
}

func decode(cmd Command, v interface{}) error {
	if len(cmd.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", cmd.Type, err)
	}
	return nil
}
