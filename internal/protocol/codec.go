package protocol

import "fmt"

// Decode parses one complete frame. The frame length must match the action
// exactly; a frame carrying trailing bytes is malformed, not truncated.
func Decode(frame []byte) (Command, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	action := Action(frame[0])
	if !action.Valid() {
		return nil, &UnknownActionError{Tag: frame[0]}
	}
	if want := action.FrameSize(); len(frame) != want {
		return nil, &MalformedPayloadError{Action: action, Expected: want, Actual: len(frame)}
	}

	p := frame[1:]
	switch action {
	case ActionPing:
		return Ping{}, nil
	case ActionChangeColor:
		return ChangeColor{Index: p[0], Color: Color{p[1], p[2], p[3]}}, nil
	case ActionGenerateColorArray:
		return GenerateColorArray{Size: p[0], Color: Color{p[1], p[2], p[3]}}, nil
	case ActionGenerateScalingColorArray:
		return GenerateScalingColorArray{
			Size:    p[0],
			From:    Color{p[1], p[2], p[3]},
			To:      Color{p[4], p[5], p[6]},
			Reverse: p[7] != 0,
		}, nil
	case ActionSetInterval:
		return SetInterval{Interval: p[0]}, nil
	case ActionSetMode:
		return SetMode{Mode: p[0], Opts: p[1]}, nil
	default: // ActionSetPattern
		return SetPattern{Index: p[0]}, nil
	}
}

// Encode returns the canonical frame for cmd.
func Encode(cmd Command) []byte {
	return AppendFrame(make([]byte, 0, MaxFrameSize), cmd)
}

// AppendFrame appends the frame for cmd to dst and returns the extended slice.
func AppendFrame(dst []byte, cmd Command) []byte {
	switch c := cmd.(type) {
	case Ping:
		return append(dst, byte(ActionPing))
	case ChangeColor:
		return append(dst, byte(ActionChangeColor), c.Index, c.Color.R, c.Color.G, c.Color.B)
	case GenerateColorArray:
		return append(dst, byte(ActionGenerateColorArray), c.Size, c.Color.R, c.Color.G, c.Color.B)
	case GenerateScalingColorArray:
		var rev byte
		if c.Reverse {
			rev = 1
		}
		return append(dst, byte(ActionGenerateScalingColorArray), c.Size,
			c.From.R, c.From.G, c.From.B,
			c.To.R, c.To.G, c.To.B,
			rev)
	case SetInterval:
		return append(dst, byte(ActionSetInterval), c.Interval)
	case SetMode:
		return append(dst, byte(ActionSetMode), c.Mode, c.Opts)
	case SetPattern:
		return append(dst, byte(ActionSetPattern), c.Index)
	}
	panic(fmt.Sprintf("protocol: cannot encode %T", cmd))
}

// Split cuts the next frame off buf using the arity of its leading tag.
// Frame and rest alias buf.
func Split(buf []byte) (frame, rest []byte, err error) {
	if len(buf) == 0 {
		return nil, nil, ErrEmptyFrame
	}
	action := Action(buf[0])
	if !action.Valid() {
		return nil, buf, &UnknownActionError{Tag: buf[0]}
	}
	n := action.FrameSize()
	if len(buf) < n {
		return nil, buf, &MalformedPayloadError{Action: action, Expected: n, Actual: len(buf)}
	}
	return buf[:n], buf[n:], nil
}

// DecodeAll decodes a buffer holding several frames back to back. It stops at
// the first bad frame and returns the commands decoded before it with the error.
func DecodeAll(buf []byte) ([]Command, error) {
	var cmds []Command
	for len(buf) > 0 {
		frame, rest, err := Split(buf)
		if err != nil {
			return cmds, err
		}
		cmd, err := Decode(frame)
		if err != nil {
			return cmds, err
		}
		cmds = append(cmds, cmd)
		buf = rest
	}
	return cmds, nil
}
