package protocol

import "fmt"

// Color is a 24-bit RGB value as carried on the wire.
type Color struct {
	R, G, B uint8
}

// Hex formats the color as #RRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ParseHexColor parses "#RRGGBB" or "RRGGBB".
func ParseHexColor(s string) (Color, error) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	var c Color
	if len(s) != 6 {
		return c, fmt.Errorf("invalid hex color %q", s)
	}
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return c, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return c, nil
}

// Command is a decoded frame. The concrete type tells which action it is.
type Command interface {
	Action() Action
}

// Ping checks that the poi is alive.
type Ping struct{}

// ChangeColor sets a single LED of the color array.
type ChangeColor struct {
	Index uint8
	Color Color
}

// GenerateColorArray fills an array of Size LEDs with one color.
type GenerateColorArray struct {
	Size  uint8
	Color Color
}

// GenerateScalingColorArray fills an array of Size LEDs with a gradient
// running From -> To, or To -> From when Reverse is set.
type GenerateScalingColorArray struct {
	Size    uint8
	From    Color
	To      Color
	Reverse bool
}

// SetInterval sets the delay between rendered frames.
type SetInterval struct {
	Interval uint8
}

// SetMode switches the display mode. Opts is mode specific.
type SetMode struct {
	Mode uint8
	Opts uint8
}

// SetPattern selects a stored pattern.
type SetPattern struct {
	Index uint8
}

func (Ping) Action() Action                      { return ActionPing }
func (ChangeColor) Action() Action               { return ActionChangeColor }
func (GenerateColorArray) Action() Action        { return ActionGenerateColorArray }
func (GenerateScalingColorArray) Action() Action { return ActionGenerateScalingColorArray }
func (SetInterval) Action() Action               { return ActionSetInterval }
func (SetMode) Action() Action                   { return ActionSetMode }
func (SetPattern) Action() Action                { return ActionSetPattern }

func (Ping) String() string { return "Ping{}" }

func (c ChangeColor) String() string {
	return fmt.Sprintf("ChangeColor{index:%d color:%s}", c.Index, c.Color.Hex())
}

func (c GenerateColorArray) String() string {
	return fmt.Sprintf("GenerateColorArray{size:%d color:%s}", c.Size, c.Color.Hex())
}

func (c GenerateScalingColorArray) String() string {
	return fmt.Sprintf("GenerateScalingColorArray{size:%d from:%s to:%s reverse:%t}",
		c.Size, c.From.Hex(), c.To.Hex(), c.Reverse)
}

func (c SetInterval) String() string { return fmt.Sprintf("SetInterval{interval:%d}", c.Interval) }
func (c SetMode) String() string     { return fmt.Sprintf("SetMode{mode:%d opts:%d}", c.Mode, c.Opts) }
func (c SetPattern) String() string  { return fmt.Sprintf("SetPattern{index:%d}", c.Index) }
