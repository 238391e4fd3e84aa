// Package protocol implements the binary command protocol spoken by the LED poi.
//
// A frame is a single Action tag byte followed by the fields of that action,
// every field being one byte wide:
//
//	[tag][field0]...[fieldN]
//
// The tag values are part of the wire format. New actions must be appended
// after SetPattern and existing values never renumbered.
package protocol

import "fmt"

// Action identifies the kind of command carried by a frame.
type Action uint8

const (
	ActionPing                      Action = iota // {}
	ActionChangeColor                             // {index, r, g, b}
	ActionGenerateColorArray                      // {size, r, g, b}
	ActionGenerateScalingColorArray               // {size, r1, g1, b1, r2, g2, b2, reverse}
	ActionSetInterval                             // {interval}
	ActionSetMode                                 // {mode, opts}
	ActionSetPattern                              // {pattern index}

	actionCount
)

// MaxFrameSize is the length of the longest frame, GenerateScalingColorArray.
const MaxFrameSize = 9

// payloadSizes holds the number of bytes following the tag for each action.
var payloadSizes = [actionCount]int{
	ActionPing:                      0,
	ActionChangeColor:               4,
	ActionGenerateColorArray:        4,
	ActionGenerateScalingColorArray: 8,
	ActionSetInterval:               1,
	ActionSetMode:                   2,
	ActionSetPattern:                1,
}

var actionNames = [actionCount]string{
	ActionPing:                      "Ping",
	ActionChangeColor:               "ChangeColor",
	ActionGenerateColorArray:        "GenerateColorArray",
	ActionGenerateScalingColorArray: "GenerateScalingColorArray",
	ActionSetInterval:               "SetInterval",
	ActionSetMode:                   "SetMode",
	ActionSetPattern:                "SetPattern",
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a < actionCount
}

// PayloadSize returns the number of bytes that follow the tag of a frame for a.
// It returns -1 for unknown actions.
func (a Action) PayloadSize() int {
	if !a.Valid() {
		return -1
	}
	return payloadSizes[a]
}

// FrameSize returns the full length of a frame for a, tag included.
// It returns -1 for unknown actions.
func (a Action) FrameSize() int {
	if !a.Valid() {
		return -1
	}
	return 1 + payloadSizes[a]
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
	return actionNames[a]
}

// ParseAction resolves a case-sensitive action name as returned by String.
func ParseAction(name string) (Action, error) {
	for i, n := range actionNames {
		if n == name {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action name %q", name)
}

// Actions returns every known action in tag order.
func Actions() []Action {
	out := make([]Action, 0, actionCount)
	for a := Action(0); a < actionCount; a++ {
		out = append(out, a)
	}
	return out
}
