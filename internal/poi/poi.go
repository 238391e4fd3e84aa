// Package poi models the state a poi renders: the LED color array and the
// playback settings. A Poi is the protocol.Handler on the receiving side.
package poi

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"poi-controller/internal/core"
	"poi-controller/internal/protocol"
)

// DefaultLEDs is the array capacity used when none is configured.
const DefaultLEDs = 255

var logger = logrus.WithField("component", "poi")

// State is a snapshot of everything a poi renders.
type State struct {
	LEDs     []protocol.Color `json:"leds"`
	Interval uint8            `json:"interval"`
	Mode     uint8            `json:"mode"`
	Opts     uint8            `json:"opts"`
	Pattern  uint8            `json:"pattern"`
	LastPing time.Time        `json:"lastPing"`
	Commands uint64           `json:"commands"`
}

// Poi applies decoded commands to an in-memory LED array.
type Poi struct {
	mu       sync.RWMutex
	maxLEDs  int
	state    State
	eventBus *core.EventBus
	now      func() time.Time
}

var _ protocol.Handler = (*Poi)(nil)

// New creates a poi with room for maxLEDs LEDs. The event bus may be nil.
func New(maxLEDs int, eb *core.EventBus) *Poi {
	if maxLEDs <= 0 || maxLEDs > DefaultLEDs {
		maxLEDs = DefaultLEDs
	}
	return &Poi{
		maxLEDs:  maxLEDs,
		eventBus: eb,
		now:      time.Now,
	}
}

// Snapshot returns a copy of the current state.
func (p *Poi) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Poi) snapshotLocked() State {
	s := p.state
	s.LEDs = append([]protocol.Color(nil), p.state.LEDs...)
	return s
}

// update runs fn under the write lock and publishes the resulting state.
func (p *Poi) update(fn func(s *State)) {
	p.mu.Lock()
	fn(&p.state)
	p.state.Commands++
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if p.eventBus != nil {
		p.eventBus.Publish(core.Event{Type: core.PoiStateChangedEvent, Payload: snap})
	}
}

func (p *Poi) Ping() {
	p.update(func(s *State) { s.LastPing = p.now() })
}

// ChangeColor sets one LED. Indexes outside the current array are ignored.
func (p *Poi) ChangeColor(index uint8, c protocol.Color) {
	p.update(func(s *State) {
		if int(index) >= len(s.LEDs) {
			logger.WithFields(logrus.Fields{"index": index, "leds": len(s.LEDs)}).Debug("color index out of range")
			return
		}
		s.LEDs[index] = c
	})
}

func (p *Poi) GenerateColorArray(size uint8, c protocol.Color) {
	p.update(func(s *State) {
		s.LEDs = make([]protocol.Color, p.capSize(size))
		for i := range s.LEDs {
			s.LEDs[i] = c
		}
	})
}

func (p *Poi) GenerateScalingColorArray(size uint8, from, to protocol.Color, reverse bool) {
	p.update(func(s *State) {
		s.LEDs = Gradient(p.capSize(size), from, to, reverse)
	})
}

func (p *Poi) SetInterval(interval uint8) {
	p.update(func(s *State) { s.Interval = interval })
}

func (p *Poi) SetMode(mode, opts uint8) {
	p.update(func(s *State) {
		s.Mode = mode
		s.Opts = opts
	})
}

func (p *Poi) SetPattern(index uint8) {
	p.update(func(s *State) { s.Pattern = index })
}

func (p *Poi) capSize(size uint8) int {
	n := int(size)
	if n > p.maxLEDs {
		logger.WithFields(logrus.Fields{"size": n, "max": p.maxLEDs}).Warn("array size capped")
		n = p.maxLEDs
	}
	return n
}

// Gradient returns n colors interpolated linearly from -> to. With reverse
// the same colors are laid out to -> from.
func Gradient(n int, from, to protocol.Color, reverse bool) []protocol.Color {
	out := make([]protocol.Color, n)
	for i := 0; i < n; i++ {
		var t float64
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		c := protocol.Color{
			R: lerp(from.R, to.R, t),
			G: lerp(from.G, to.G, t),
			B: lerp(from.B, to.B, t),
		}
		if reverse {
			out[n-1-i] = c
		} else {
			out[i] = c
		}
	}
	return out
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}
