package core

import (
	"sync"
	"time"
)

// State holds the link-level view of the poi: connection and activity.
// The rendered poi state itself lives in the poi package.
type State struct {
	mu            sync.RWMutex
	IsConnected   bool
	RSSI          int16
	RunningScript string
	FramesSent    uint64
	LastSent      time.Time
}

// NewState creates a new State instance.
func NewState() *State {
	return &State{}
}

// Clone returns a snapshot of the current state for safe reading.
func (s *State) Clone() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		IsConnected:   s.IsConnected,
		RSSI:          s.RSSI,
		RunningScript: s.RunningScript,
		FramesSent:    s.FramesSent,
		LastSent:      s.LastSent,
	}
}

// SetConnection updates connection state.
func (s *State) SetConnection(connected bool, rssi int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsConnected = connected
	s.RSSI = rssi
}

// SetRunningScript updates the running script name.
func (s *State) SetRunningScript(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunningScript = name
}

// MarkSent records one frame handed to the link.
func (s *State) MarkSent(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesSent++
	s.LastSent = at
}
