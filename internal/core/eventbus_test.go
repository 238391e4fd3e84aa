package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poi-controller/internal/protocol"
)

func TestEventBusDeliversByType(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(PoiStateChangedEvent)

	eb.Publish(Event{Type: CommandSentEvent, Payload: "ignored"})
	eb.Publish(Event{Type: PoiStateChangedEvent, Payload: 42})

	select {
	case ev := <-sub:
		assert.Equal(t, PoiStateChangedEvent, ev.Type)
		assert.Equal(t, 42, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Empty(t, sub)
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(FrameDroppedEvent, CommandSentEvent)
	eb.Unsubscribe(sub, FrameDroppedEvent)

	eb.Publish(Event{Type: FrameDroppedEvent})
	eb.Publish(Event{Type: CommandSentEvent})

	require.Len(t, sub, 1)
	assert.Equal(t, CommandSentEvent, (<-sub).Type)
}

func TestEventBusDropsWhenFull(t *testing.T) {
	eb := NewEventBus()
	sub := eb.Subscribe(CommandSentEvent)

	for i := 0; i < cap(sub)+10; i++ {
		eb.Publish(Event{Type: CommandSentEvent, Payload: i})
	}
	assert.Len(t, sub, cap(sub))
}

func TestStateClone(t *testing.T) {
	s := NewState()
	s.SetConnection(true, -60)
	s.SetRunningScript("spin.lua")
	now := time.Now()
	s.MarkSent(now)
	s.MarkSent(now)

	c := s.Clone()
	assert.True(t, c.IsConnected)
	assert.Equal(t, int16(-60), c.RSSI)
	assert.Equal(t, "spin.lua", c.RunningScript)
	assert.Equal(t, uint64(2), c.FramesSent)
	assert.Equal(t, now, c.LastSent)
}

func TestSendEnvelope(t *testing.T) {
	cmd := Send(protocol.SetPattern{Index: 2})
	assert.Equal(t, CmdSend, cmd.Type)
	assert.Equal(t, protocol.SetPattern{Index: 2}, cmd.Poi)
}
