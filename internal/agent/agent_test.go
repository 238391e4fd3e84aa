package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poi-controller/internal/config"
	"poi-controller/internal/core"
	"poi-controller/internal/protocol"
	"poi-controller/internal/scheduler"
)

type fakeLink struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error
	incoming chan []byte
}

func newFakeLink() *fakeLink {
	return &fakeLink{incoming: make(chan []byte, 8)}
}

func (l *fakeLink) WriteFrame(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.written = append(l.written, frame)
	return nil
}

func (l *fakeLink) ReceiveFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-l.incoming:
		return f, nil
	}
}

func (l *fakeLink) frames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.written...)
}

func newTestAgent(t *testing.T) (*Agent, *fakeLink) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Link:          config.LinkSerial,
		Poi:           config.PoiConfig{LEDs: 8},
		ScriptsDir:    filepath.Join(dir, "scripts"),
		SchedulesFile: filepath.Join(dir, "schedules.json"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a := newAgent(ctx, cancel, cfg)
	l := newFakeLink()
	a.link, a.linkName = l, "fake"
	a.runLink = func(ctx context.Context) { <-ctx.Done() }
	a.wire()
	return a, l
}

func TestSendWritesFrameAndUpdatesMirror(t *testing.T) {
	a, l := newTestAgent(t)
	sub := a.eventBus.Subscribe(core.CommandSentEvent)

	a.handleCommand(core.Send(protocol.SetPattern{Index: 3}))
	a.handleCommand(core.Send(protocol.GenerateColorArray{Size: 4, Color: protocol.Color{B: 255}}))

	assert.Equal(t, [][]byte{{6, 3}, {2, 4, 0, 0, 255}}, l.frames())

	snap := a.poi.Snapshot()
	assert.Equal(t, uint8(3), snap.Pattern)
	assert.Len(t, snap.LEDs, 4)

	assert.Equal(t, uint64(2), a.state.Clone().FramesSent)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.FramesSent.WithLabelValues("SetPattern")))

	require.Len(t, sub, 2)
	ev := <-sub
	assert.Equal(t, protocol.SetPattern{Index: 3}, ev.Payload)
}

func TestSendErrorLeavesMirrorUntouched(t *testing.T) {
	a, l := newTestAgent(t)
	l.writeErr = errors.New("port gone")

	err := a.Send(protocol.SetInterval{Interval: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send SetInterval")

	assert.Equal(t, uint8(0), a.poi.Snapshot().Interval)
	assert.Zero(t, a.state.Clone().FramesSent)
}

func TestReceivedFramesReachMirror(t *testing.T) {
	a, l := newTestAgent(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.receiver.Run(ctx, l) }()

	l.incoming <- []byte{7}
	l.incoming <- []byte{4, 1}
	l.incoming <- []byte{4, 9}

	require.Eventually(t, func() bool { return a.poi.Snapshot().Interval == 9 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.FramesDropped.WithLabelValues("unknown_action")))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.metrics.FramesDecoded.WithLabelValues("SetInterval")))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not stop")
	}
}

func TestLinkStatusUpdatesStateAndGauge(t *testing.T) {
	a, _ := newTestAgent(t)

	a.handleEvent(core.Event{Type: core.DeviceConnectedEvent, Payload: core.ConnectionPayload{Connected: true, RSSI: -42}})
	st := a.state.Clone()
	assert.True(t, st.IsConnected)
	assert.Equal(t, int16(-42), st.RSSI)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.LinkConnected))

	a.handleEvent(core.Event{Type: core.ScriptChangedEvent, Payload: "rainbow.lua"})
	assert.Equal(t, "rainbow.lua", a.state.Clone().RunningScript)

	a.handleEvent(core.Event{Type: core.DeviceConnectedEvent, Payload: core.ConnectionPayload{}})
	assert.False(t, a.state.Clone().IsConnected)
	assert.Equal(t, 0.0, testutil.ToFloat64(a.metrics.LinkConnected))
}

func TestScheduleCommands(t *testing.T) {
	a, _ := newTestAgent(t)
	sub := a.eventBus.Subscribe(core.ScheduleListEvent)

	a.handleCommand(core.Command{Type: core.CmdAddSchedule, Payload: map[string]interface{}{
		"spec": "@every 1h", "command": "pattern 2",
	}})
	all := a.scheduler.GetAll()
	require.Len(t, all, 1)
	require.Len(t, sub, 1)
	ev := <-sub
	assert.Equal(t, all, ev.Payload.(map[cron.EntryID]scheduler.ScheduleEntry))

	a.handleCommand(core.Command{Type: core.CmdAddSchedule, Payload: map[string]interface{}{
		"spec": "@every 1h", "command": "explode",
	}})
	assert.Len(t, a.scheduler.GetAll(), 1)
	assert.Empty(t, sub)

	var id cron.EntryID
	for k := range all {
		id = k
	}
	a.handleCommand(core.Command{Type: core.CmdRemoveSchedule, Payload: map[string]interface{}{"id": int(id)}})
	assert.Empty(t, a.scheduler.GetAll())
}

func TestScriptFileCommands(t *testing.T) {
	a, _ := newTestAgent(t)
	sub := a.eventBus.Subscribe(core.ScriptListEvent, core.ScriptCodeEvent)

	a.handleCommand(core.Command{Type: core.CmdSaveScriptCode, Payload: map[string]interface{}{
		"name": "blink.lua", "code": "ping()",
	}})
	ev := <-sub
	assert.Equal(t, core.ScriptListEvent, ev.Type)
	assert.Equal(t, []string{"blink.lua"}, ev.Payload)

	a.handleCommand(core.Command{Type: core.CmdGetScriptCode, Payload: map[string]interface{}{"name": "blink.lua"}})
	ev = <-sub
	assert.Equal(t, map[string]string{"name": "blink.lua", "code": "ping()"}, ev.Payload)

	a.handleCommand(core.Command{Type: core.CmdDeleteScript, Payload: map[string]interface{}{"name": "blink.lua"}})
	ev = <-sub
	assert.Equal(t, []string{}, ev.Payload)

	a.handleCommand(core.Command{Type: core.CmdSaveScriptCode, Payload: map[string]interface{}{
		"name": "../evil.lua", "code": "",
	}})
	assert.Empty(t, sub)
}

func TestManualCommandStopsScriptFirst(t *testing.T) {
	a, l := newTestAgent(t)

	require.NoError(t, a.luaEngine.SaveScriptCode("loop.lua", `
		while not should_stop() do
			set_pattern(1)
			sleep(1)
		end
	`))
	a.handleCommand(core.Command{Type: core.CmdRunScript, Payload: map[string]interface{}{"name": "loop.lua"}})
	require.Eventually(t, func() bool { return len(l.frames()) > 0 }, 5*time.Second, 5*time.Millisecond)
	a.state.SetRunningScript("loop.lua")

	a.handleCommand(core.Send(protocol.SetPattern{Index: 9}))

	n := len(l.frames())
	time.Sleep(30 * time.Millisecond)
	frames := l.frames()
	require.Len(t, frames, n, "script wrote after the manual command")
	assert.Equal(t, []byte{6, 9}, frames[len(frames)-1])
	assert.Equal(t, uint8(9), a.poi.Snapshot().Pattern)
}

func TestRunCodeCommand(t *testing.T) {
	a, l := newTestAgent(t)

	a.handleCommand(core.Command{Type: core.CmdRunCode, Payload: map[string]interface{}{"code": "set_interval(12)"}})
	require.Eventually(t, func() bool { return len(l.frames()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{4, 12}, l.frames()[0])

	a.handleCommand(core.Command{Type: core.CmdRunCode})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, l.frames(), 1)
}

func TestIntField(t *testing.T) {
	for _, v := range []interface{}{3, 3.0, "3"} {
		n, ok := intField(map[string]interface{}{"id": v}, "id")
		assert.True(t, ok)
		assert.Equal(t, 3, n)
	}
	_, ok := intField(map[string]interface{}{"id": "x"}, "id")
	assert.False(t, ok)
	_, ok = intField(nil, "id")
	assert.False(t, ok)
}
