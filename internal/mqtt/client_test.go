package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poi-controller/internal/config"
	"poi-controller/internal/core"
	"poi-controller/internal/protocol"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestClient(t *testing.T) (*Client, core.CommandChannel, *core.EventBus) {
	t.Helper()
	ch := make(core.CommandChannel, 16)
	eb := core.NewEventBus()
	c := newClient(config.MQTTConfig{TopicPrefix: "poi/"}, 36, ch, eb)
	return c, ch, eb
}

func drain(ch core.CommandChannel) []core.Command {
	var out []core.Command
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestNewClientDisabled(t *testing.T) {
	assert.Nil(t, NewClient(config.MQTTConfig{}, 36, nil, nil))
}

func TestTopicPrefix(t *testing.T) {
	c, _, _ := newTestClient(t)
	assert.Equal(t, "poi/frame/set", c.topic("frame/set"))
}

func TestHandleFrame(t *testing.T) {
	c, ch, eb := newTestClient(t)
	sub := eb.Subscribe(core.FrameDroppedEvent)

	c.handleFrame(nil, fakeMessage{payload: []byte{6, 3, 4, 20}})
	assert.Equal(t, []core.Command{
		core.Send(protocol.SetPattern{Index: 3}),
		core.Send(protocol.SetInterval{Interval: 20}),
	}, drain(ch))
	assert.Empty(t, sub)

	c.handleFrame(nil, fakeMessage{payload: []byte{0, 9}})
	assert.Equal(t, []core.Command{core.Send(protocol.Ping{})}, drain(ch))
	require.Len(t, sub, 1)
	ev := <-sub
	p := ev.Payload.(core.FrameDroppedPayload)
	assert.Equal(t, "mqtt", p.Source)
	assert.ErrorIs(t, p.Err, protocol.ErrUnknownAction)

	c.handleFrame(nil, fakeMessage{})
	assert.Empty(t, drain(ch))
	ev = <-sub
	assert.ErrorIs(t, ev.Payload.(core.FrameDroppedPayload).Err, protocol.ErrEmptyFrame)
}

func TestHandlePoiTopics(t *testing.T) {
	c, ch, _ := newTestClient(t)
	h := c.handlers()

	h["pattern/set"](nil, fakeMessage{payload: []byte("4")})
	h["mode/set"](nil, fakeMessage{payload: []byte("2,7")})
	h["interval/set"](nil, fakeMessage{payload: []byte(" 15\n")})
	h["color/set"](nil, fakeMessage{payload: []byte("#00FF00")})
	h["color/set"](nil, fakeMessage{payload: []byte("1, 2, 3")})
	h["script/run"](nil, fakeMessage{payload: []byte("rainbow.lua")})
	h["script/stop"](nil, fakeMessage{})
	h["script/exec"](nil, fakeMessage{payload: []byte("set_pattern(7)")})

	assert.Equal(t, []core.Command{
		core.Send(protocol.SetPattern{Index: 4}),
		core.Send(protocol.SetMode{Mode: 2, Opts: 7}),
		core.Send(protocol.SetInterval{Interval: 15}),
		core.Send(protocol.GenerateColorArray{Size: 36, Color: protocol.Color{G: 255}}),
		core.Send(protocol.GenerateColorArray{Size: 36, Color: protocol.Color{R: 1, G: 2, B: 3}}),
		{Type: core.CmdRunScript, Payload: map[string]interface{}{"name": "rainbow.lua"}},
		{Type: core.CmdStopScript},
		{Type: core.CmdRunCode, Payload: map[string]interface{}{"code": "set_pattern(7)"}},
	}, drain(ch))
}

func TestHandlePoiIgnoresBadPayloads(t *testing.T) {
	c, ch, _ := newTestClient(t)
	h := c.handlers()

	h["pattern/set"](nil, fakeMessage{payload: []byte("256")})
	h["mode/set"](nil, fakeMessage{payload: []byte("1,2,3")})
	h["interval/set"](nil, fakeMessage{payload: []byte("fast")})
	h["color/set"](nil, fakeMessage{payload: []byte("1,2")})
	h["script/run"](nil, fakeMessage{payload: []byte("  ")})
	h["script/exec"](nil, fakeMessage{payload: []byte("\n")})

	assert.Empty(t, drain(ch))
}

func TestParseMode(t *testing.T) {
	cmd, err := parseMode("3")
	require.NoError(t, err)
	assert.Equal(t, protocol.SetMode{Mode: 3}, cmd)

	_, err = parseMode("3,x")
	assert.Error(t, err)
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    protocol.Color
		wantErr bool
	}{
		{"#FF0080", protocol.Color{R: 255, B: 128}, false},
		{"0a0b0c", protocol.Color{R: 10, G: 11, B: 12}, false},
		{"255,128,0", protocol.Color{R: 255, G: 128}, false},
		{"300,0,0", protocol.Color{}, true},
		{"red", protocol.Color{}, true},
	}
	for _, tt := range tests {
		got, err := parseColor(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
