package receiver

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poi-controller/internal/core"
	"poi-controller/internal/metrics"
	"poi-controller/internal/poi"
	"poi-controller/internal/protocol"
)

type step struct {
	frame []byte
	err   error
}

type scriptedSource struct {
	steps []step
}

func (s *scriptedSource) ReceiveFrame(ctx context.Context) ([]byte, error) {
	if len(s.steps) == 0 {
		return nil, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.frame, st.err
}

func TestRunSkipsBadFrames(t *testing.T) {
	m := metrics.New()
	eb := core.NewEventBus()
	dropped := eb.Subscribe(core.FrameDroppedEvent)
	p := poi.New(8, nil)
	r := New("test", p, m, eb)

	src := &scriptedSource{steps: []step{
		{frame: []byte{5, 1, 2}},
		{frame: []byte{7}},
		{frame: []byte{6, 1, 1}},
		{frame: []byte{9}, err: &protocol.UnknownActionError{Tag: 9}},
		{frame: []byte{6, 4}},
	}}

	require.NoError(t, r.Run(context.Background(), src))

	s := p.Snapshot()
	assert.Equal(t, uint8(1), s.Mode)
	assert.Equal(t, uint8(2), s.Opts)
	assert.Equal(t, uint8(4), s.Pattern)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues(metrics.ReasonUnknownAction)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues(metrics.ReasonMalformedPayload)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDecoded.WithLabelValues("SetPattern")))
	assert.Len(t, dropped, 3)

	ev := <-dropped
	payload := ev.Payload.(core.FrameDroppedPayload)
	assert.Equal(t, "test", payload.Source)
	assert.Equal(t, []byte{7}, payload.Frame)
	assert.ErrorIs(t, payload.Err, protocol.ErrUnknownAction)
}

func TestRunReturnsTransportError(t *testing.T) {
	r := New("test", protocol.HandlerFuncs{}, nil, nil)
	src := &scriptedSource{steps: []step{{err: errors.New("port closed")}}}

	err := r.Run(context.Background(), src)
	assert.ErrorContains(t, err, "port closed")
}

type blockingSource struct{}

func (blockingSource) ReceiveFrame(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunStopsOnCancel(t *testing.T) {
	r := New("test", protocol.HandlerFuncs{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, blockingSource{}) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("receiver did not stop")
	}
}

func TestHandleBatch(t *testing.T) {
	var got []protocol.Command
	h := protocol.HandlerFuncs{
		OnPing:       func() { got = append(got, protocol.Ping{}) },
		OnSetPattern: func(i uint8) { got = append(got, protocol.SetPattern{Index: i}) },
	}
	r := New("batch", h, nil, nil)

	cmds, err := r.HandleBatch([]byte{0, 6, 3, 0, 6})
	assert.ErrorIs(t, err, protocol.ErrMalformedPayload)
	assert.Equal(t, []protocol.Command{protocol.Ping{}, protocol.SetPattern{Index: 3}, protocol.Ping{}}, cmds)
	assert.Equal(t, cmds, got)
}
