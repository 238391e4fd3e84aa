package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"poi-controller/internal/protocol"
)

func TestDropReason(t *testing.T) {
	_, err := protocol.Decode([]byte{9})
	assert.Equal(t, ReasonUnknownAction, DropReason(err))

	_, err = protocol.Decode([]byte{1, 2})
	assert.Equal(t, ReasonMalformedPayload, DropReason(err))

	assert.Equal(t, ReasonUnknownAction, DropReason(protocol.ErrEmptyFrame))
	assert.Equal(t, ReasonTransport, DropReason(errors.New("read timeout")))
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveDecoded(protocol.ActionSetMode)
	m.ObserveDecoded(protocol.ActionSetMode)
	m.ObserveSent(protocol.ActionPing)
	m.ObserveDropped(protocol.ErrEmptyFrame)
	m.SetConnected(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesDecoded.WithLabelValues("SetMode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("Ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues(ReasonUnknownAction)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkConnected))

	m.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LinkConnected))
}
