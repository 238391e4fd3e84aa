// Package receiver runs the receive side of a poi link: it pulls frames from a
// transport, dispatches them and reports the ones it has to drop.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"poi-controller/internal/core"
	"poi-controller/internal/metrics"
	"poi-controller/internal/protocol"
)

// Receiver feeds frames into a protocol.Dispatcher. A bad frame is logged,
// counted and published, then skipped.
type Receiver struct {
	source     string
	dispatcher *protocol.Dispatcher
	metrics    *metrics.Metrics
	eventBus   *core.EventBus
	log        *logrus.Entry
}

// New creates a receiver for frames coming from source (used in logs and events).
// Metrics and event bus may be nil.
func New(source string, h protocol.Handler, m *metrics.Metrics, eb *core.EventBus) *Receiver {
	return &Receiver{
		source:     source,
		dispatcher: protocol.NewDispatcher(h),
		metrics:    m,
		eventBus:   eb,
		log:        logrus.WithFields(logrus.Fields{"component": "receiver", "source": source}),
	}
}

// Handle dispatches one frame. Errors are reported before being returned.
func (r *Receiver) Handle(frame []byte) (protocol.Command, error) {
	cmd, err := r.dispatcher.Dispatch(frame)
	if err != nil {
		r.drop(frame, err)
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.ObserveDecoded(cmd.Action())
	}
	r.log.WithField("action", cmd.Action()).Debugf("dispatched %v", cmd)
	return cmd, nil
}

// HandleBatch dispatches back-to-back frames from one buffer. Everything
// before the first bad frame is applied.
func (r *Receiver) HandleBatch(buf []byte) ([]protocol.Command, error) {
	var cmds []protocol.Command
	for len(buf) > 0 {
		frame, rest, err := protocol.Split(buf)
		if err != nil {
			r.drop(buf, err)
			return cmds, err
		}
		cmd, err := r.Handle(frame)
		if err != nil {
			return cmds, err
		}
		cmds = append(cmds, cmd)
		buf = rest
	}
	return cmds, nil
}

// Run receives frames until ctx is done or src reports io.EOF.
// Decode errors reported by src are treated like bad frames; any other
// source error stops the loop and is returned.
func (r *Receiver) Run(ctx context.Context, src protocol.FrameSource) error {
	r.log.Info("receiver started")
	defer r.log.Info("receiver stopped")

	for {
		frame, err := src.ReceiveFrame(ctx)
		switch {
		case err == nil:
			_, _ = r.Handle(frame)
		case errors.Is(err, io.EOF):
			return nil
		case ctx.Err() != nil:
			return nil
		case isDecodeError(err):
			r.drop(frame, err)
		default:
			if r.metrics != nil {
				r.metrics.ObserveDropped(err)
			}
			return fmt.Errorf("receive from %s: %w", r.source, err)
		}
	}
}

func (r *Receiver) drop(frame []byte, err error) {
	fields := logrus.Fields{"frame": fmt.Sprintf("% x", frame)}
	var uerr *protocol.UnknownActionError
	var merr *protocol.MalformedPayloadError
	switch {
	case errors.As(err, &uerr):
		fields["tag"] = uerr.Tag
	case errors.As(err, &merr):
		fields["action"] = merr.Action
		fields["expected"] = merr.Expected
		fields["actual"] = merr.Actual
	}
	r.log.WithFields(fields).WithError(err).Warn("dropping frame")

	if r.metrics != nil {
		r.metrics.ObserveDropped(err)
	}
	if r.eventBus != nil {
		r.eventBus.Publish(core.Event{
			Type:    core.FrameDroppedEvent,
			Payload: core.FrameDroppedPayload{Source: r.source, Frame: append([]byte(nil), frame...), Err: err},
		})
	}
}

func isDecodeError(err error) bool {
	return errors.Is(err, protocol.ErrUnknownAction) || errors.Is(err, protocol.ErrMalformedPayload)
}
