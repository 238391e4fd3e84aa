// Package serial carries poi frames over a serial port. The byte stream has
// no delimiters; frames are cut using the arity of their leading tag.
package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	tarm "github.com/tarm/serial"
	"golang.org/x/time/rate"

	"poi-controller/internal/protocol"
)

var logger = logrus.WithField("component", "serial")

// Config describes the port to open.
type Config struct {
	Port      string
	Baud      int
	RateLimit float64
	RateBurst int
}

// Link is a bidirectional frame transport over a byte stream.
type Link struct {
	rw      io.ReadWriteCloser
	reader  *bufio.Reader
	limiter *rate.Limiter

	writeMu sync.Mutex
}

var (
	_ protocol.FrameSource = (*Link)(nil)
	_ protocol.FrameWriter = (*Link)(nil)
)

// Open opens the serial port described by cfg.
func Open(cfg Config) (*Link, error) {
	logger.Infof("opening serial port %s at %d baud", cfg.Port, cfg.Baud)
	port, err := tarm.OpenPort(&tarm.Config{Name: cfg.Port, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port '%s': %w", cfg.Port, err)
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return NewLink(port, limiter), nil
}

// NewLink wraps an already open stream. A nil limiter disables rate limiting.
func NewLink(rw io.ReadWriteCloser, limiter *rate.Limiter) *Link {
	return &Link{
		rw:      rw,
		reader:  bufio.NewReader(rw),
		limiter: limiter,
	}
}

// ReceiveFrame reads the next frame. A tag byte that maps to no action is
// returned alone together with an UnknownActionError so the caller can drop
// it and resynchronise on the following byte. Reads cannot be interrupted;
// close the link to unblock a pending call.
func (l *Link) ReceiveFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tag, err := l.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	action := protocol.Action(tag)
	if !action.Valid() {
		return []byte{tag}, &protocol.UnknownActionError{Tag: tag}
	}

	frame := make([]byte, action.FrameSize())
	frame[0] = tag
	if _, err := io.ReadFull(l.reader, frame[1:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading %s payload: %w", action, err)
	}
	return frame, nil
}

// WriteFrame writes one frame, waiting for the rate limiter first.
func (l *Link) WriteFrame(frame []byte) error {
	if l.limiter != nil {
		if d := l.limiter.Reserve().Delay(); d > 0 {
			time.Sleep(d)
		}
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.rw.Write(frame); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// Close closes the underlying port.
func (l *Link) Close() error {
	return l.rw.Close()
}
