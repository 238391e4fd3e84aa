// Package ble connects to a poi over Bluetooth Low Energy. Frames are written
// to a UART-style characteristic and notifications from the same
// characteristic are delivered as incoming frames.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"tinygo.org/x/bluetooth"

	"poi-controller/internal/protocol"
)

var (
	adapter = bluetooth.DefaultAdapter
	logger  = logrus.WithField("component", "ble")

	// HM-10 style serial bridge used by the poi boards.
	DefaultServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	DefaultCharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

var (
	// ErrQueueFull is returned by WriteFrame when the outgoing queue is saturated.
	ErrQueueFull = errors.New("ble command queue full")
	// ErrNotConnected is returned by WriteFrame while no poi is attached.
	ErrNotConnected = errors.New("ble link not connected")
)

// Options configures a Controller.
type Options struct {
	DeviceNames        []string
	ServiceUUID        string
	CharacteristicUUID string
	ScanTimeout        time.Duration
	ConnectTimeout     time.Duration
	HeartbeatInterval  time.Duration
	RetryDelay         time.Duration
	RateLimit          float64
	RateBurst          int
}

// Controller manages the BLE connection and the frame queue.
type Controller struct {
	mu             sync.RWMutex
	characteristic bluetooth.DeviceCharacteristic
	connected      bool

	// disconnectChan is buffered so signalling never blocks.
	disconnectChan chan struct{}
	commandChan    chan []byte
	incoming       chan []byte

	opts               Options
	serviceUUID        bluetooth.UUID
	characteristicUUID bluetooth.UUID
	limiter            *rate.Limiter
}

var (
	_ protocol.FrameWriter = (*Controller)(nil)
	_ protocol.FrameSource = (*Controller)(nil)
)

// NewController creates a controller and starts its writer loop. Run must be
// called to actually connect.
func NewController(ctx context.Context, opts Options) (*Controller, error) {
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = DefaultServiceUUID
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = DefaultCharacteristicUUID
	}
	serviceUUID, err := bluetooth.ParseUUID(opts.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service uuid '%s': %w", opts.ServiceUUID, err)
	}
	characteristicUUID, err := bluetooth.ParseUUID(opts.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic uuid '%s': %w", opts.CharacteristicUUID, err)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}

	c := &Controller{
		opts:               opts,
		serviceUUID:        serviceUUID,
		characteristicUUID: characteristicUUID,
		commandChan:        make(chan []byte, opts.RateBurst*2),
		incoming:           make(chan []byte, 32),
		disconnectChan:     make(chan struct{}, 1),
		limiter:            rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
	}

	go c.commandWriterLoop(ctx)
	return c, nil
}

// WriteFrame queues a frame for sending. It never blocks. Frames are refused
// while the poi is not connected.
func (c *Controller) WriteFrame(frame []byte) error {
	if _, ok := c.currentCharacteristic(); !ok {
		return ErrNotConnected
	}
	select {
	case c.commandChan <- frame:
		return nil
	default:
		logger.Warnf("BLE command queue full, dropping frame: % x", frame)
		return ErrQueueFull
	}
}

// ReceiveFrame returns the next notification from the poi. Each notification
// carries one frame.
func (c *Controller) ReceiveFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame := <-c.incoming:
		return frame, nil
	}
}

func (c *Controller) currentCharacteristic() (bluetooth.DeviceCharacteristic, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.characteristic, c.connected
}

func (c *Controller) setCharacteristic(ch bluetooth.DeviceCharacteristic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.characteristic = ch
	c.connected = ch.UUID() != (bluetooth.UUID{})
}

// commandWriterLoop drains the queue and writes frames at the configured rate.
func (c *Controller) commandWriterLoop(ctx context.Context) {
	logger.Debug("BLE command writer loop started.")
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.commandChan:
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}

			ch, ok := c.currentCharacteristic()
			if !ok {
				logger.Warnf("link went down, dropping queued frame: % x", frame)
				continue
			}

			if _, err := ch.WriteWithoutResponse(frame); err != nil {
				logger.WithError(err).Warn("failed to write to poi (assuming disconnected)")
				c.signalDisconnect()
			}
		}
	}
}

// signalDisconnect safely sends a disconnect signal.
func (c *Controller) signalDisconnect() {
	select {
	case c.disconnectChan <- struct{}{}:
	default:
	}
}

func (c *Controller) onNotification(buf []byte) {
	frame := append([]byte(nil), buf...)
	select {
	case c.incoming <- frame:
	default:
		logger.Warnf("incoming queue full, dropping notification: % x", frame)
	}
}

func contains(s []string, str string) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}
	return false
}
