package ble

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"

	"poi-controller/internal/protocol"
)

// Run keeps a connection to the first poi advertising one of the configured
// names, reconnecting until ctx is cancelled. onStatusChange is called on
// every connect and disconnect.
func (c *Controller) Run(ctx context.Context, onStatusChange func(connected bool, rssi int16)) {
	onStatusChange(false, 0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("BLE controller shutting down.")
			return
		default:
		}

		if err := adapter.Enable(); err != nil {
			logger.WithError(err).Error("failed to enable adapter")
			c.sleep(ctx)
			continue
		}

		// drain a stale disconnect signal from the previous session
		select {
		case <-c.disconnectChan:
		default:
		}
		c.setCharacteristic(bluetooth.DeviceCharacteristic{})

		result, ok := c.scan(ctx)
		if !ok {
			c.sleep(ctx)
			continue
		}

		device, ok := c.connect(ctx, result)
		if !ok {
			c.sleep(ctx)
			continue
		}

		logger.Infof("Connected to %s", result.LocalName())

		if !c.discover(ctx, device) {
			device.Disconnect()
			c.sleep(ctx)
			continue
		}

		logger.Info("poi is ready.")
		onStatusChange(true, result.RSSI)

		c.superviseConnection(ctx)

		onStatusChange(false, 0)
		c.setCharacteristic(bluetooth.DeviceCharacteristic{})
		if err := device.Disconnect(); err != nil {
			logger.WithError(err).Warn("disconnect warning")
		}
		if ctx.Err() != nil {
			return
		}
		c.sleep(ctx)
	}
}

func (c *Controller) scan(ctx context.Context) (bluetooth.ScanResult, bool) {
	logger.Info("Scanning for poi...")

	// a previous scan may still be hanging
	adapter.StopScan()

	ch := make(chan bluetooth.ScanResult, 1)
	go func() {
		err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if contains(c.opts.DeviceNames, result.LocalName()) {
				adapter.StopScan()
				select {
				case ch <- result:
				default:
				}
			}
		})
		if err != nil {
			logger.WithError(err).Warn("scan error")
		}
	}()

	scanCtx, cancelScan := context.WithTimeout(ctx, c.opts.ScanTimeout)
	defer cancelScan()
	select {
	case result := <-ch:
		logger.Infof("Found device: %s (RSSI: %d)", result.LocalName(), result.RSSI)
		return result, true
	case <-scanCtx.Done():
		adapter.StopScan()
		logger.Info("Scan timed out or interrupted. Retrying...")
		return bluetooth.ScanResult{}, false
	}
}

func (c *Controller) connect(ctx context.Context, result bluetooth.ScanResult) (bluetooth.Device, bool) {
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan connectResult, 1)

	logger.Infof("Connecting to %s...", result.Address.String())
	go func() {
		d, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
		done <- connectResult{device: d, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			logger.WithError(r.err).Warn("connection failed")
			return bluetooth.Device{}, false
		}
		return r.device, true
	case <-time.After(c.opts.ConnectTimeout):
		logger.Warn("Connection attempt timed out (BlueZ stuck?). Retrying...")
		adapter.StopScan()
		return bluetooth.Device{}, false
	case <-ctx.Done():
		return bluetooth.Device{}, false
	}
}

// discover finds the frame characteristic and subscribes to its notifications.
func (c *Controller) discover(ctx context.Context, device bluetooth.Device) bool {
	done := make(chan error, 1)
	go func() {
		services, err := device.DiscoverServices([]bluetooth.UUID{c.serviceUUID})
		if err != nil || len(services) == 0 {
			done <- errOrMissing(err, "service")
			return
		}
		chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{c.characteristicUUID})
		if err != nil || len(chars) == 0 {
			done <- errOrMissing(err, "characteristic")
			return
		}
		if err := chars[0].EnableNotifications(c.onNotification); err != nil {
			logger.WithError(err).Warn("notifications unavailable, link is write-only")
		}
		c.setCharacteristic(chars[0])
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.WithError(err).Warn("service discovery failed")
			return false
		}
		return true
	case <-time.After(c.opts.ConnectTimeout):
		logger.Warn("Service discovery timed out. Disconnecting...")
		return false
	case <-ctx.Done():
		return false
	}
}

// superviseConnection pings the poi on every heartbeat until the link breaks
// or ctx is cancelled.
func (c *Controller) superviseConnection(ctx context.Context) {
	heartbeat := time.NewTicker(c.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	ping := protocol.Encode(protocol.Ping{})
	for {
		select {
		case <-heartbeat.C:
			ch, ok := c.currentCharacteristic()
			if !ok {
				return
			}
			if _, err := ch.WriteWithoutResponse(ping); err != nil {
				logger.WithError(err).Warn("heartbeat failed")
				return
			}
		case <-c.disconnectChan:
			logger.Info("Disconnection signal received. Resetting connection...")
			return
		case <-ctx.Done():
			logger.Info("Disconnecting due to shutdown...")
			return
		}
	}
}

func (c *Controller) sleep(ctx context.Context) {
	select {
	case <-time.After(c.opts.RetryDelay):
	case <-ctx.Done():
	}
}

func errOrMissing(err error, what string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("%s not found", what)
}
