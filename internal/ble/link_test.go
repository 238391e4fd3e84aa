package ble

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

func TestNewControllerRejectsBadUUID(t *testing.T) {
	_, err := NewController(context.Background(), Options{ServiceUUID: "not-a-uuid"})
	assert.Error(t, err)
}

func TestWriteFrameQueueFull(t *testing.T) {
	c := &Controller{commandChan: make(chan []byte, 2), connected: true}

	require.NoError(t, c.WriteFrame([]byte{0}))
	require.NoError(t, c.WriteFrame([]byte{6, 1}))
	assert.ErrorIs(t, c.WriteFrame([]byte{6, 2}), ErrQueueFull)
}

func TestWriteFrameRefusedWhileDisconnected(t *testing.T) {
	c := &Controller{commandChan: make(chan []byte, 2)}

	assert.ErrorIs(t, c.WriteFrame([]byte{6, 1}), ErrNotConnected)
	assert.Empty(t, c.commandChan)

	c.setCharacteristic(bluetooth.DeviceCharacteristic{})
	assert.ErrorIs(t, c.WriteFrame([]byte{0}), ErrNotConnected)
}

func TestNotificationsBecomeFrames(t *testing.T) {
	c := &Controller{incoming: make(chan []byte, 1)}

	buf := []byte{5, 1, 2}
	c.onNotification(buf)
	buf[0] = 0xFF

	// queue is full, second notification is dropped
	c.onNotification([]byte{0})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame, err := c.ReceiveFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 1, 2}, frame)

	cancel()
	_, err = c.ReceiveFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContains(t *testing.T) {
	assert.True(t, contains([]string{"POI-L", "POI-R"}, "POI-R"))
	assert.False(t, contains([]string{"POI-L"}, "poi-l"))
	assert.False(t, contains(nil, ""))
}
