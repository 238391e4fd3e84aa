// Package mqtt bridges the agent to an MQTT broker: raw frames and per-action
// topics come in as commands, poi state goes out on retained state topics.
package mqtt

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"poi-controller/internal/config"
	"poi-controller/internal/core"
	"poi-controller/internal/poi"
	"poi-controller/internal/protocol"
)

var logger = logrus.WithField("component", "mqtt")

// Client owns the broker connection.
type Client struct {
	client         paho.Client
	cfg            config.MQTTConfig
	commandChannel core.CommandChannel
	eventBus       *core.EventBus
	prefix         string
	fillSize       uint8
}

// NewClient creates a client, or returns nil when MQTT is disabled.
// leds is the array size used by color/set.
func NewClient(cfg config.MQTTConfig, leds int, ch core.CommandChannel, eb *core.EventBus) *Client {
	if !cfg.Enabled {
		return nil
	}

	c := newClient(cfg, leds, ch, eb)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// keep retrying at startup, the broker container may still be booting
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	// frames must reach the poi in the order they were published
	opts.SetOrderMatters(true)

	opts.SetWill(c.topic("availability"), "offline", 1, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.WithError(err).Warn("connection lost, retrying in background")
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		logger.Info("attempting to reconnect")
	})

	c.client = paho.NewClient(opts)
	return c
}

func newClient(cfg config.MQTTConfig, leds int, ch core.CommandChannel, eb *core.EventBus) *Client {
	if leds <= 0 || leds > 255 {
		leds = 255
	}
	return &Client{
		cfg:            cfg,
		commandChannel: ch,
		eventBus:       eb,
		prefix:         strings.TrimSuffix(cfg.TopicPrefix, "/"),
		fillSize:       uint8(leds),
	}
}

// Connect starts the connection loop and waits for the first handshake.
func (c *Client) Connect() error {
	logger.Infof("connecting to %s", c.cfg.Broker)
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Disconnect publishes the offline status and closes the connection.
func (c *Client) Disconnect() {
	if !c.client.IsConnected() {
		return
	}
	token := c.client.Publish(c.topic("availability"), 0, true, "offline")
	if !token.WaitTimeout(2 * time.Second) {
		logger.Warn("timed out publishing offline status")
	} else if token.Error() != nil {
		logger.WithError(token.Error()).Warn("failed to publish offline status")
	}
	c.client.Disconnect(250)
	logger.Info("disconnected")
}

// Run mirrors agent events onto the state topics until ctx is done.
func (c *Client) Run(ctx context.Context) {
	types := []core.EventType{core.PoiStateChangedEvent, core.DeviceConnectedEvent, core.ScriptChangedEvent}
	sub := c.eventBus.Subscribe(types...)
	defer c.eventBus.Unsubscribe(sub, types...)

	var last poi.State
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub:
			switch p := ev.Payload.(type) {
			case poi.State:
				c.publishPoiState(last, p)
				last = p
			case core.ConnectionPayload:
				c.Publish("connection", connectionState(p.Connected), true)
			case string:
				c.Publish("script/state", p, true)
			}
		}
	}
}

// publishPoiState sends only the fields that changed since prev.
func (c *Client) publishPoiState(prev, cur poi.State) {
	first := prev.Commands == 0
	if first || cur.Pattern != prev.Pattern {
		c.Publish("pattern/state", cur.Pattern, true)
	}
	if first || cur.Mode != prev.Mode || cur.Opts != prev.Opts {
		c.Publish("mode/state", fmt.Sprintf("%d,%d", cur.Mode, cur.Opts), true)
	}
	if first || cur.Interval != prev.Interval {
		c.Publish("interval/state", cur.Interval, true)
	}
	if len(cur.LEDs) > 0 {
		if first || len(prev.LEDs) == 0 || cur.LEDs[0] != prev.LEDs[0] {
			col := cur.LEDs[0]
			c.Publish("color/state", fmt.Sprintf("%d,%d,%d", col.R, col.G, col.B), true)
		}
	}
}

// Publish sends payload to <prefix>/<subtopic> without waiting for the ack.
func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	topic := c.topic(subtopic)
	token := c.client.Publish(topic, 0, retained, fmt.Sprintf("%v", payload))
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			logger.Warnf("timeout publishing to %s", topic)
		} else if token.Error() != nil {
			logger.WithError(token.Error()).Warnf("publish error to %s", topic)
		}
	}()
}

func (c *Client) topic(sub string) string {
	return c.prefix + "/" + sub
}

// onConnect is called by paho from its own goroutine after every (re)connect.
func (c *Client) onConnect(client paho.Client) {
	logger.Info("connected to broker")

	for sub, handler := range c.handlers() {
		topic := c.topic(sub)
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			logger.WithError(token.Error()).Errorf("error subscribing to %s", topic)
		} else {
			logger.Debugf("subscribed to %s", topic)
		}
	}

	go c.Publish("availability", "online", true)
}

func (c *Client) handlers() map[string]paho.MessageHandler {
	return map[string]paho.MessageHandler{
		"frame/set":    c.handleFrame,
		"pattern/set":  c.handlePoi(parsePattern),
		"mode/set":     c.handlePoi(parseMode),
		"interval/set": c.handlePoi(parseInterval),
		"color/set":    c.handlePoi(c.parseFill),
		"script/run":   c.handleScriptRun,
		"script/stop":  c.handleScriptStop,
		"script/exec":  c.handleScriptExec,
	}
}

// handleFrame takes one or more raw frames back to back. Commands before a
// bad frame are still sent.
func (c *Client) handleFrame(_ paho.Client, msg paho.Message) {
	cmds, err := protocol.DecodeAll(msg.Payload())
	if len(msg.Payload()) == 0 {
		err = protocol.ErrEmptyFrame
	}
	for _, cmd := range cmds {
		c.commandChannel <- core.Send(cmd)
	}
	if err != nil {
		logger.WithError(err).WithField("frame", hex.EncodeToString(msg.Payload())).Warn("dropping frame")
		c.eventBus.Publish(core.Event{
			Type:    core.FrameDroppedEvent,
			Payload: core.FrameDroppedPayload{Source: "mqtt", Frame: append([]byte(nil), msg.Payload()...), Err: err},
		})
	}
}

func (c *Client) handlePoi(parse func(string) (protocol.Command, error)) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		cmd, err := parse(strings.TrimSpace(string(msg.Payload())))
		if err != nil {
			logger.WithError(err).WithField("topic", msg.Topic()).Warn("ignoring message")
			return
		}
		c.commandChannel <- core.Send(cmd)
	}
}

func (c *Client) handleScriptRun(_ paho.Client, msg paho.Message) {
	name := strings.TrimSpace(string(msg.Payload()))
	if name == "" {
		return
	}
	c.commandChannel <- core.Command{Type: core.CmdRunScript, Payload: map[string]interface{}{"name": name}}
}

func (c *Client) handleScriptStop(paho.Client, paho.Message) {
	c.commandChannel <- core.Command{Type: core.CmdStopScript}
}

// handleScriptExec runs the payload as a one-off chunk of Lua.
func (c *Client) handleScriptExec(_ paho.Client, msg paho.Message) {
	code := string(msg.Payload())
	if strings.TrimSpace(code) == "" {
		return
	}
	c.commandChannel <- core.Command{Type: core.CmdRunCode, Payload: map[string]interface{}{"code": code}}
}

func (c *Client) parseFill(s string) (protocol.Command, error) {
	col, err := parseColor(s)
	if err != nil {
		return nil, err
	}
	return protocol.GenerateColorArray{Size: c.fillSize, Color: col}, nil
}

func parsePattern(s string) (protocol.Command, error) {
	v, err := parseByte(s)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	return protocol.SetPattern{Index: v}, nil
}

func parseInterval(s string) (protocol.Command, error) {
	v, err := parseByte(s)
	if err != nil {
		return nil, fmt.Errorf("interval: %w", err)
	}
	return protocol.SetInterval{Interval: v}, nil
}

// parseMode accepts "mode" or "mode,opts".
func parseMode(s string) (protocol.Command, error) {
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return nil, fmt.Errorf("mode: expected 'mode[,opts]', got %q", s)
	}
	mode, err := parseByte(parts[0])
	if err != nil {
		return nil, fmt.Errorf("mode: %w", err)
	}
	cmd := protocol.SetMode{Mode: mode}
	if len(parts) == 2 {
		if cmd.Opts, err = parseByte(parts[1]); err != nil {
			return nil, fmt.Errorf("mode opts: %w", err)
		}
	}
	return cmd, nil
}

// parseColor accepts "#RRGGBB", "RRGGBB" or "r,g,b".
func parseColor(s string) (protocol.Color, error) {
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != 3 {
			return protocol.Color{}, fmt.Errorf("color: expected 'r,g,b', got %q", s)
		}
		var rgb [3]uint8
		for i, p := range parts {
			v, err := parseByte(p)
			if err != nil {
				return protocol.Color{}, fmt.Errorf("color: %w", err)
			}
			rgb[i] = v
		}
		return protocol.Color{R: rgb[0], G: rgb[1], B: rgb[2]}, nil
	}
	return protocol.ParseHexColor(s)
}

func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func connectionState(up bool) string {
	if up {
		return "connected"
	}
	return "disconnected"
}
