// Package agent wires the poi link, the command producers (WebSocket, MQTT,
// scripts, schedules) and the local poi mirror around one command loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"poi-controller/internal/ble"
	"poi-controller/internal/config"
	"poi-controller/internal/core"
	"poi-controller/internal/lua"
	"poi-controller/internal/metrics"
	"poi-controller/internal/mqtt"
	"poi-controller/internal/poi"
	"poi-controller/internal/protocol"
	"poi-controller/internal/receiver"
	"poi-controller/internal/scheduler"
	"poi-controller/internal/serial"
	"poi-controller/internal/server"
)

var logger = logrus.WithField("component", "agent")

// link is a bidirectional frame transport to the poi.
type link interface {
	protocol.FrameWriter
	protocol.FrameSource
}

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup

	state          *core.State
	eventBus       *core.EventBus
	commandChannel core.CommandChannel
	metrics        *metrics.Metrics

	// poi mirrors what the poi should be rendering
	poi    *poi.Poi
	mirror *protocol.Dispatcher

	link     link
	linkName string
	runLink  func(ctx context.Context)
	sender   *protocol.Sender
	receiver *receiver.Receiver

	luaEngine  *lua.Engine
	scheduler  *scheduler.Scheduler
	server     *server.Server
	mqttClient *mqtt.Client
}

var _ lua.CommandSink = (*Agent)(nil)

// NewAgent opens the configured link and builds every component.
func NewAgent(cfg *config.Config) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := newAgent(ctx, cancel, cfg)

	if err := a.openLink(); err != nil {
		cancel()
		return nil, err
	}
	a.wire()
	return a, nil
}

func newAgent(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) *Agent {
	eb := core.NewEventBus()
	p := poi.New(cfg.Poi.LEDs, eb)
	return &Agent{
		ctx:            ctx,
		cancel:         cancel,
		config:         cfg,
		state:          core.NewState(),
		eventBus:       eb,
		commandChannel: make(core.CommandChannel, 20),
		metrics:        metrics.New(),
		poi:            p,
		mirror:         protocol.NewDispatcher(p),
	}
}

func (a *Agent) openLink() error {
	switch a.config.Link {
	case config.LinkSerial:
		l, err := serial.Open(serial.Config{
			Port:      a.config.Serial.Port,
			Baud:      a.config.Serial.Baud,
			RateLimit: a.config.Serial.RateLimit,
			RateBurst: a.config.Serial.RateBurst,
		})
		if err != nil {
			return err
		}
		a.link, a.linkName = l, "serial"
		a.runLink = func(ctx context.Context) {
			// an open port is as connected as a serial line gets
			a.onLinkStatus(true, 0)
			<-ctx.Done()
			if err := l.Close(); err != nil {
				logger.WithError(err).Warn("closing serial port")
			}
			a.onLinkStatus(false, 0)
		}

	default:
		d, err := a.config.BLEDurations()
		if err != nil {
			return err
		}
		bc, err := ble.NewController(a.ctx, ble.Options{
			DeviceNames:        a.config.BLE.DeviceNames,
			ServiceUUID:        a.config.BLE.ServiceUUID,
			CharacteristicUUID: a.config.BLE.CharacteristicUUID,
			ScanTimeout:        d.Scan,
			ConnectTimeout:     d.Connect,
			HeartbeatInterval:  d.Heartbeat,
			RetryDelay:         d.Retry,
			RateLimit:          a.config.BLE.RateLimit,
			RateBurst:          a.config.BLE.RateBurst,
		})
		if err != nil {
			return fmt.Errorf("ble setup: %w", err)
		}
		a.link, a.linkName = bc, "ble"
		a.runLink = func(ctx context.Context) { bc.Run(ctx, a.onLinkStatus) }
	}
	return nil
}

// wire builds everything that depends on the link.
func (a *Agent) wire() {
	cfg := a.config

	a.sender = protocol.NewSender(a.link)
	a.receiver = receiver.New(a.linkName, a.poi, a.metrics, a.eventBus)
	a.luaEngine = lua.NewEngine(a, cfg.ScriptsDir, a.eventBus)
	a.scheduler = scheduler.NewScheduler(a.commandChannel, cfg.SchedulesFile)

	var metricsHandler http.Handler
	if cfg.Server.MetricsEnabled {
		metricsHandler = promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{})
	}
	a.server = server.NewServer(server.Options{
		Port:           cfg.Server.Port,
		StaticFilesDir: cfg.Server.WebFilesDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsHandler: metricsHandler,
		Metrics:        a.metrics,
		CommandChannel: a.commandChannel,
		EventBus:       a.eventBus,
		GetLinkState:   a.state.Clone,
		GetPoiState:    a.poi.Snapshot,
		GetScripts:     a.luaEngine.GetScriptList,
		GetSchedules:   a.scheduler.GetAll,
	})

	a.mqttClient = mqtt.NewClient(cfg.MQTT, cfg.Poi.LEDs, a.commandChannel, a.eventBus)
}

// Run starts every component and blocks in the command loop until Shutdown.
func (a *Agent) Run() {
	sub := a.eventBus.Subscribe(core.DeviceConnectedEvent, core.ScriptChangedEvent)
	go a.listenEvents(sub)

	if a.mqttClient != nil {
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				logger.WithError(err).Error("MQTT setup error")
			}
		}()
		go a.mqttClient.Run(a.ctx)
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.runLink(a.ctx)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.receiver.Run(a.ctx, a.link); err != nil {
			logger.WithError(err).Error("receiver stopped")
		}
	}()

	a.scheduler.Start()

	logger.Infof("agent running on http://localhost:%s", a.config.Server.Port)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server error")
		}
	}()

	logger.Info("agent orchestrator ready")
	for {
		select {
		case <-a.ctx.Done():
			logger.Info("agent orchestrator shutting down")
			return
		case cmd := <-a.commandChannel:
			a.handleCommand(cmd)
		}
	}
}

// Send writes cmd to the link and applies it to the mirror. It is the sink
// for scripts and runs on their goroutine as well as the command loop.
func (a *Agent) Send(cmd protocol.Command) error {
	if err := a.sender.Send(cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Action(), err)
	}
	a.mirror.Apply(cmd)
	a.state.MarkSent(time.Now())
	a.metrics.ObserveSent(cmd.Action())
	a.eventBus.Publish(core.Event{Type: core.CommandSentEvent, Payload: cmd})
	return nil
}

func (a *Agent) onLinkStatus(connected bool, rssi int16) {
	a.eventBus.Publish(core.Event{
		Type:    core.DeviceConnectedEvent,
		Payload: core.ConnectionPayload{Connected: connected, RSSI: rssi},
	})
}

func (a *Agent) listenEvents(sub core.Subscriber) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case event := <-sub:
			a.handleEvent(event)
		}
	}
}

func (a *Agent) handleEvent(event core.Event) {
	switch p := event.Payload.(type) {
	case core.ConnectionPayload:
		wasConnected := a.state.Clone().IsConnected
		a.state.SetConnection(p.Connected, p.RSSI)
		a.metrics.SetConnected(p.Connected)

		if !wasConnected && p.Connected {
			if name := a.state.Clone().RunningScript; name != "" {
				logger.Infof("link back up, resuming script %s", name)
				if err := a.luaEngine.RunScript(name); err != nil {
					logger.WithError(err).Warn("could not resume script")
				}
			}
		}

	case string:
		if event.Type == core.ScriptChangedEvent {
			a.state.SetRunningScript(p)
		}
	}
}

func (a *Agent) handleCommand(cmd core.Command) {
	log := logger.WithField("command", cmd.Type)
	log.Debugf("handling command: %v %v", cmd.Poi, cmd.Payload)

	switch cmd.Type {
	case core.CmdSend:
		if cmd.Poi == nil {
			log.Warn("send without a poi command")
			return
		}
		// a manual change overrides whatever the running script is doing
		if _, isPing := cmd.Poi.(protocol.Ping); !isPing {
			if running := a.state.Clone().RunningScript; running != "" {
				log.Infof("stopping script %s", running)
				a.luaEngine.StopCurrentScript()
			}
		}
		if err := a.Send(cmd.Poi); err != nil {
			log.WithError(err).Warn("send failed")
		}

	case core.CmdRunScript:
		if err := a.luaEngine.RunScript(stringField(cmd.Payload, "name")); err != nil {
			log.WithError(err).Warn("cannot run script")
		}

	case core.CmdStopScript:
		a.luaEngine.StopCurrentScript()

	case core.CmdRunCode:
		code := stringField(cmd.Payload, "code")
		if code == "" {
			log.Warn("runCode without code")
			return
		}
		a.luaEngine.ExecuteString(code)

	case core.CmdAddSchedule:
		spec, command := stringField(cmd.Payload, "spec"), stringField(cmd.Payload, "command")
		if _, err := a.scheduler.Add(spec, command); err != nil {
			log.WithError(err).Warn("cannot add schedule")
			return
		}
		a.publish(core.ScheduleListEvent, a.scheduler.GetAll())

	case core.CmdRemoveSchedule:
		id, ok := intField(cmd.Payload, "id")
		if !ok {
			log.Warnf("invalid schedule id: %v", cmd.Payload["id"])
			return
		}
		a.scheduler.Remove(id)
		a.publish(core.ScheduleListEvent, a.scheduler.GetAll())

	case core.CmdGetScriptCode:
		name := stringField(cmd.Payload, "name")
		code, err := a.luaEngine.GetScriptCode(name)
		if err != nil {
			log.WithError(err).Warn("cannot read script")
			return
		}
		a.publish(core.ScriptCodeEvent, map[string]string{"name": name, "code": code})

	case core.CmdSaveScriptCode:
		if err := a.luaEngine.SaveScriptCode(stringField(cmd.Payload, "name"), stringField(cmd.Payload, "code")); err != nil {
			log.WithError(err).Warn("cannot save script")
			return
		}
		a.publishScriptList()

	case core.CmdDeleteScript:
		if err := a.luaEngine.DeleteScript(stringField(cmd.Payload, "name")); err != nil {
			log.WithError(err).Warn("cannot delete script")
			return
		}
		a.publishScriptList()

	default:
		log.Warn("unknown command type")
	}
}

func (a *Agent) publish(t core.EventType, payload interface{}) {
	a.eventBus.Publish(core.Event{Type: t, Payload: payload})
}

func (a *Agent) publishScriptList() {
	scripts, err := a.luaEngine.GetScriptList()
	if err != nil {
		logger.WithError(err).Warn("cannot list scripts")
		return
	}
	a.publish(core.ScriptListEvent, scripts)
}

// Shutdown stops every component and waits for the link goroutines.
func (a *Agent) Shutdown() {
	a.scheduler.Stop()
	a.luaEngine.StopCurrentScript()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	a.cancel()
	a.wg.Wait()
}

func stringField(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

// intField accepts the shapes an id takes on its way in: int from the
// server, float64 from raw JSON, string from form-style clients.
func intField(payload map[string]interface{}, key string) (int, bool) {
	switch v := payload[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}
