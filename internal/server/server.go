// Package server exposes the agent over HTTP: a WebSocket channel for
// commands and live events, the static web UI and Prometheus metrics.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"poi-controller/internal/core"
	"poi-controller/internal/metrics"
	"poi-controller/internal/poi"
	"poi-controller/internal/protocol"
	"poi-controller/internal/scheduler"
)

var logger = logrus.WithField("component", "server")

// Options wires a Server to the rest of the agent. Getter funcs may be nil.
type Options struct {
	Port           string
	StaticFilesDir string
	AllowedOrigins []string
	MetricsHandler http.Handler
	Metrics        *metrics.Metrics

	CommandChannel core.CommandChannel
	EventBus       *core.EventBus

	GetLinkState func() core.State
	GetPoiState  func() poi.State
	GetScripts   func() ([]string, error)
	GetSchedules func() map[cron.EntryID]scheduler.ScheduleEntry
}

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub        *Hub
	opts       Options
	httpServer *http.Server
	upgrader   websocket.Upgrader
	cancel     context.CancelFunc
}

// NewServer creates a server and starts its hub and event forwarding.
func NewServer(opts Options) *Server {
	hub := NewHub()
	go hub.Run()

	s := &Server{
		Hub:  hub,
		opts: opts,
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.opts.AllowedOrigins) == 0 {
				logger.Warn("WebSocket CheckOrigin is disabled.")
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.opts.AllowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			logger.Warnf("WebSocket connection blocked: Origin '%s' not in allowed list.", origin)
			return false
		},
	}

	s.httpServer = &http.Server{Addr: ":" + opts.Port, Handler: s.Handler()}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if opts.EventBus != nil {
		go s.forwardEvents(ctx)
	}

	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.opts.StaticFilesDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.StaticFilesDir)))
	}
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/state", s.handleState)
	if s.opts.MetricsHandler != nil {
		mux.Handle("/metrics", s.opts.MetricsHandler)
	}
	return mux
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.Hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := map[string]interface{}{}
	if s.opts.GetLinkState != nil {
		state["link"] = linkView(s.opts.GetLinkState())
	}
	if s.opts.GetPoiState != nil {
		state["poi"] = poiView(s.opts.GetPoiState())
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		logger.WithError(err).Warn("state encode failed")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	if err := s.sendInitialState(conn); err != nil {
		logger.WithError(err).Warn("dropping client, initial state not delivered")
		conn.Close()
		return
	}

	select {
	case s.Hub.register <- conn:
	case <-s.Hub.done:
		conn.Close()
		return
	}
	defer func() {
		select {
		case s.Hub.unregister <- conn:
		case <-s.Hub.done:
		}
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				logger.WithError(err).Warn("ignoring malformed client message")
				continue
			}
			break
		}
		s.handleCommand(cmd)
	}
}

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

// sendInitialState writes the current snapshot to a freshly connected client.
// It stops at the first failed write.
func (s *Server) sendInitialState(conn jsonWriter) error {
	var msgs []Message
	if s.opts.GetLinkState != nil {
		msgs = append(msgs, NewMessage("link_status", linkView(s.opts.GetLinkState())))
	}
	if s.opts.GetPoiState != nil {
		msgs = append(msgs, NewMessage("poi_state", poiView(s.opts.GetPoiState())))
	}
	if s.opts.GetScripts != nil {
		if scripts, err := s.opts.GetScripts(); err == nil {
			msgs = append(msgs, NewMessage("script_list", scripts))
		} else {
			logger.WithError(err).Warn("cannot list scripts for new client")
		}
	}
	if s.opts.GetSchedules != nil {
		msgs = append(msgs, NewMessage("schedule_list", s.opts.GetSchedules()))
	}

	for _, msg := range msgs {
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("write %s: %w", msg.Type, err)
		}
	}
	return nil
}

func (s *Server) handleCommand(cmd Command) {
	cmds, err := ParseCommand(cmd)
	for _, c := range cmds {
		s.opts.CommandChannel <- c
	}
	if err == nil {
		return
	}

	logger.WithError(err).WithField("type", cmd.Type).Warn("rejected client command")
	s.Hub.Broadcast(NewMessage("error", map[string]string{"type": cmd.Type, "error": err.Error()}))

	var ferr *FrameError
	if !errors.As(err, &ferr) {
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveDropped(ferr.Err)
	}
	if s.opts.EventBus != nil {
		s.opts.EventBus.Publish(core.Event{
			Type:    core.FrameDroppedEvent,
			Payload: core.FrameDroppedPayload{Source: "websocket", Frame: ferr.Frame, Err: ferr.Err},
		})
	}
}

var forwardedEvents = map[core.EventType]string{
	core.DeviceConnectedEvent: "link_status",
	core.PoiStateChangedEvent: "poi_state",
	core.ScriptChangedEvent:   "script_status",
	core.CommandSentEvent:     "command_sent",
	core.FrameDroppedEvent:    "frame_dropped",
	core.ScheduleListEvent:    "schedule_list",
	core.ScriptListEvent:      "script_list",
	core.ScriptCodeEvent:      "script_code",
}

// forwardEvents relays event bus traffic to every WebSocket client.
func (s *Server) forwardEvents(ctx context.Context) {
	types := make([]core.EventType, 0, len(forwardedEvents))
	for t := range forwardedEvents {
		types = append(types, t)
	}
	sub := s.opts.EventBus.Subscribe(types...)
	defer s.opts.EventBus.Unsubscribe(sub, types...)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub:
			s.Hub.Broadcast(NewMessage(forwardedEvents[ev.Type], eventView(ev)))
		}
	}
}

func eventView(ev core.Event) interface{} {
	switch p := ev.Payload.(type) {
	case core.ConnectionPayload:
		return map[string]interface{}{"connected": p.Connected, "rssi": p.RSSI}
	case poi.State:
		return poiView(p)
	case protocol.Command:
		return commandView(p)
	case core.FrameDroppedPayload:
		view := map[string]interface{}{
			"source": p.Source,
			"frame":  hex.EncodeToString(p.Frame),
		}
		if p.Err != nil {
			view["error"] = p.Err.Error()
		}
		return view
	case string:
		if ev.Type == core.ScriptChangedEvent {
			return map[string]string{"running": p}
		}
	}
	return ev.Payload
}

func linkView(st core.State) map[string]interface{} {
	return map[string]interface{}{
		"connected":     st.IsConnected,
		"rssi":          st.RSSI,
		"runningScript": st.RunningScript,
		"framesSent":    st.FramesSent,
	}
}

func poiView(st poi.State) map[string]interface{} {
	leds := make([]string, len(st.LEDs))
	for i, c := range st.LEDs {
		leds[i] = c.Hex()
	}
	return map[string]interface{}{
		"leds":     leds,
		"interval": st.Interval,
		"mode":     st.Mode,
		"opts":     st.Opts,
		"pattern":  st.Pattern,
		"commands": st.Commands,
	}
}

func commandView(cmd protocol.Command) map[string]interface{} {
	return map[string]interface{}{
		"action": cmd.Action().String(),
		"frame":  hex.EncodeToString(protocol.Encode(cmd)),
	}
}
