// Package lua runs user scripts that drive the poi. Only one script runs at a
// time; starting another stops the current one.
package lua

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"poi-controller/internal/core"
	"poi-controller/internal/protocol"
)

var logger = logrus.WithField("component", "lua")

// CommandSink receives the commands produced by scripts.
type CommandSink interface {
	Send(cmd protocol.Command) error
}

// cmdType defines the type of engine command.
type cmdType int

const (
	cmdRunFile cmdType = iota
	cmdRunString
	cmdStop
)

// engineCmd represents a command sent to the Lua engine.
type engineCmd struct {
	kind cmdType
	name string
	code string
	done chan struct{}
}

// Engine manages the Lua scripting environment using a single worker goroutine
// to ensure only one script runs at a time.
type Engine struct {
	sink       CommandSink
	scriptsDir string
	eventBus   *core.EventBus

	cmdChan chan engineCmd
}

// NewEngine creates a new Lua engine and starts its background worker.
func NewEngine(sink CommandSink, scriptsDir string, eb *core.EventBus) *Engine {
	e := &Engine{
		sink:       sink,
		scriptsDir: scriptsDir,
		eventBus:   eb,
		cmdChan:    make(chan engineCmd, 10),
	}

	go e.runLoop()

	return e
}

// runLoop is the main worker loop that processes engine commands sequentially.
func (e *Engine) runLoop() {
	var currentCancel context.CancelFunc
	var scriptDone chan struct{}

	for cmd := range e.cmdChan {
		if currentCancel != nil {
			currentCancel()
			select {
			case <-scriptDone:
			case <-time.After(2 * time.Second):
				logger.Warn("timeout waiting for script to stop")
			}
			currentCancel = nil
			scriptDone = nil
		}

		if cmd.kind == cmdStop {
			if cmd.done != nil {
				close(cmd.done)
			}
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		currentCancel = cancel
		scriptDone = make(chan struct{})

		go func(cmd engineCmd, ctx context.Context, done chan struct{}) {
			defer close(done)
			switch cmd.kind {
			case cmdRunFile:
				e.execute(ctx, cmd.name, func(L *lua.LState) error { return L.DoFile(cmd.code) })
			case cmdRunString:
				e.execute(ctx, cmd.name, func(L *lua.LState) error { return L.DoString(cmd.code) })
			}
		}(cmd, ctx, scriptDone)
	}
}

// StopCurrentScript stops the currently running script if any. It returns
// once the script has finished, so nothing it sends can follow the caller's
// next command.
func (e *Engine) StopCurrentScript() {
	done := make(chan struct{})
	e.cmdChan <- engineCmd{kind: cmdStop, done: done}
	<-done
}

// RunScript queues a script file from the scripts directory for execution.
func (e *Engine) RunScript(name string) error {
	scriptPath, err := e.GetScriptPath(name)
	if err != nil {
		return err
	}

	e.cmdChan <- engineCmd{
		kind: cmdRunFile,
		name: name,
		code: scriptPath,
	}
	return nil
}

// ExecuteString queues a one-off chunk of Lua code, as sent from the web UI
// console or the script/exec topic.
func (e *Engine) ExecuteString(code string) {
	e.cmdChan <- engineCmd{
		kind: cmdRunString,
		name: "single line command",
		code: code,
	}
}

// execute runs Lua code on a fresh state and publishes start and end events.
func (e *Engine) execute(ctx context.Context, name string, executor func(*lua.LState) error) {
	log := logger.WithField("script", name)
	log.Info("starting script")
	e.publish(name)

	defer func() {
		log.Info("script finished")
		e.publish("")
	}()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	e.registerGoFunctions(ctx, L)

	if err := executor(L); err != nil {
		if ctx.Err() == context.Canceled {
			log.Info("script execution was canceled")
		} else {
			log.WithError(err).Error("error executing script")
		}
	}
}

func (e *Engine) publish(running string) {
	if e.eventBus != nil {
		e.eventBus.Publish(core.Event{Type: core.ScriptChangedEvent, Payload: running})
	}
}
