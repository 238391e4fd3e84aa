package lua

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"poi-controller/internal/poi"
	"poi-controller/internal/protocol"
)

// registerGoFunctions exposes the poi commands and timing helpers to L.
func (e *Engine) registerGoFunctions(ctx context.Context, L *lua.LState) {
	fns := map[string]lua.LGFunction{
		"print":        luaPrint,
		"ping":         e.luaPing,
		"change_color": e.luaChangeColor,
		"fill":         e.luaFill,
		"gradient":     e.luaGradient,
		"set_interval": e.luaSetInterval,
		"set_mode":     e.luaSetMode,
		"set_pattern":  e.luaSetPattern,

		"sleep": func(L *lua.LState) int {
			cancellableSleep(ctx, time.Duration(L.ToInt(1))*time.Millisecond)
			return 0
		},
		"should_stop": func(L *lua.LState) int {
			L.Push(lua.LBool(ctx.Err() != nil))
			return 1
		},
		"fade": func(L *lua.LState) int {
			e.fade(ctx, L)
			return 0
		},
		"strobe": func(L *lua.LState) int {
			e.strobe(ctx, L)
			return 0
		},
	}
	for name, fn := range fns {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

func luaPrint(L *lua.LState) int {
	logger.Infof("[script] %s", L.ToString(1))
	return 0
}

func (e *Engine) send(cmd protocol.Command) {
	if err := e.sink.Send(cmd); err != nil {
		logger.WithError(err).WithField("action", cmd.Action()).Warn("script command not sent")
	}
}

// toByte reads argument n clamped to 0..255.
func toByte(L *lua.LState, n int) uint8 {
	v := L.ToInt(n)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func toColor(L *lua.LState, n int) protocol.Color {
	return protocol.Color{R: toByte(L, n), G: toByte(L, n+1), B: toByte(L, n+2)}
}

func (e *Engine) luaPing(L *lua.LState) int {
	e.send(protocol.Ping{})
	return 0
}

// change_color(index, r, g, b)
func (e *Engine) luaChangeColor(L *lua.LState) int {
	e.send(protocol.ChangeColor{Index: toByte(L, 1), Color: toColor(L, 2)})
	return 0
}

// fill(size, r, g, b)
func (e *Engine) luaFill(L *lua.LState) int {
	e.send(protocol.GenerateColorArray{Size: toByte(L, 1), Color: toColor(L, 2)})
	return 0
}

// gradient(size, r1, g1, b1, r2, g2, b2, reverse)
func (e *Engine) luaGradient(L *lua.LState) int {
	e.send(protocol.GenerateScalingColorArray{
		Size:    toByte(L, 1),
		From:    toColor(L, 2),
		To:      toColor(L, 5),
		Reverse: L.ToBool(8),
	})
	return 0
}

func (e *Engine) luaSetInterval(L *lua.LState) int {
	e.send(protocol.SetInterval{Interval: toByte(L, 1)})
	return 0
}

func (e *Engine) luaSetMode(L *lua.LState) int {
	e.send(protocol.SetMode{Mode: toByte(L, 1), Opts: toByte(L, 2)})
	return 0
}

func (e *Engine) luaSetPattern(L *lua.LState) int {
	e.send(protocol.SetPattern{Index: toByte(L, 1)})
	return 0
}

// cancellableSleep sleeps for d unless ctx is cancelled first.
// It returns true if the context was cancelled during sleep.
func cancellableSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}

// fade(size, r1, g1, b1, r2, g2, b2, duration_ms) fills the whole array with
// colors stepping from the first to the second color.
func (e *Engine) fade(ctx context.Context, L *lua.LState) {
	size := toByte(L, 1)
	from, to := toColor(L, 2), toColor(L, 5)
	duration := time.Duration(L.ToInt(8)) * time.Millisecond

	const steps = 50
	stepDuration := duration / steps

	for i, c := range poi.Gradient(steps+1, from, to, false) {
		e.send(protocol.GenerateColorArray{Size: size, Color: c})
		if i < steps && cancellableSleep(ctx, stepDuration) {
			return
		}
	}
}

// strobe(size, r, g, b, duration_ms, hz) flashes the array between a color and black.
func (e *Engine) strobe(ctx context.Context, L *lua.LState) {
	size := toByte(L, 1)
	c := toColor(L, 2)
	duration := time.Duration(L.ToInt(5)) * time.Millisecond
	hz := float64(L.ToNumber(6))
	if hz <= 0 {
		return
	}

	halfPeriod := time.Duration(float64(time.Second) / hz / 2)
	start := time.Now()
	for time.Since(start) < duration {
		e.send(protocol.GenerateColorArray{Size: size, Color: c})
		if cancellableSleep(ctx, halfPeriod) {
			return
		}
		e.send(protocol.GenerateColorArray{Size: size})
		if cancellableSleep(ctx, halfPeriod) {
			return
		}
	}
}
