package protocol

import "context"

// Handler receives decoded commands, one method per action.
// Implementations are the rendering side of the poi; the dispatcher never
// looks inside them.
type Handler interface {
	Ping()
	ChangeColor(index uint8, c Color)
	GenerateColorArray(size uint8, c Color)
	GenerateScalingColorArray(size uint8, from, to Color, reverse bool)
	SetInterval(interval uint8)
	SetMode(mode, opts uint8)
	SetPattern(index uint8)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	OnPing                      func()
	OnChangeColor               func(index uint8, c Color)
	OnGenerateColorArray        func(size uint8, c Color)
	OnGenerateScalingColorArray func(size uint8, from, to Color, reverse bool)
	OnSetInterval               func(interval uint8)
	OnSetMode                   func(mode, opts uint8)
	OnSetPattern                func(index uint8)
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) Ping() {
	if h.OnPing != nil {
		h.OnPing()
	}
}

func (h HandlerFuncs) ChangeColor(index uint8, c Color) {
	if h.OnChangeColor != nil {
		h.OnChangeColor(index, c)
	}
}

func (h HandlerFuncs) GenerateColorArray(size uint8, c Color) {
	if h.OnGenerateColorArray != nil {
		h.OnGenerateColorArray(size, c)
	}
}

func (h HandlerFuncs) GenerateScalingColorArray(size uint8, from, to Color, reverse bool) {
	if h.OnGenerateScalingColorArray != nil {
		h.OnGenerateScalingColorArray(size, from, to, reverse)
	}
}

func (h HandlerFuncs) SetInterval(interval uint8) {
	if h.OnSetInterval != nil {
		h.OnSetInterval(interval)
	}
}

func (h HandlerFuncs) SetMode(mode, opts uint8) {
	if h.OnSetMode != nil {
		h.OnSetMode(mode, opts)
	}
}

func (h HandlerFuncs) SetPattern(index uint8) {
	if h.OnSetPattern != nil {
		h.OnSetPattern(index)
	}
}

// Dispatcher decodes frames and routes them to a Handler.
// It holds no state besides the handler and is safe for concurrent use as
// long as the handler is.
type Dispatcher struct {
	handler Handler
}

// NewDispatcher creates a dispatcher calling h.
func NewDispatcher(h Handler) *Dispatcher {
	return &Dispatcher{handler: h}
}

// Dispatch decodes frame and invokes the matching handler method.
// On error the handler is not called.
func (d *Dispatcher) Dispatch(frame []byte) (Command, error) {
	cmd, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	d.Apply(cmd)
	return cmd, nil
}

// Apply invokes the handler method for an already decoded command.
func (d *Dispatcher) Apply(cmd Command) {
	switch c := cmd.(type) {
	case Ping:
		d.handler.Ping()
	case ChangeColor:
		d.handler.ChangeColor(c.Index, c.Color)
	case GenerateColorArray:
		d.handler.GenerateColorArray(c.Size, c.Color)
	case GenerateScalingColorArray:
		d.handler.GenerateScalingColorArray(c.Size, c.From, c.To, c.Reverse)
	case SetInterval:
		d.handler.SetInterval(c.Interval)
	case SetMode:
		d.handler.SetMode(c.Mode, c.Opts)
	case SetPattern:
		d.handler.SetPattern(c.Index)
	}
}

// FrameSource delivers complete frames from a transport.
// ReceiveFrame returns io.EOF once the source is exhausted.
type FrameSource interface {
	ReceiveFrame(ctx context.Context) ([]byte, error)
}

// FrameWriter sends complete frames over a transport.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// Sender encodes commands and hands the frames to a FrameWriter.
type Sender struct {
	w FrameWriter
}

// NewSender creates a sender writing to w.
func NewSender(w FrameWriter) *Sender {
	return &Sender{w: w}
}

// Send encodes and writes cmd.
func (s *Sender) Send(cmd Command) error {
	return s.w.WriteFrame(Encode(cmd))
}

func (s *Sender) Ping() error { return s.Send(Ping{}) }

func (s *Sender) ChangeColor(index uint8, c Color) error {
	return s.Send(ChangeColor{Index: index, Color: c})
}

func (s *Sender) GenerateColorArray(size uint8, c Color) error {
	return s.Send(GenerateColorArray{Size: size, Color: c})
}

func (s *Sender) GenerateScalingColorArray(size uint8, from, to Color, reverse bool) error {
	return s.Send(GenerateScalingColorArray{Size: size, From: from, To: to, Reverse: reverse})
}

func (s *Sender) SetInterval(interval uint8) error {
	return s.Send(SetInterval{Interval: interval})
}

func (s *Sender) SetMode(mode, opts uint8) error {
	return s.Send(SetMode{Mode: mode, Opts: opts})
}

func (s *Sender) SetPattern(index uint8) error {
	return s.Send(SetPattern{Index: index})
}
