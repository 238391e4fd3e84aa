package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"poi-controller/internal/core"
	"poi-controller/internal/poi"
	"poi-controller/internal/protocol"
	"poi-controller/internal/receiver"
	"poi-controller/internal/serial"
)

// stdio lets a plain reader stand in for a serial port.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }

func newSimCmd() *cobra.Command {
	var port string
	var baud int

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Simulate a poi: decode frames from a serial port or stdin",
		Long: `sim plays the poi side of the link. Frames are read from a serial port,
or from stdin when --port is "-", applied to an in-memory LED array and
logged. The final state is printed as JSON on exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, closeSrc, err := openSimSource(port, baud)
			if err != nil {
				return err
			}
			defer closeSrc()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := runSim(ctx, src, cfg.Poi.LEDs)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p.Snapshot())
		},
	}

	cmd.Flags().StringVar(&port, "port", "", `serial device, "-" for stdin (default from config)`)
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate (default from config)")
	return cmd
}

func openSimSource(port string, baud int) (protocol.FrameSource, func(), error) {
	if port == "-" {
		return serial.NewLink(stdio{Reader: os.Stdin, Writer: io.Discard}, nil), func() {}, nil
	}
	if port == "" {
		port = cfg.Serial.Port
	}
	if baud <= 0 {
		baud = cfg.Serial.Baud
	}
	l, err := serial.Open(serial.Config{Port: port, Baud: baud})
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Close() }, nil
}

// runSim feeds src into a fresh poi until ctx is done or src is exhausted.
func runSim(ctx context.Context, src protocol.FrameSource, leds int) (*poi.Poi, error) {
	eb := core.NewEventBus()
	p := poi.New(leds, eb)

	sub := eb.Subscribe(core.PoiStateChangedEvent)
	logCtx, stopLog := context.WithCancel(ctx)
	defer stopLog()
	go func() {
		for {
			select {
			case <-logCtx.Done():
				return
			case ev := <-sub:
				st := ev.Payload.(poi.State)
				logrus.WithFields(logrus.Fields{
					"leds":     len(st.LEDs),
					"interval": st.Interval,
					"mode":     st.Mode,
					"opts":     st.Opts,
					"pattern":  st.Pattern,
				}).Info("poi state")
			}
		}
	}()

	err := receiver.New("sim", p, nil, eb).Run(ctx, src)
	return p, err
}
