package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"poi-controller/internal/protocol"
	"poi-controller/internal/serial"
)

func newSendCmd() *cobra.Command {
	var port string
	var baud int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "send <action> [field...]",
		Short: "Encode one command and write it to a serial port",
		Long: `send builds a frame from an action name and its byte fields, in wire order.

Examples:
  poictl send Ping
  poictl send ChangeColor 5 255 0 128
  poictl send SetMode 2 0x10 --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCommand(args)
			if err != nil {
				return err
			}
			frame := protocol.Encode(c)
			fmt.Fprintf(cmd.OutOrStdout(), "%v\t%s\n", c, hex.EncodeToString(frame))
			if dryRun {
				return nil
			}

			if port == "" {
				port = cfg.Serial.Port
			}
			if baud <= 0 {
				baud = cfg.Serial.Baud
			}
			l, err := serial.Open(serial.Config{Port: port, Baud: baud})
			if err != nil {
				return err
			}
			defer l.Close()
			return protocol.NewSender(l).Send(c)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "serial device (default from config)")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the frame without sending it")
	return cmd
}

// buildCommand parses "<action> [field...]" into a command. Fields accept
// any base understood by strconv (10, 0x.., 0b..).
func buildCommand(args []string) (protocol.Command, error) {
	action, err := protocol.ParseAction(args[0])
	if err != nil {
		return nil, err
	}
	fields := args[1:]
	if len(fields) != action.PayloadSize() {
		return nil, fmt.Errorf("%s takes %d field(s), got %d", action, action.PayloadSize(), len(fields))
	}

	frame := make([]byte, 0, action.FrameSize())
	frame = append(frame, byte(action))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		frame = append(frame, byte(v))
	}
	return protocol.Decode(frame)
}
