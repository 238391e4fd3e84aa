package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"poi-controller/internal/protocol"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Decode hex-encoded frames, several may be back to back",
		Example: `  poictl decode 0603
  poictl decode "01 05 ff 00 80" 00`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := parseHex(strings.Join(args, ""))
			if err != nil {
				return err
			}
			return printFrames(cmd.OutOrStdout(), buf)
		},
	}
}

// parseHex accepts hex with optional spaces, colons or a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(buf) == 0 {
		return nil, protocol.ErrEmptyFrame
	}
	return buf, nil
}

// printFrames writes one line per decoded frame and returns the error of the
// first bad one.
func printFrames(w io.Writer, buf []byte) error {
	cmds, err := protocol.DecodeAll(buf)
	for _, c := range cmds {
		fmt.Fprintf(w, "%-26s % x\t%v\n", c.Action(), protocol.Encode(c), c)
	}
	return err
}
