package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"poi-controller/internal/config"
	"poi-controller/internal/logging"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poictl",
		Short: "Control and inspect LED poi",
		Long: `poictl talks to LED poi over BLE or a serial line.

Examples:
  poictl agent --config config.json
  poictl send SetPattern 3 --port /dev/ttyUSB0
  poictl decode "01 05 ff 00 80"
  poictl sim --port -`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				c.Log.Level = logLevel
			}
			if err := logging.Setup(c.Log); err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newAgentCmd(),
		newSimCmd(),
		newSendCmd(),
		newDecodeCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "poictl %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
