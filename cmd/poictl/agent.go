package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"poi-controller/internal/agent"
)

func newAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the controller agent (link, web UI, MQTT, scripts, schedules)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logrus.Infof("starting poi agent version: %s, commit: %s, built: %s", version, commit, date)

			a, err := agent.NewAgent(cfg)
			if err != nil {
				return err
			}

			go a.Run()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logrus.Info("shutting down agent...")
			a.Shutdown()
			logrus.Info("agent shut down gracefully")
			return nil
		},
	}
}
