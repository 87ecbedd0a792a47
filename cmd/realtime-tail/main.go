package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type flags struct {
	configPath   string
	url          string
	token        string
	predictions  []string
	marketData   []string
	alerts       bool
	systemHealth bool
	relay        bool
	metrics      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "realtime-tail",
		Short: "Stream realtime predictions and market data as JSON lines",
		Long: `realtime-tail connects to a realtime prediction server, subscribes to the
requested channels and prints every event to stdout as one JSON object per line.
Events can also be relayed to NATS and connection metrics exposed for Prometheus.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "path to YAML config file")
	fl.StringVar(&f.url, "url", "", "websocket endpoint, overrides server.url")
	fl.StringVar(&f.token, "token", "", "auth token, overrides server.token")
	fl.StringSliceVarP(&f.predictions, "predictions", "p", nil, "symbols to receive predictions for")
	fl.StringSliceVarP(&f.marketData, "market-data", "m", nil, "symbols to receive market data for")
	fl.BoolVar(&f.alerts, "alerts", false, "subscribe to alerts")
	fl.BoolVar(&f.systemHealth, "system-health", false, "subscribe to system health")
	fl.BoolVar(&f.relay, "relay", false, "relay data events to NATS")
	fl.BoolVar(&f.metrics, "metrics", false, "serve Prometheus metrics")

	cmd.AddCommand(newVersionCommand())
	return cmd
}

var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "realtime-tail %s\n", version)
		},
	}
}
