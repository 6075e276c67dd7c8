// cmd/server/root.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"comlink-service/internal/config"
	"comlink-service/internal/utils"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "comlink",
	Short: "Serial device connection manager",
	Long: `comlink finds a serial device by USB vendor and product ID, opens the
port, confirms the device with a request/response handshake and then keeps a
data channel to it. Ports appearing and disappearing are tracked while the
service runs.

Without a subcommand the HTTP service is started.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute adds all child commands to the root command and runs it
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./config.yaml or ./internal/config/config.yaml)")
}

// loadConfig loads the configuration and builds the logger. stdoutFree
// moves stdout logging to stderr for commands that print results.
func loadConfig(stdoutFree bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if stdoutFree && cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
