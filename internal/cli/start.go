package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avila/reserva/internal/config"
	"github.com/avila/reserva/internal/daemon"
	"github.com/avila/reserva/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Reserva service",
	Long: `Start the Reserva service in the foreground. The service accepts chat
and session requests over HTTP until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, loader)
	if err != nil {
		return err
	}

	return d.Run(cmd.Context())
}
