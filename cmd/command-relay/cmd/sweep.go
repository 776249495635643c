package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Command-Relay/commandrelay/internal/config"
	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue pending confirmations and exit",
	Long: `Run one expiry sweep against the configured confirmation store.

The running server sweeps on its own interval; this command exists for
operators who keep the server stopped but want a durable SQLite store
cleaned up, and for cron-driven setups.

Requires database.path to be configured, since an in-memory store has
nothing to sweep after the server exits.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("sweep requires database.path to be configured")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	auditStore, closeAudit, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer closeAudit()

	confStore, closeConf, err := createConfirmationStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open confirmation store: %w", err)
	}
	defer closeConf()

	confirmer := confirmation.NewManager(confStore, auditStore, logger, cfg.Confirmation.DefaultTTLDuration())
	result, err := confirmer.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("expired %d confirmation(s)\n", result.ExpiredCount)
	return nil
}
