package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Command-Relay/commandrelay/internal/adapter/inbound/admin"
	"github.com/Command-Relay/commandrelay/internal/adapter/inbound/http"
	"github.com/Command-Relay/commandrelay/internal/adapter/inbound/ws"
	auditfile "github.com/Command-Relay/commandrelay/internal/adapter/outbound/audit"
	"github.com/Command-Relay/commandrelay/internal/adapter/outbound/exec"
	"github.com/Command-Relay/commandrelay/internal/adapter/outbound/memory"
	"github.com/Command-Relay/commandrelay/internal/adapter/outbound/sqlite"
	"github.com/Command-Relay/commandrelay/internal/config"
	"github.com/Command-Relay/commandrelay/internal/domain/audit"
	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
	"github.com/Command-Relay/commandrelay/internal/domain/policy"
	"github.com/Command-Relay/commandrelay/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the Command Relay gateway server.

The server exposes three surfaces on one listener:

  /ws/exec        WebSocket channel for agents submitting decisions
  /ws/router      WebSocket channel streaming routing preview events
  /api/v1/...     HTTP admin API (policies, confirmations, audit)

Examples:
  # Start with config file settings
  command-relay start

  # Start with a specific config file
  command-relay --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
		cfg.Server.LogLevel = "debug"
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("command-relay stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Audit sink: JSON Lines files when a directory is configured,
	// otherwise an in-memory ring buffer.
	auditStore, closeAudit, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer closeAudit()

	// Keep audit writes off the request path.
	auditSvc := service.NewAuditService(auditStore, logger)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	// Confirmation store: SQLite when a path is configured, otherwise
	// in-memory (confirmations do not survive restarts).
	confStore, closeConf, err := createConfirmationStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create confirmation store: %w", err)
	}
	defer closeConf()

	policyStore := memory.NewPolicyStore()
	if err := seedPolicies(ctx, cfg, policyStore); err != nil {
		return fmt.Errorf("failed to seed policies: %w", err)
	}
	logger.Info("policies seeded", "count", len(cfg.Policies))

	engine := policy.NewEngine(policyStore, logger)
	classifier := service.NewClassificationService(engine, auditSvc, logger)
	policyAdmin := service.NewPolicyAdminService(policyStore, classifier, auditSvc, logger)
	confirmer := confirmation.NewManager(confStore, auditSvc, logger, cfg.Confirmation.DefaultTTLDuration())
	limiter := memory.NewRateLimiter(logger)
	settings := service.NewSettingsCache(
		service.StaticLimits(cfg.Limits.ToLimits()),
		cfg.Limits.SettingsTTLDuration(),
	)
	executor := exec.NewLocalExecutor(logger,
		exec.WithDefaultTimeout(cfg.Executor.DefaultTimeoutDuration()))

	gateway := service.NewGatewayService(classifier, confirmer, limiter, settings, executor, auditSvc, logger)
	hub := ws.NewHub(gateway, classifier, logger)

	apiHandler := admin.NewAPIHandler(
		admin.WithPolicyAdmin(policyAdmin),
		admin.WithClassifier(classifier),
		admin.WithConfirmations(confirmer),
		admin.WithAuditReader(auditSvc),
		admin.WithLimiter(limiter),
		admin.WithLogger(logger),
		admin.WithVersion(Version),
	)

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithAPIHandler(apiHandler.Routes()),
		http.WithHub(hub),
		http.WithHealthChecker(http.NewHealthChecker(confirmer, Version)),
	}
	if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
		opts = append(opts, http.WithTLS(cfg.Server.CertFile, cfg.Server.KeyFile))
	}
	srv := http.NewServer(opts...)

	m := srv.Metrics()
	hub.SetConnectionGauge(m.ActiveConnections)
	classifier.ObserveOutcomes(func(result string) {
		m.ClassificationsTotal.WithLabelValues(result).Inc()
	})
	gateway.ObserveRejections(func(reason string) {
		m.RateLimitRejections.WithLabelValues(reason).Inc()
	})
	confirmer.WithInstruments(confirmation.Instruments{
		Opened:  m.ConfirmationsOpened,
		Pending: m.PendingConfirmations,
	})

	go sweepLoop(ctx, confirmer, cfg.Confirmation.SweepIntervalDuration(), logger)

	logger.Info("command-relay starting",
		"version", Version,
		"addr", cfg.Server.HTTPAddr,
		"tls", cfg.Server.CertFile != "",
	)
	return srv.Start(ctx)
}

// createAuditStore selects the audit backend from config. The returned
// func releases whatever the backend holds open.
func createAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, func(), error) {
	if cfg.AuditFile.Dir == "" {
		store := memory.NewAuditStore(cfg.AuditFile.CacheSize)
		return store, func() {}, nil
	}
	store, err := auditfile.NewFileStore(auditfile.FileStoreConfig{
		Dir:           cfg.AuditFile.Dir,
		RetentionDays: cfg.AuditFile.RetentionDays,
		MaxFileSizeMB: cfg.AuditFile.MaxFileSizeMB,
		CacheSize:     cfg.AuditFile.CacheSize,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("audit file store opened", "dir", cfg.AuditFile.Dir)
	return store, func() { _ = store.Close() }, nil
}

// createConfirmationStore selects the confirmation backend from config.
func createConfirmationStore(cfg *config.Config, logger *slog.Logger) (confirmation.Store, func(), error) {
	if cfg.Database.Path == "" {
		return memory.NewConfirmationStore(), func() {}, nil
	}
	store, err := sqlite.NewConfirmationStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("confirmation database opened", "path", cfg.Database.Path)
	return store, func() { _ = store.Close() }, nil
}

// seedPolicies loads config-declared policies into the store, assigning
// ids and timestamps.
func seedPolicies(ctx context.Context, cfg *config.Config, store policy.Store) error {
	now := time.Now().UTC()
	for i, pc := range cfg.Policies {
		p := pc.ToDomain()
		p.ID = uuid.NewString()
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := store.Save(ctx, p); err != nil {
			return fmt.Errorf("policy %d (%s): %w", i, pc.Name, err)
		}
	}
	return nil
}

// sweepLoop expires overdue pending confirmations on a fixed interval
// until ctx is cancelled.
func sweepLoop(ctx context.Context, confirmer *confirmation.Manager, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := confirmer.Sweep(ctx)
			if err != nil {
				logger.Error("confirmation sweep failed", "error", err)
				continue
			}
			if result.ExpiredCount > 0 {
				logger.Info("confirmations expired", "count", result.ExpiredCount)
			}
		}
	}
}

// parseLogLevel converts a config log level string to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
