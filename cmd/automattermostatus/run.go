package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matclab/automattermostatus/internal/agent"
	"github.com/matclab/automattermostatus/internal/clock"
	"github.com/matclab/automattermostatus/internal/command"
	"github.com/matclab/automattermostatus/internal/config"
	"github.com/matclab/automattermostatus/internal/mattermost"
	"github.com/matclab/automattermostatus/internal/metrics"
	"github.com/matclab/automattermostatus/internal/scan/mic"
	"github.com/matclab/automattermostatus/internal/scan/wifi"
	"github.com/matclab/automattermostatus/internal/secret"
	"github.com/matclab/automattermostatus/internal/service"
	"github.com/matclab/automattermostatus/internal/state"
	"github.com/matclab/automattermostatus/internal/version"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, opts)
		},
	}
}

// runAgent loads the configuration and runs the agent in the foreground, or
// under the service manager when started by it.
func runAgent(cmd *cobra.Command, opts *rootOptions) error {
	cfg, logger, err := loadRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	inService, err := service.IsService()
	if err != nil {
		logger.Warn("could not detect service mode", zap.Error(err))
	}
	if inService {
		return service.RunAsService(func(ctx context.Context) error {
			return startAgent(ctx, cfg, logger)
		}, logger)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return startAgent(ctx, cfg, logger)
}

// loadRuntime resolves the configuration once and builds the process logger.
func loadRuntime(cmd *cobra.Command, opts *rootOptions) (*config.AppConfig, *zap.Logger, error) {
	v, err := config.LoadConfig(opts.configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(v, zap.String("run_id", uuid.NewString()))
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("configuration loaded", zap.String("file", used))
	}
	cfg, err := config.Validate(v)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return cfg, logger, nil
}

// startAgent wires the collaborators described by cfg and runs the loop
// until ctx is done.
func startAgent(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) error {
	logger.Info("starting automattermostatus",
		zap.String("version", version.Short()),
		zap.String("mattermost", cfg.MattermostURL),
		zap.String("state_backend", cfg.StateBackend),
		zap.Bool("single_shot", cfg.SingleShot()),
	)

	store, err := state.Open(ctx, cfg.StateBackend, cfg.StateDir, version.Short(), logger.Named("state"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("closing state store", zap.Error(cerr))
		}
	}()

	publisher, err := mattermost.New(mattermost.Config{
		URL:     cfg.MattermostURL,
		User:    cfg.User,
		Timeout: cfg.HTTPTimeout,
	}, logger.Named("mattermost"))
	if err != nil {
		return err
	}

	runner := command.System{}
	m := metrics.New()
	if cfg.MetricsAddr != "" && !cfg.SingleShot() {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger.Named("metrics")); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	a := agent.New(cfg.AgentConfig(), agent.Deps{
		Wifi:      wifi.New(cfg.InterfaceName, runner, logger.Named("wifi")),
		Mic:       mic.New(logger.Named("mic")),
		Store:     store,
		Publisher: publisher,
		Secrets:   secret.NewResolver(cfg.Secret, runner, secret.OSKeyring{}, logger.Named("secret")),
		Clock:     clock.Real(),
		Metrics:   m,
	}, logger.Named("agent"))

	if err := a.Run(ctx); err != nil {
		logger.Error("agent stopped", zap.Error(err))
		return err
	}
	logger.Info("automattermostatus stopped")
	return nil
}
