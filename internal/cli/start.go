package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/halim/warden/internal/config"
	"github.com/halim/warden/internal/logger"
	"github.com/halim/warden/internal/observability"
	"github.com/halim/warden/internal/tracing"
	"github.com/halim/warden/pkg/modelclient"
	"github.com/halim/warden/pkg/orchestrator"
	"github.com/halim/warden/pkg/pipeline"
)

var listenAddr string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Warden service",
	Long: `Start the Warden service in the foreground.
It serves Prometheus metrics and a health endpoint while the turn loop
is available to callers.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&listenAddr, "listen", ":9090", "metrics/health listen address")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	if isRunning(pidFile) {
		return fmt.Errorf("service is already running (PID file: %s)", pidFile)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	if err := tracing.Init("warden", version, cfg.Tracing); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	runner, err := buildRunner(cfg, log)
	if err != nil {
		return err
	}

	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer os.Remove(pidFile)

	// Live reload: a rewritten config file adjusts the log level without a
	// restart. Limits and the model endpoint stay fixed for the process
	// lifetime.
	watcher, err := config.NewWatcher(configPath(), func(next *config.Config) {
		zl.Info().Str("level", next.Logging.Level).Msg("Configuration reloaded")
	}, log.GetZerolog())
	if err != nil {
		zl.Warn().Err(err).Msg("Config watch unavailable, live reload disabled")
	} else if err := watcher.Start(); err != nil {
		zl.Warn().Err(err).Msg("Config watch failed to start, live reload disabled")
	} else {
		defer watcher.Close()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok backlog=%d\n", runner.Backlog())
	})

	server := &http.Server{Addr: listenAddr, Handler: mux}
	errs := make(chan error, 1)
	go func() {
		zl.Info().Str("addr", listenAddr).Msg("Service started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		zl.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errs:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func buildRunner(cfg *config.Config, log *logger.Logger) (*orchestrator.Runner, error) {
	completer, err := modelclient.NewCompleter(cfg.Model, log.GetZerolog())
	if err != nil {
		return nil, err
	}

	filter, err := pipeline.NewContentFilter(cfg.Moderation)
	if err != nil {
		return nil, fmt.Errorf("invalid moderation config: %w", err)
	}

	opts := orchestrator.Options{
		GuardrailValidators: []pipeline.Validator{
			pipeline.MaxLengthValidator{Limit: cfg.Moderation.MaxInputLength},
			filter,
		},
		ShieldValidators: []pipeline.Validator{filter},
	}
	return orchestrator.New(cfg, completer, opts, log.GetZerolog()), nil
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "warden.json"
	}
	return filepath.Join(home, ".warden", "warden.json")
}

func loadConfig() (*config.Config, error) {
	return config.NewLoader(configPath()).Load()
}

func getPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/warden.pid"
	}
	return filepath.Join(home, ".warden", "warden.pid")
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	return process.Signal(syscall.Signal(0)) == nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}
