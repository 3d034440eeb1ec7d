package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guard_server/config"
	"guard_server/internal/bootstrap"
	"guard_server/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	envFile string
	cfg     *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "guard",
		Short:         "LLM-backed comment spam classification service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Optional dotenv file")

	root.AddCommand(
		&cobra.Command{
			Use:   "api",
			Short: "Run the HTTP API",
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.run(cmd.Context(), true, false) },
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Run the recheck worker and retention sweep",
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.run(cmd.Context(), false, true) },
		},
		&cobra.Command{
			Use:   "all",
			Short: "Run the API and the worker in one process",
			RunE:  func(cmd *cobra.Command, _ []string) error { return c.run(cmd.Context(), true, true) },
		},
		newEvaluateCommand(c),
		newSweepCommand(c),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	// Load .env file if exists (for local development)
	envLoaded := godotenv.Load(c.envFile) == nil

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg

	// 일회성 명령은 stdout을 결과 출력에 쓰므로 로그는 stderr로
	out := os.Stdout
	switch cmd.Name() {
	case "evaluate", "sweep":
		out = os.Stderr
	}
	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "guard-" + cmd.Name(),
		Output:  out,
	})
	if !envLoaded {
		logger.Debug("No .env file found, using environment variables")
	}
	return nil
}

func (c *cli) run(parent context.Context, api, work bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := bootstrap.NewDependencies(ctx, c.cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return err
	}
	defer cleanup()

	var w *bootstrap.Worker
	if work {
		w = bootstrap.NewWorker(deps)
		go func() {
			logger.Info("Starting worker...")
			w.Start()
		}()
	}

	if !api {
		<-ctx.Done()
		stopWorker(w)
		return nil
	}

	app := bootstrap.NewAPI(deps)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + c.cfg.Port
		logger.Info("Starting API server on %s", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		stopWorker(w)
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("Error shutting down: %v", err)
	} else {
		logger.Info("API server shut down gracefully")
	}
	stopWorker(w)
	return nil
}

func stopWorker(w *bootstrap.Worker) {
	if w == nil {
		return
	}
	logger.Info("Shutting down worker (timeout: %v)...", shutdownTimeout)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker shut down gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Worker shutdown timed out")
	}
}
