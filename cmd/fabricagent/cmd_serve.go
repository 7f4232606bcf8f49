package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/fabricagent/internal/metrics"
	"github.com/user/fabricagent/internal/scheduler"
	"github.com/user/fabricagent/internal/state"
	"github.com/user/fabricagent/internal/web"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the question scheduler",
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "fabricagent.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	questions := questionStore(cfg)

	sched := scheduler.New(questions, func(q *state.SavedQuestion) {
		res, err := a.runner.Run(ctx, q, "", "scheduler")
		metrics.ObserveScheduled(err)
		if err != nil {
			slog.Error("scheduled question failed", "name", q.Name, "error", err)
			return
		}
		slog.Info("scheduled question answered", "name", q.Name, "thread", res.ThreadName, "run_status", res.RunStatus)
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	slog.Info("fabricagent started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"agent_url", cfg.Agent.URL,
		"auth_mode", a.session.Status().Mode,
		"scheduled", len(sched.Entries()),
		"pid_file", pidFile,
	)

	if cfg.HTTP.Enabled {
		opts := web.Options{
			Asker:     a.gw,
			Auth:      a.session,
			Questions: questions,
			Runner:    a.runner,
			Logger:    slog.Default(),
		}
		if a.history != nil {
			opts.History = a.history
		}
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           web.NewServer(opts),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGUSR1:
			slog.Info("received SIGUSR1, reloading saved questions")
			if err := sched.Reload(); err != nil {
				slog.Error("reload scheduler failed", "error", err)
			}
			continue
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidFile)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
