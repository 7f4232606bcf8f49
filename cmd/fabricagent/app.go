package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/user/fabricagent/internal/auth"
	"github.com/user/fabricagent/internal/config"
	"github.com/user/fabricagent/internal/delivery"
	"github.com/user/fabricagent/internal/gateway"
	"github.com/user/fabricagent/internal/runtime"
	"github.com/user/fabricagent/internal/state"
	"github.com/user/fabricagent/pkg/dataagent"
)

// app holds the wiring shared by commands that talk to the data agent.
type app struct {
	cfg     *config.Config
	session *auth.Session
	history *state.HistoryStore
	gw      *gateway.Gateway
	runner  *runtime.QuestionRunner
}

func newSession(cfg *config.Config) *auth.Session {
	return auth.NewSession(auth.Options{
		Authority:    cfg.Auth.Authority,
		TenantID:     cfg.TenantID,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Scope:        cfg.Auth.Scope,
		CachePath:    filepath.Join(cfg.DataDir, "token.json"),
		Logger:       slog.Default(),
	})
}

func questionStore(cfg *config.Config) *state.QuestionStore {
	return state.NewQuestionStore(filepath.Join(cfg.DataDir, "questions.json"))
}

func openHistory(cfg *config.Config) (*state.HistoryStore, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	h, err := state.OpenHistory(state.HistoryConfig{DatabasePath: cfg.HistoryPath()})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return h, nil
}

// newApp validates cfg and builds the agent client, runtime and gateway. The
// gateway is started under ctx; call close when done.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config (run 'fabricagent setup'): %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{cfg: cfg, session: newSession(cfg)}

	history, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}
	a.history = history

	client := dataagent.New(dataagent.Config{
		URL:        cfg.Agent.URL,
		APIVersion: cfg.Agent.APIVersion,
	}, a.session)

	opts := runtime.Options{
		PollInterval: time.Duration(cfg.Agent.PollIntervalSeconds) * time.Second,
		RunTimeout:   time.Duration(cfg.Agent.RunTimeoutSeconds) * time.Second,
		Logger:       slog.Default(),
	}
	if history != nil {
		opts.History = history
	}
	rt := runtime.New(client, opts)

	a.gw = gateway.New(int64(cfg.MaxConcurrent))
	a.gw.SetProcessor(rt.ProcessRun)
	a.gw.Start(ctx)

	a.runner = runtime.NewQuestionRunner(a.gw, delivery.NewDefaultRegistry(nil), slog.Default())
	return a, nil
}

func (a *app) close() {
	a.gw.Stop()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Warn("close history failed", "error", err)
		}
	}
}

// requireSignIn fails early when no usable token is held.
func (a *app) requireSignIn() error {
	if !a.session.Status().Ready() {
		return fmt.Errorf("not signed in: run 'fabricagent auth login' first")
	}
	return nil
}
