package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/glotlabs/glot/internal/agent"
	"github.com/glotlabs/glot/internal/chat"
	"github.com/glotlabs/glot/internal/config"
	"github.com/glotlabs/glot/internal/docs"
	"github.com/glotlabs/glot/internal/focus"
	"github.com/glotlabs/glot/internal/store"
)

// app wires the client together: config, client state store, agent
// client, session, document pipeline, and turn runner.
type app struct {
	cfg     config.Config
	store   *store.Store
	client  *agent.Client
	session *chat.Session
	docs    *docs.Pipeline
	runner  *chat.TurnRunner
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening client state store: %w", err)
	}

	client := agent.New(cfg.Backend.BaseURL)
	session := chat.NewSession(st, client, slog.Default())
	pipeline := docs.NewPipeline(docs.Deps{
		Backend: client,
		Session: session,
		KV:      st,
		Status:  func(text string) { printStep("%s", text) },
		Logger:  slog.Default(),
	})
	session.SetAttachments(pipeline)

	coordinator := focus.NewCoordinator(focus.NopHost{}, slog.Default())
	runner := chat.NewTurnRunner(chat.TurnDeps{
		Session: session,
		Backend: client,
		Focus:   coordinator,
		Status:  func(text string) { printStep("%s", text) },
		Logger:  slog.Default(),
	})

	return &app{
		cfg:     cfg,
		store:   st,
		client:  client,
		session: session,
		docs:    pipeline,
		runner:  runner,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
	}
}

// settings returns the stored agent settings and validates that the
// commands needing a credential can run.
func (a *app) settings() (config.Settings, error) {
	return config.LoadSettings(a.store)
}

// turnOptions snapshots the stored settings for one turn.
func turnOptions(s config.Settings) chat.TurnOptions {
	opts := chat.TurnOptions{
		APIKey:   s.APIKey,
		Provider: s.Provider,
		Model:    s.Model,
	}
	if s.AllowedDomains != "" {
		opts.AllowedDomains = config.SplitDomains(s.AllowedDomains)
	}
	return opts
}
