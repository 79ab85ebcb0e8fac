// Package app assembles a workspace: database, document store, live sync,
// engine and identity provider.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"teamdeck/internal/config"
	"teamdeck/internal/db"
	"teamdeck/internal/docstore"
	"teamdeck/internal/engine"
	"teamdeck/internal/identity"
	"teamdeck/internal/livesync"
	"teamdeck/internal/migrate"
	"teamdeck/internal/repo"
)

const sessionFile = "session.jwt"

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *sql.DB
	Store    *docstore.SQLite
	Hub      *livesync.Hub
	Poller   *livesync.Poller
	Repo     repo.Repo
	Engine   engine.Engine
	Provider *identity.TokenProvider

	removeListener func()
}

// Open opens the workspace database, migrates it and wires the components.
// Live sync only dispatches once Run is called, but the change log cursor is
// taken here so writes made before Run still reach earlier subscribers.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("workspace opened", "db", db.Path(workspace), "schema_version", version)

	store := docstore.New(conn)
	hub := livesync.NewHub(store, logger)
	r := repo.Repo{Store: store, Hub: hub}
	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     conn,
		Store:  store,
		Hub:    hub,
		Poller: &livesync.Poller{Log: store, Hub: hub, Interval: cfg.Sync.PollInterval, Logger: logger},
		Repo:   r,
		Engine: engine.New(r, logger),
		Provider: &identity.TokenProvider{
			Verifier:    Verifier(cfg),
			SessionPath: db.StatePath(workspace, sessionFile),
			Disabled:    cfg.Auth.Disabled,
			Logger:      logger,
		},
	}
	if err := a.Poller.Start(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read change log: %w", err)
	}
	a.removeListener = store.OnChange(hub.Notify)
	return a, nil
}

// Verifier builds the token verifier from cfg.
func Verifier(cfg *config.Config) identity.Verifier {
	return identity.Verifier{
		Secret:            cfg.Auth.JWTSecret,
		Issuer:            cfg.Auth.Issuer,
		AuthorizedDomains: cfg.Auth.AuthorizedDomains,
	}
}

// Run dispatches live sync and tails the change log until ctx ends.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Hub.Run(ctx) })
	g.Go(func() error { return a.Poller.Run(ctx) })
	return g.Wait()
}

func (a *App) Close() error {
	if a.removeListener != nil {
		a.removeListener()
	}
	return a.DB.Close()
}

// NewLogger returns a text logger at level writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
