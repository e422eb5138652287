package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/RohitKumar027/ReliabilityPortal/internal/alert"
	"github.com/RohitKumar027/ReliabilityPortal/internal/catalog"
	"github.com/RohitKumar027/ReliabilityPortal/internal/config"
	"github.com/RohitKumar027/ReliabilityPortal/internal/db"
	"github.com/RohitKumar027/ReliabilityPortal/internal/report"
	"github.com/RohitKumar027/ReliabilityPortal/internal/store"
	"github.com/RohitKumar027/ReliabilityPortal/internal/supervisor"
)

// labRuntime is everything a command needs to act on the lab.
type labRuntime struct {
	cfg    *config.Config
	sup    *supervisor.Supervisor
	alerts *alert.Log
	store  store.Store
	db     *gorm.DB
}

// setupLogger builds the process logger on w.
func setupLogger(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadCatalog reads the configured catalog, or the built-in one.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath != "" {
		return catalog.Load(cfg.CatalogPath)
	}
	return catalog.Default()
}

// notifiers returns the chat notifiers enabled in cfg.
func notifiers(cfg *config.Config) ([]alert.Notifier, error) {
	var out []alert.Notifier
	if cfg.Notify.SlackWebhook != "" {
		out = append(out, alert.NewSlack(cfg.Notify.SlackWebhook))
	}
	if cfg.Notify.DiscordToken != "" {
		d, err := alert.NewDiscord(cfg.Notify.DiscordToken, cfg.Notify.DiscordChannel)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openRuntime opens the store and builds a supervisor whose state is the
// saved snapshot merged over the configured defaults.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*labRuntime, error) {
	if logger == nil {
		logger = setupLogger(cfg.LogLevel(), cfg.Log.Format, io.Discard)
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	ns, err := notifiers(cfg)
	if err != nil {
		return nil, err
	}

	st, gormDB, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt := &labRuntime{cfg: cfg, store: st, db: gormDB}
	rt.alerts = alert.NewLog(gormDB, logger, ns...)

	rt.sup, err = supervisor.New(supervisor.Options{
		State:    cfg.InitialState(),
		Calendar: cal,
		Catalog:  cat,
		Policy:   cfg.Policy(),
		Capacity: cfg.Capacity,
		Schedule: cfg.Schedule,
		Store:    st,
		Alerts:   rt.alerts,
		Reports:  report.NewWriter(cfg.Reports.Dir),
		Logger:   logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.sup.Load(ctx)
	return rt, nil
}

// Close releases the store connections.
func (rt *labRuntime) Close() {
	if c, ok := rt.store.(io.Closer); ok {
		c.Close()
	}
	if rt.db != nil {
		db.Close(rt.db)
	}
}
