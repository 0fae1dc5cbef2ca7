package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/crewhours/shiftsync/internal/config"
	"github.com/crewhours/shiftsync/internal/httpapi"
	applog "github.com/crewhours/shiftsync/internal/log"
	"github.com/crewhours/shiftsync/internal/shiftsync"
)

func main() {
	applog.SetLevel(applog.ParseLevel(os.Getenv("SHIFTSYNC_LOG_LEVEL")))

	configPath := os.Getenv("SHIFTSYNC_CONFIG")
	if configPath == "" {
		configPath = "shiftsync.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", configPath, err)
	}

	addr := os.Getenv("SHIFTSYNC_ADDR")
	if addr == "" {
		addr = cfg.Listen
	}
	storeDSN := os.Getenv("SHIFTSYNC_STORE_DSN")
	if storeDSN == "" {
		storeDSN = cfg.StoreDSN
	}
	clientID := os.Getenv("SHIFTSYNC_CLIENT_ID")
	if clientID == "" {
		clientID = cfg.Provider.ClientID
	}
	clientSecret := os.Getenv("SHIFTSYNC_CLIENT_SECRET")
	if clientSecret == "" {
		clientSecret = cfg.Provider.ClientSecret
	}

	store, err := shiftsync.BuildShiftStoreFromDSN(storeDSN)
	if err != nil {
		log.Fatalf("failed to initialize shift store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	directory := shiftsync.NewStaticDirectory(directoryEntries(cfg))
	guard := shiftsync.NewTokenGuard(shiftsync.TokenGuardOptions{
		IntrospectURL: cfg.Provider.IntrospectURL,
		TokenURL:      cfg.Provider.TokenURL,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
	})
	client := shiftsync.NewHTTPCalendarClient(shiftsync.CalendarClientOptions{
		BaseURL:  cfg.Provider.BaseURL,
		PageSize: cfg.Provider.PageSize,
	})
	aggregator := shiftsync.NewAggregator(shiftsync.AggregatorOptions{
		NameStrategy:  shiftsync.NameStrategyByName(cfg.NameStrategy),
		ExcludeMarker: cfg.ExcludeMarker,
	})
	hub := httpapi.NewReportHub()

	orchestrator, err := shiftsync.NewOrchestrator(shiftsync.OrchestratorOptions{
		Directory:  directory,
		Client:     client,
		Guard:      guard,
		Reconciler: shiftsync.NewReconciler(store),
		Aggregator: aggregator,
		Publisher:  hub,
	})
	if err != nil {
		log.Fatalf("failed to build orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := config.Watch(ctx, configPath, func(updated *config.Config) {
			directory.Replace(directoryEntries(updated))
		})
		if err != nil && ctx.Err() == nil {
			applog.Error("config watcher stopped", err, "path", configPath)
		}
	}()

	server := httpapi.NewServerWithConfig(orchestrator, store, hub, httpapi.ServerConfig{
		RateLimitMax:    intEnv("SHIFTSYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("SHIFTSYNC_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("SHIFTSYNC_MAX_BODY_BYTES", 0),
	})

	applog.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func directoryEntries(cfg *config.Config) []shiftsync.UserEntry {
	entries := make([]shiftsync.UserEntry, 0, len(cfg.Users))
	for _, user := range cfg.Users {
		calendars := make(map[string]string, len(user.Calendars))
		for _, cal := range user.Calendars {
			calendars[cal.UniqueID] = cal.ProviderID
		}
		entries = append(entries, shiftsync.UserEntry{
			ID:           user.ID,
			RefreshToken: user.RefreshToken,
			Calendars:    calendars,
		})
	}
	return entries
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		applog.Info("invalid env value, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		applog.Info("invalid env value, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		applog.Info("invalid env value, using fallback", "name", name, "value", raw, "fallback", fallback.String())
		return fallback
	}
	return value
}
