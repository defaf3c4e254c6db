// Package app wires configuration and components for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/glasswatch/internal/api"
	"github.com/web3guy0/glasswatch/internal/bot"
	"github.com/web3guy0/glasswatch/internal/cleanup"
	"github.com/web3guy0/glasswatch/internal/coinglass"
	"github.com/web3guy0/glasswatch/internal/config"
	"github.com/web3guy0/glasswatch/internal/database"
	"github.com/web3guy0/glasswatch/internal/dispatcher"
	"github.com/web3guy0/glasswatch/internal/market"
	"github.com/web3guy0/glasswatch/internal/monitor"
	"github.com/web3guy0/glasswatch/internal/scheduler"
	"github.com/web3guy0/glasswatch/internal/signals"
	"github.com/web3guy0/glasswatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
}

// New constructs a new application handle.
func New(cfg *config.Config) *App {
	return &App{Config: cfg}
}

func (a *App) openDB() (*database.Database, error) {
	db, err := database.New(a.Config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func (a *App) newClient() *coinglass.Client {
	return coinglass.New(coinglass.Options{
		BaseURL:        a.Config.CoinGlassBaseURL,
		APIKey:         a.Config.CoinGlassAPIKey,
		CallsPerMinute: a.Config.CoinGlassRateLimit,
		Timeout:        a.Config.CoinGlassTimeout,
		MaxRetries:     a.Config.CoinGlassMaxRetries,
		RetryBackoff:   a.Config.CoinGlassRetryBackoff,
	})
}

// newLimiter uses Redis when REDIS_URL is set and reachable, the in-process
// limiter otherwise. The returned closer is never nil.
func (a *App) newLimiter(ctx context.Context) (api.Limiter, func()) {
	noop := func() {}
	if a.Config.RedisURL == "" {
		return api.NewMemoryLimiter(a.Config.APIRateLimit), noop
	}

	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid REDIS_URL, using in-memory rate limiter")
		return api.NewMemoryLimiter(a.Config.APIRateLimit), noop
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable, using in-memory rate limiter")
		rdb.Close()
		return api.NewMemoryLimiter(a.Config.APIRateLimit), noop
	}

	log.Info().Str("addr", opts.Addr).Msg("✅ Redis rate limiter connected")
	return api.NewRedisLimiter(rdb, a.Config.APIRateLimit), func() { rdb.Close() }
}

func (a *App) newAPIServer(svc *market.Service, db *database.Database, client *coinglass.Client, limiter api.Limiter, hub *api.Hub) *api.Server {
	return api.New(api.Options{
		Addr:           a.Config.APIAddr,
		Token:          a.Config.APIToken,
		Version:        version.Version,
		MonitorSymbols: a.Config.MonitorSymbols,
	}, api.Deps{
		Market:  svc,
		Limiter: limiter,
		Stats:   db,
		Usage:   client.Usage,
		Hub:     hub,
	})
}

// Policy maps the feature flags onto the dispatcher's broadcast policy.
func Policy(cfg *config.Config) dispatcher.BroadcastPolicy {
	return dispatcher.BroadcastPolicy{
		BroadcastAll:  cfg.EnableBroadcastAlerts,
		WhaleOverride: cfg.EnableWhaleAlerts,
	}
}

// Run starts the bot, monitors, dispatcher, cleanup and HTTP API and blocks
// until SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	if err := cfg.ValidateBot(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("═══════════════════════════════════════════════")
	log.Info().Str("version", version.Version).Msg("          GLASSWATCH - COINGLASS ALERTS")
	log.Info().Msg("═══════════════════════════════════════════════")

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Msg("✅ Storage layer initialized")

	client := a.newClient()
	resolver := coinglass.NewResolver(client, cfg.SymbolCacheTTL)
	svc := market.NewService(client, resolver)
	log.Info().Msg("✅ CoinGlass client initialized")

	sizes := &historySizes{}
	tg, err := bot.New(cfg, bot.Deps{
		Market:       svc,
		Resolver:     resolver,
		Store:        db,
		Usage:        client.Usage,
		HistorySizes: sizes.snapshot,
	})
	if err != nil {
		return err
	}

	opts := monitor.Options{
		MinConfidence:     cfg.SignalMinConfidence,
		Cooldown:          cfg.AlertCooldown,
		NotifySubscribers: cfg.NotifySubscribers,
		Notifier:          tg,
	}

	sup := scheduler.New(ctx)

	if cfg.EnableWhaleAlerts {
		m := monitor.NewWhaleMonitor(client, db, cfg.MonitorSymbols, signals.WhaleParams{
			ThresholdUSD: cfg.WhaleThresholdUSD.InexactFloat64(),
		}, opts)
		sizes.add("whale", m.HistorySize)
		sup.Go(scheduler.Task{Name: "whale_monitor", Interval: cfg.WhalePollInterval, Run: m.Poll})
	}
	if cfg.EnableLiquidationAlerts {
		m := monitor.NewLiquidationMonitor(client, db, cfg.MonitorSymbols, cfg.LiquidationExchange, signals.LiquidationParams{
			ThresholdUSD: cfg.LiquidationThresholdUSD.InexactFloat64(),
		}, opts)
		sizes.add("liquidation", m.HistorySize)
		sup.Go(scheduler.Task{Name: "liquidation_monitor", Interval: cfg.LiquidationPollInterval, Run: m.Poll, StartupDelay: 2 * time.Second})
	}
	if cfg.EnableFundingAlerts {
		m := monitor.NewFundingMonitor(client, db, cfg.MonitorSymbols, signals.FundingParams{
			Threshold: cfg.FundingRateThreshold.InexactFloat64(),
		}, opts)
		sizes.add("funding", m.HistorySize)
		sup.Go(scheduler.Task{Name: "funding_monitor", Interval: cfg.FundingPollInterval, Run: m.Poll, StartupDelay: 4 * time.Second})
	}

	hub := api.NewHub()
	policy := Policy(cfg)
	if _, ok := policy.AllowedTypes(); !ok {
		log.Warn().Msg("Broadcast and whale alerts disabled, outbox will not be dispatched")
	}
	disp := dispatcher.New(db, tg, hub, policy, cfg.DispatchBatchSize)
	sup.Go(scheduler.Task{Name: "alert_dispatcher", Interval: cfg.DispatchInterval, Run: disp.Run, StartupDelay: 5 * time.Second})

	cleaner := cleanup.New(db, cfg.AlertRetention)
	sup.Go(scheduler.Task{Name: "cleanup", Interval: cfg.CleanupInterval, Run: cleaner.Run, StartupDelay: time.Minute})

	tg.Start(ctx)
	defer tg.Stop()

	var apiErr chan error
	if cfg.APIEnabled {
		apiErr = make(chan error, 1)
		limiter, closeLimiter := a.newLimiter(ctx)
		defer closeLimiter()
		srv := a.newAPIServer(svc, db, client, limiter, hub)
		go func() { apiErr <- srv.ListenAndServe(ctx) }()
	}

	log.Info().
		Strs("symbols", cfg.MonitorSymbols).
		Bool("whale", cfg.EnableWhaleAlerts).
		Bool("liquidation", cfg.EnableLiquidationAlerts).
		Bool("funding", cfg.EnableFundingAlerts).
		Bool("broadcast", cfg.EnableBroadcastAlerts).
		Bool("notify_subscribers", cfg.NotifySubscribers).
		Msg("🚀 glasswatch running")

	runErr := awaitShutdown(ctx, cancel, apiErr)
	sup.Stop()
	log.Info().Msg("👋 Goodbye")
	return runErr
}

// awaitShutdown blocks until ctx ends or the API stops. On a signal it also
// waits for the API's graceful shutdown, so the database outlives in-flight
// requests. apiErr is nil when the API is disabled.
func awaitShutdown(ctx context.Context, cancel context.CancelFunc, apiErr <-chan error) error {
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
		if apiErr != nil {
			if err := <-apiErr; err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("HTTP API shutdown incomplete")
			}
		}
		return nil
	case err := <-apiErr:
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("HTTP API stopped unexpectedly")
			return err
		}
		return nil
	}
}

// ServeAPI runs the HTTP facade alone, without the bot or monitors.
func (a *App) ServeAPI(ctx context.Context) error {
	cfg := a.Config
	if cfg.CoinGlassAPIKey == "" {
		return errors.New("COINGLASS_API_KEY is required")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	client := a.newClient()
	svc := market.NewService(client, coinglass.NewResolver(client, cfg.SymbolCacheTTL))

	limiter, closeLimiter := a.newLimiter(ctx)
	defer closeLimiter()

	return a.newAPIServer(svc, db, client, limiter, api.NewHub()).ListenAndServe(ctx)
}

// TestAlert inserts a manual alert into the outbox; the running dispatcher
// delivers it like any other.
func (a *App) TestAlert(alertType, message string) (*database.SystemAlert, error) {
	db, err := a.openDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	alert, err := db.AddSystemAlert(alertType, message, map[string]any{"source": "manual"})
	if err != nil {
		return nil, err
	}
	if !Policy(a.Config).Allows(alertType) {
		log.Warn().Str("type", alertType).Msg("Alert type is not broadcast under the current flags; it will stay pending")
	}
	return alert, nil
}

// Cleanup runs one retention pass.
func (a *App) Cleanup(ctx context.Context) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return cleanup.New(db, a.Config.AlertRetention).Run(ctx)
}

// historySizes collects the monitors' history sizes for /status.
type historySizes struct {
	names []string
	funcs []func() int
}

func (h *historySizes) add(name string, f func() int) {
	h.names = append(h.names, name)
	h.funcs = append(h.funcs, f)
}

func (h *historySizes) snapshot() map[string]int {
	out := make(map[string]int, len(h.names))
	for i, name := range h.names {
		out[name] = h.funcs[i]()
	}
	return out
}
