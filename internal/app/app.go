package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"riverflow/internal/alerting"
	"riverflow/internal/api"
	"riverflow/internal/broker"
	"riverflow/internal/cache"
	"riverflow/internal/config"
	"riverflow/internal/fetcher"
	"riverflow/internal/poller"
	"riverflow/internal/service"
	"riverflow/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newRouter() *fetcher.Router {
	hydromet := fetcher.NewHydromet(fetcher.HydrometOptions{
		BaseURL:       a.Config.Hydromet.BaseURL,
		Timeout:       a.Config.Hydromet.RequestTimeout,
		UserAgent:     a.Config.Hydromet.UserAgent,
		WindowDays:    a.Config.Hydromet.WindowDays,
		RealtimeLimit: a.Config.Hydromet.RealtimeLimit,
	}, a.Logger)

	utility := fetcher.NewUtility(fetcher.UtilityOptions{
		BaseURL:   a.Config.Utility.BaseURL,
		Timeout:   a.Config.Utility.RequestTimeout,
		UserAgent: a.Config.Utility.UserAgent,
	}, a.Logger)

	return fetcher.NewRouter(hydromet, utility)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegram(alerting.TelegramOptions{
		BotToken: cfg.BotToken,
		ChatIDs:  cfg.ChatIDs,
		BaseURL:  cfg.APIBase,
		Timeout:  10 * time.Second,
	}, a.Logger)
}

func (a *App) runnableBands() map[string]service.Band {
	if !a.Config.Alerting.Enabled || len(a.Config.Alerting.Bands) == 0 {
		return nil
	}
	bands := make(map[string]service.Band, len(a.Config.Alerting.Bands))
	for stationID, band := range a.Config.Alerting.Bands {
		bands[stationID] = service.Band{
			Min: decimal.NewFromFloat(band.Min),
			Max: decimal.NewFromFloat(band.Max),
		}
	}
	return bands
}

func (a *App) newService(store *storage.Store) *service.Service {
	deps := service.Deps{
		Source: a.newRouter(),
		Cache: cache.New(cache.TTLs{
			CurrentWindow:  a.Config.Cache.CurrentWindowTTL,
			LongWindow:     a.Config.Cache.LongWindowTTL,
			HistoricalYear: a.Config.Cache.HistoricalYearTTL,
		}),
		Broker: broker.New(),
		Entitlements: service.NewStaticEntitlements(
			a.Config.Entitlements.FreeHistoricalYears,
			a.Config.Entitlements.PremiumUsers,
		),
		Notifier: a.newNotifier(),
		Bands:    a.runnableBands(),
	}
	if store != nil {
		deps.Archive = store
	}

	return service.New(deps, service.Options{
		DefaultDays:        a.Config.Stats.DefaultDays,
		RefreshConcurrency: a.Config.Poller.Concurrency,
		AlertCooldown:      a.Config.Alerting.Cooldown,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running aggregation service: the HTTP API plus the
// periodic refresh sweep over tracked stations.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; archive disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(store)

	g, gctx := errgroup.WithContext(ctx)

	if a.Config.API.Enabled {
		server := &http.Server{
			Addr:              a.Config.API.ListenAddr,
			Handler:           api.NewServer(svc, a.Logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.Logger.Info().Str("addr", server.Addr).Msg("http api listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			return server.Shutdown(shutdownCtx)
		})
	}

	p := poller.New(poller.Options{
		Interval:      a.Config.Poller.Interval,
		AlignToBucket: a.Config.Poller.AlignToBucket,
		RunOnStart:    a.Config.Poller.RunOnStart,
		StartupDelay:  a.Config.Poller.StartupDelay,
	}, a.Logger)
	g.Go(func() error {
		return p.Run(gctx, func(sweepCtx context.Context, _ time.Time) error {
			return a.sweep(sweepCtx, svc, store)
		})
	})

	a.Logger.Info().Msg("starting flow aggregation service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("flow aggregation service stopped")
	return nil
}

// sweep refreshes every tracked station. With a database configured, a
// postgres advisory lock keeps concurrent replicas from sweeping twice.
func (a *App) sweep(ctx context.Context, svc *service.Service, store *storage.Store) error {
	if store != nil {
		unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Poller.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			a.Logger.Info().Msg("another replica holds the refresh lock, skipping sweep")
			return nil
		}
		defer unlock()
	}

	stations, err := a.trackedStations(ctx, store)
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		a.Logger.Warn().Msg("no tracked stations configured")
		return nil
	}

	return svc.RefreshAll(ctx, stations)
}

func (a *App) trackedStations(ctx context.Context, store *storage.Store) ([]string, error) {
	if store != nil {
		ids, err := store.ListTrackedStations(ctx)
		if err != nil {
			a.Logger.Error().Err(err).Msg("tracked station lookup failed, using config fallback")
		} else if len(ids) > 0 {
			return ids, nil
		}
	}
	return a.Config.TrackedStations, nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	StationID string
	Limit     int
}

// ExportOptions hold parameters for exporting archived samples.
type ExportOptions struct {
	StationID string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// BackfillOptions configure the archive backfill job.
type BackfillOptions struct {
	StationID string
	Years     []int
	DryRun    bool
}
