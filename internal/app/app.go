package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flight-deal-scanner/internal/advisor"
	"flight-deal-scanner/internal/alerting"
	"flight-deal-scanner/internal/anomaly"
	"flight-deal-scanner/internal/budget"
	"flight-deal-scanner/internal/config"
	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/fetcher"
	"flight-deal-scanner/internal/httpapi"
	"flight-deal-scanner/internal/metrics"
	"flight-deal-scanner/internal/scanner"
	"flight-deal-scanner/internal/scheduler"
	"flight-deal-scanner/internal/storage"
	"flight-deal-scanner/internal/threshold"
	"flight-deal-scanner/internal/version"
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

type repository interface {
	storage.Repository
	storage.AdvisoryLocker
}

var (
	_ repository = (*storage.Store)(nil)
	_ repository = (*storage.MemoryStore)(nil)
)

// stack is the fully wired scanner runtime.
type stack struct {
	repo       repository
	metrics    *metrics.Metrics
	thresholds *threshold.Engine
	ledger     *budget.Ledger
	scanner    *scanner.Scanner
	tracker    *advisor.Tracker
	optimizer  *advisor.Optimizer
	closers    []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
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

// openRepository falls back to an in-process store when no DSN is configured.
func (a *App) openRepository(ctx context.Context) (repository, func(), error) {
	store, closer, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, nothing survives a restart")
		return storage.NewMemoryStore(), func() {}, nil
	}
	return store, closer, nil
}

func (a *App) build(ctx context.Context) (*stack, error) {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	return a.buildWith(repo, closeRepo, nil)
}

// buildWith wires the runtime around repo. A nil prices uses the live fetch boundary.
func (a *App) buildWith(repo repository, closeRepo func(), prices scanner.Fetcher) (*stack, error) {
	st := &stack{repo: repo, metrics: metrics.New()}
	st.closers = append(st.closers, closeRepo)

	adv, err := a.newAdvisor()
	if err != nil {
		st.Close()
		return nil, err
	}

	st.thresholds = threshold.NewEngine(a.thresholdOptions(), repo, a.Logger)
	st.ledger = budget.NewLedger(a.Config.Budget.ResolveDailyCap(), a.Config.App.Location())

	if prices == nil {
		live, closeCache := a.newPriceFetcher(repo, st.metrics)
		st.closers = append(st.closers, closeCache)
		prices = live
	}

	st.scanner = scanner.New(a.scannerOptions(), scanner.Deps{
		Store:      repo,
		Fetcher:    prices,
		Detector:   anomaly.NewDetector(anomaly.DefaultCutoff),
		Thresholds: st.thresholds,
		Publisher:  a.newPublisher(repo),
		Ledger:     st.ledger,
		Locker:     repo,
		Metrics:    st.metrics,
	}, a.Logger)

	st.tracker = advisor.NewTracker(repo, advisor.RatesFromConfig(a.Config.Advisor.Rates), a.Logger)
	if adv != nil {
		st.optimizer = advisor.NewOptimizer(advisor.OptimizerOptions{
			Advisor:  adv,
			Tracker:  st.tracker,
			Routes:   repo,
			Outcomes: repo,
			Tx:       repo,
			Window:   a.Config.Threshold.Window,
		}, a.Logger)
	}
	return st, nil
}

func (a *App) scannerOptions() scanner.Options {
	sc := a.Config.Scanner
	return scanner.Options{
		MaxConcurrency:    sc.MaxConcurrency,
		PassTimeout:       sc.PassTimeout,
		DepartureLeadDays: sc.DepartureLeadDays,
		DateStepDays:      sc.DateStepDays,
		Adults:            sc.Adults,
		Cabin:             sc.Cabin,
		Currency:          sc.Currency,
		BaselineWindow:    sc.BaselineWindow,
		Location:          a.Config.App.Location(),
		LockKey:           a.Config.Scheduler.AdvisoryLockKey,
	}
}

func (a *App) thresholdOptions() threshold.Options {
	tc := a.Config.Threshold
	opts := threshold.DefaultOptions()
	if tc.Window > 0 {
		opts.Window = tc.Window
	}
	if tc.RecalcInterval > 0 {
		opts.RecalcInterval = tc.RecalcInterval
	}
	if tc.MinSamples > 0 {
		opts.MinSamples = tc.MinSamples
	}
	if tc.Sensitivity > 0 {
		opts.Sensitivity = tc.Sensitivity
	}
	if tc.TargetEngagement > 0 {
		opts.TargetEngagement = tc.TargetEngagement
	}
	if tc.Min > 0 {
		opts.Min = tc.Min
	}
	if tc.Max > 0 {
		opts.Max = tc.Max
	}
	for name, value := range tc.Defaults {
		seg, err := domain.ParseSegment(name)
		if err != nil {
			a.Logger.Warn().Str("segment", name).Msg("ignoring threshold default for unknown segment")
			continue
		}
		opts.Defaults[seg] = value
	}
	return opts
}

func (a *App) newPriceFetcher(repo repository, m *metrics.Metrics) (*fetcher.PriceFetcher, func()) {
	pc := a.Config.Provider
	provider := fetcher.NewFlightAPI(fetcher.FlightAPIOptions{
		BaseURL:         pc.BaseURL,
		APIKey:          pc.APIKey,
		Timeout:         pc.RequestTimeout,
		MaxAttempts:     pc.MaxAttempts,
		RetryDelay:      pc.RetryDelay,
		MaxItineraries:  pc.MaxItineraries,
		RateLimitPerSec: pc.RateLimitPerSec,
		RateBurst:       pc.RateBurst,
		BreakerFailures: pc.BreakerFailures,
		BreakerTimeout:  pc.BreakerTimeout,
		UserAgent:       pc.UserAgent,
	}, a.Logger)
	if pc.APIKey == "" {
		a.Logger.Warn().Msg("provider.api_key not configured; every fetch will be synthetic")
	}

	var (
		cache  fetcher.Cache
		closer = func() {}
	)
	if rc := a.Config.Redis; rc.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		cache = fetcher.NewRedisCache(client, rc.CacheTTL, rc.KeyPrefix)
		closer = func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close redis client")
			}
		}
	}

	prices := fetcher.NewPriceFetcher(fetcher.PriceFetcherOptions{
		Provider:            provider,
		Cache:               cache,
		Recorder:            repo,
		DefaultLeadDays:     a.Config.Scanner.DepartureLeadDays,
		SyntheticFlashFares: pc.SyntheticFlashFares,
	}, a.Logger)
	prices.OnOutcome(m.ObserveFetch)
	return prices, closer
}

// newPublisher always persists candidates; delivery channels are added when alerting is enabled.
func (a *App) newPublisher(repo repository) alerting.Publisher {
	fan := alerting.NewFanout().Add(alerting.ChannelStore, alerting.NewStorePublisher(repo, repo))
	if !a.Config.Alerting.Enabled {
		return fan
	}

	for _, raw := range a.Config.Alerting.Channels {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case alerting.ChannelStore:
		case alerting.ChannelLog:
			fan.Add(name, alerting.NewLogPublisher(a.Logger))
		case alerting.ChannelTelegram:
			tg := a.Config.Alerting.Telegram
			if !tg.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			fan.Add(name, alerting.NewTelegramPublisher(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger))
		default:
			a.Logger.Warn().Str("channel", raw).Msg("unknown alerting channel ignored")
		}
	}
	a.Logger.Info().Strs("channels", fan.Channels()).Msg("alert channels configured")
	return fan
}

// newAdvisor returns nil when the advisor is disabled.
func (a *App) newAdvisor() (advisor.Advisor, error) {
	ac := a.Config.Advisor
	if !ac.Enabled {
		return nil, nil
	}
	opts := advisor.ClientOptions{
		BaseURL: ac.BaseURL,
		APIKey:  ac.APIKey,
		Model:   ac.Model,
		Timeout: ac.RequestTimeout,
	}
	switch strings.ToLower(ac.Backend) {
	case advisor.FamilyGemini:
		return advisor.NewGemini(opts), nil
	case advisor.FamilyGPT, "openai":
		return advisor.NewOpenAI(opts), nil
	default:
		return nil, fmt.Errorf("unsupported advisor backend %q", ac.Backend)
	}
}

// Run executes the long-running scanner service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now().UTC()
	if err := st.scanner.Hydrate(ctx, now); err != nil {
		return err
	}
	if _, err := st.thresholds.Refresh(ctx, now); err != nil {
		a.Logger.Warn().Err(err).Msg("initial threshold computation failed; using defaults")
	}

	g, gctx := errgroup.WithContext(ctx)

	scanSched := scheduler.New(scheduler.Options{
		Name:           "scan",
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)
	g.Go(func() error {
		return scanSched.Run(gctx, func(ctx context.Context, _ time.Time) error {
			_, err := st.scanner.Tick(ctx, time.Now().UTC())
			if errors.Is(err, scanner.ErrTickInFlight) {
				return scheduler.ErrSkipped
			}
			return err
		})
	})

	if st.optimizer != nil && a.Config.Advisor.Interval > 0 {
		advSched := scheduler.New(scheduler.Options{
			Name:     "advisor",
			Interval: a.Config.Advisor.Interval,
		}, a.Logger)
		g.Go(func() error {
			return advSched.Run(gctx, func(ctx context.Context, _ time.Time) error {
				plan, err := st.optimizer.Reoptimize(ctx)
				if err != nil {
					return err
				}
				a.Logger.Info().Str("model", plan.Model).Int("changes", len(plan.Changes)).Msg("route reoptimization finished")
				return nil
			})
		})
	}

	if a.Config.HTTP.Enabled {
		srv := httpapi.New(httpapi.Options{
			Addr:         a.Config.HTTP.Addr,
			ReadTimeout:  a.Config.HTTP.ReadTimeout,
			WriteTimeout: a.Config.HTTP.WriteTimeout,
		}, httpapi.Deps{
			Budget:     st.ledger,
			Thresholds: st.thresholds,
			Advisor:    st.tracker,
			Store:      st.repo,
			Metrics:    st.metrics.Handler(),
			Location:   a.Config.App.Location(),
		}, a.Logger)
		g.Go(srv.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.Logger.Info().
		Str("version", version.String()).
		Int("daily_cap", st.ledger.Cap()).
		Dur("interval", a.Config.Scheduler.Interval).
		Bool("advisor", st.optimizer != nil).
		Bool("http", a.Config.HTTP.Enabled).
		Msg("starting flight deal scanner")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("flight deal scanner stopped")
	return nil
}

// ExportOptions hold parameters for exporting daily call usage.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure the simulate-deal command.
type SimulateOptions struct {
	Origin      string
	Destination string
	Tier        int
	DiscountPct float64
	Fares       int
}
