package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/config"
	"github.com/quickdraw-trading/quickdraw/internal/monitor"
	"github.com/quickdraw-trading/quickdraw/internal/notify"
	"github.com/quickdraw-trading/quickdraw/internal/observability"
	"github.com/quickdraw-trading/quickdraw/internal/position"
	"github.com/quickdraw-trading/quickdraw/internal/security"
	"github.com/quickdraw-trading/quickdraw/internal/store"
	"github.com/quickdraw-trading/quickdraw/internal/store/postgres"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

// lateSeller defers binding the trading engine into the tracker. The
// tracker needs a seller at construction and the engine needs the
// tracker as its duplicate guard, so one side binds late.
type lateSeller struct {
	engine *trading.Engine
}

func (s *lateSeller) Sell(ctx context.Context, token, pair chain.Address, amount decimal.Decimal) (*trading.TradeResult, error) {
	return s.engine.Sell(ctx, token, pair, amount)
}

func (s *lateSeller) EmergencySell(ctx context.Context, token, pair chain.Address) (*trading.TradeResult, error) {
	return s.engine.EmergencySell(ctx, token, pair)
}

// positionNotifier fans closed positions out to the webhook and the
// exit-reason counter.
type positionNotifier struct {
	metrics *observability.Metrics
	webhook *notify.Webhook
}

func (n *positionNotifier) PositionClosed(p position.Position) {
	n.metrics.PositionsClosed.WithLabelValues(p.ExitReason).Inc()
	n.webhook.PositionClosed(p)
}

// pgStore bundles the two Postgres stores behind store.Store.
type pgStore struct {
	*postgres.TradeStore
	*postgres.PositionStore
	pool *postgres.Pool
}

func (s *pgStore) Close() { s.pool.Close() }

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real chain connection)")
	sellOnExit := flag.Bool("sell-on-exit", false, "Emergency-sell all open positions on shutdown")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	setupLogging(cfg.General)

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("stub_mode", *stubMode).
		Str("factory", string(cfg.Monitor.Factory)).
		Str("router", string(cfg.Trading.Router)).
		Str("buy_amount_wei", cfg.General.BuyAmountWei.String()).
		Str("profit_target_pct", cfg.Position.ProfitTargetPct.String()).
		Str("stop_loss_pct", cfg.Position.StopLossPct.String()).
		Int("max_positions", cfg.Position.MaxPositions).
		Msg("main: configuration loaded")

	metrics := observability.NewMetrics("quickdraw", prometheus.DefaultRegisterer)
	health := observability.NewHealthMonitor()

	// Chain client behind the resilience gateway. Every pipeline
	// component talks to the gateway, never to the raw client.
	var base chain.Client
	if *stubMode {
		base = chain.NewStubClient()
		log.Info().Msg("main: chain RPC in STUB mode")
	} else {
		rpc := chain.NewRPCClient(cfg.Chain)
		base = rpc

		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Chain.Endpoint).
				Msg("main: RPC health check failed (continuing, may be rate limited)")
		} else {
			log.Info().Str("endpoint", cfg.Chain.Endpoint).Msg("main: RPC connected")
		}
		healthCancel()
	}
	gateway := chain.NewGateway(base, cfg.Resilience, metrics)
	defer gateway.Close()

	health.Register("rpc", gateway.Health)

	// Persistence. Postgres when configured, memory otherwise.
	var st store.Store
	if cfg.Store.PostgresDSN != "" {
		pool, err := postgres.NewPool(context.Background(), cfg.Store.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("main: postgres connection failed")
		}
		if err := pool.EnsureSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("main: postgres schema setup failed")
		}
		st = &pgStore{
			TradeStore:    postgres.NewTradeStore(pool),
			PositionStore: postgres.NewPositionStore(pool),
			pool:          pool,
		}
		health.Register("postgres", pool.Ping)
		log.Info().Msg("main: postgres store ready")
	} else {
		st = store.NewMemory()
		log.Info().Msg("main: in-memory store (no postgres_dsn configured)")
	}
	defer st.Close()

	webhook := notify.NewWebhook(cfg.Notify)

	validator := security.NewValidator(gateway,
		cfg.Trading.Router, cfg.Trading.WETH, cfg.Trading.Wallet, cfg.Security)

	seller := &lateSeller{}
	notifier := &positionNotifier{metrics: metrics, webhook: webhook}
	tracker := position.NewTracker(gateway, seller, st, notifier, cfg.Position)
	engine := trading.NewEngine(gateway, cfg.Trading, tracker)
	seller.engine = engine

	buyAmount := cfg.General.BuyAmountWei
	maxBalancePct := cfg.General.MaxBalancePct
	hundred := decimal.NewFromInt(100)

	// sizeBuy caps the configured snipe size to a fraction of the
	// wallet balance. A failed balance read falls back to the fixed
	// size rather than skipping the snipe.
	sizeBuy := func(ctx context.Context) decimal.Decimal {
		bal, err := gateway.Balance(ctx, cfg.Trading.Wallet)
		if err != nil || !bal.IsPositive() {
			return buyAmount
		}
		ceiling := bal.Mul(maxBalancePct).Div(hundred).Floor()
		if ceiling.LessThan(buyAmount) {
			return ceiling
		}
		return buyAmount
	}

	// Pipeline: candidate -> validate -> buy -> open position.
	pipeline := func(ctx context.Context, c monitor.Candidate) {
		metrics.PairsSeen.Inc()

		report := validator.Validate(ctx, c.Token, c.Pair)
		metrics.RecordValidation(report.Passed, report.Elapsed)
		if !report.Passed {
			log.Info().
				Str("token", string(c.Token)).
				Str("reason", report.Reason()).
				Float64("score", report.Score).
				Msg("main: candidate rejected")
			webhook.SecurityRejected(ctx, c.Token, report.Reason())
			return
		}
		metrics.PairsAccepted.Inc()

		amount := sizeBuy(ctx)
		if !amount.IsPositive() {
			log.Warn().Str("token", string(c.Token)).Msg("main: wallet too small to snipe")
			return
		}

		result, err := engine.Buy(ctx, c.Token, c.Pair, amount)
		metrics.RecordTrade(string(trading.SideBuy), err)
		if err != nil {
			if errors.Is(err, trading.ErrGasTooHigh) {
				metrics.TradesDeferred.Inc()
			}
			// A partial result means the transaction was submitted;
			// record it even though the receipt never confirmed.
			if result != nil && result.TxHash != "" {
				if perr := st.InsertTrade(ctx, *result); perr != nil {
					log.Warn().Err(perr).Str("trade_id", result.ID).
						Msg("main: partial trade persist failed")
				}
			}
			log.Warn().Err(err).Str("token", string(c.Token)).Msg("main: buy failed")
			return
		}

		entryPrice := result.AmountIn.Div(result.AmountOut)
		if _, err := tracker.Open(c.Token, c.Pair,
			result.AmountOut, result.AmountIn, entryPrice, result.TxHash); err != nil {
			log.Error().Err(err).Str("token", string(c.Token)).
				Msg("main: bought but failed to open position")
		}
		metrics.OpenPositions.Set(float64(tracker.OpenCount()))

		if err := st.InsertTrade(ctx, *result); err != nil {
			log.Warn().Err(err).Str("trade_id", result.ID).Msg("main: trade persist failed")
		}
		webhook.TradeExecuted(ctx, *result)
	}

	// Intake stops with ctx on the first signal. In-flight pipelines
	// keep pipeCtx so already-validated candidates finish their trades
	// inside the drain window instead of aborting mid-swap.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeCtx, pipeCancel := context.WithCancel(context.Background())
	defer pipeCancel()

	mon := monitor.New(gateway, cfg.Monitor, func(_ context.Context, c monitor.Candidate) {
		pipeline(pipeCtx, c)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("main: shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tracker.Run(ctx)
	}()

	monDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(monDone)
		if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("main: monitor stopped")
			cancel()
		}
	}()

	var obsSrv *observability.Server
	if cfg.Metrics.ListenAddr != "" {
		obsSrv = observability.NewServer(cfg.Metrics, prometheus.DefaultGatherer, health)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := obsSrv.Run(); err != nil {
				log.Error().Err(err).Msg("main: metrics server error")
			}
		}()
	}

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ms := mon.Stats()
				vs := validator.Stats()
				es := engine.Stats()
				ts := tracker.Stats()
				metrics.OpenPositions.Set(float64(ts.Open))
				log.Info().
					Int64("pairs_seen", ms.PairsSeen).
					Int64("candidates", ms.Candidates).
					Int64("validated", vs.Evaluated).
					Int64("validation_passed", vs.Passed).
					Int64("honeypots", vs.Honeypots).
					Int64("buys", es.Buys).
					Int64("sells", es.Sells).
					Int64("trade_failures", es.Failures).
					Int("open_positions", ts.Open).
					Int64("positions_closed", ts.Closed).
					Str("breaker", gateway.BreakerState()).
					Msg("main: stats")
			}
		}
	}()

	webhook.Startup(ctx, "quickdraw online: "+cfg.General.InstanceID)
	log.Info().Msg("main: sniping pipeline running")

	<-ctx.Done()

	// Ordered shutdown: intake is already stopping with the context;
	// give in-flight pipelines a bounded window, then flush state.
	log.Info().Msg("main: shutting down")

	// The monitor returns once its pipelines drain; past the window we
	// cut them off rather than hold the flush hostage.
	drainTimer := time.NewTimer(30 * time.Second)
	select {
	case <-monDone:
		log.Info().Msg("main: in-flight pipelines drained")
	case <-drainTimer.C:
		log.Warn().Msg("main: drain window expired, aborting in-flight pipelines")
	}
	drainTimer.Stop()
	pipeCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if *sellOnExit {
		if failed := tracker.EmergencyCloseAll(shutdownCtx); len(failed) > 0 {
			log.Error().Int("count", len(failed)).Msg("main: positions could not be emergency sold")
		}
	}
	tracker.Flush(shutdownCtx)

	if obsSrv != nil {
		if err := obsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("main: metrics server shutdown failed")
		}
	}
	webhook.Shutdown(shutdownCtx, "quickdraw offline: "+cfg.General.InstanceID)

	wg.Wait()

	es := engine.Stats()
	ts := tracker.Stats()
	log.Info().
		Int64("buys", es.Buys).
		Int64("sells", es.Sells).
		Int64("positions_closed", ts.Closed).
		Int("still_open", ts.Open).
		Msg("main: final statistics")
	log.Info().Msg("main: shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "quickdraw").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "quickdraw").
			Str("instance", general.InstanceID).Logger()
	}
}
