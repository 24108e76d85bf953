// Command marriedput backtests the married put strategy: a long equity
// position hedged with protective puts bought when intraday volatility is
// high relative to its recent range.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/feyerinaGO/OptimalInvesting/internal/broker"
	"github.com/feyerinaGO/OptimalInvesting/internal/chart"
	"github.com/feyerinaGO/OptimalInvesting/internal/config"
	"github.com/feyerinaGO/OptimalInvesting/internal/dashboard"
	"github.com/feyerinaGO/OptimalInvesting/internal/engine"
	"github.com/feyerinaGO/OptimalInvesting/internal/orders"
	"github.com/feyerinaGO/OptimalInvesting/internal/report"
	"github.com/feyerinaGO/OptimalInvesting/internal/retry"
	"github.com/feyerinaGO/OptimalInvesting/internal/storage"
	"github.com/feyerinaGO/OptimalInvesting/internal/strategy"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Backtest failed")
	}
	logger.Info("Done")
}

func newLogger(env config.EnvironmentConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if env.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(env.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// backtest bundles the components of one run.
type backtest struct {
	cfg      *config.Config
	logger   *logrus.Logger
	sim      *broker.SimBroker
	store    storage.Interface
	ledger   *orders.Manager
	recorder *chart.Recorder
	engine   *engine.Engine
	strategy *strategy.MarriedPut
}

func build(cfg *config.Config, logger *logrus.Logger) (*backtest, error) {
	// Each run starts from an empty hedge store
	if err := os.Remove(cfg.Storage.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reset hedge store: %w", err)
	}
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open hedge store: %w", err)
	}

	sim := broker.NewSimBroker(cfg.Backtest.Cash, logger)
	cbSettings := cfg.CircuitBreakerSettings()
	cbSettings.Logger = logger
	guarded := broker.NewCircuitBreakerBrokerWithSettings(sim, cbSettings)

	recorder := chart.NewRecorder()
	strat := strategy.NewMarriedPut(
		cfg.StrategyParams(),
		guarded,
		retry.NewClient(guarded, logger, cfg.Broker.Retry),
		recorder,
		logger,
	)

	ledger := orders.NewManager(store, logger.WithField("component", "orders"))
	symbol := cfg.Strategy.Symbol
	ledger.SetEntryContext(func(string) (float64, float64) {
		spot, err := sim.Price(symbol)
		if err != nil {
			spot = 0
		}
		return spot, strat.Rank()
	})
	sim.OnOrderEvent(ledger.OnOrderEvent)

	eng := engine.New(cfg.EngineConfig(), cfg.NewProvider(), sim, logger)

	return &backtest{
		cfg:      cfg,
		logger:   logger,
		sim:      sim,
		store:    store,
		ledger:   ledger,
		recorder: recorder,
		engine:   eng,
		strategy: strat,
	}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	bt, err := build(cfg, logger)
	if err != nil {
		return err
	}

	var server *dashboard.Server
	if cfg.Dashboard.Enabled {
		server = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
			Clock:     bt.engine.Now,
			RateLimit: cfg.Dashboard.RateLimit,
			Burst:     cfg.Dashboard.Burst,
		}, bt.store, bt.sim, bt.recorder, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := bt.execute(gctx); err != nil {
			return err
		}
		if server != nil {
			logger.Info("Backtest complete, dashboard still serving until interrupted")
		}
		return nil
	})

	if server != nil {
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// execute replays the period, closes what is still open and writes reports.
// A canceled run still reports the portion that completed.
func (bt *backtest) execute(ctx context.Context) error {
	result, runErr := bt.engine.Run(ctx, bt.strategy)
	if result == nil {
		return runErr
	}

	if err := bt.ledger.ForceCloseAll(bt.engine.Now(), bt.sim.Price); err != nil {
		bt.logger.WithError(err).Warn("Failed to close some hedges at end of run")
	}

	summary, err := report.Build(result, bt.store.GetStatistics())
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("build report: %w", err))
	}
	paths, err := report.Write(bt.cfg.Report.Dir, summary, result)
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("write report: %w", err))
	}
	charts, err := bt.recorder.WriteCSV(bt.cfg.Report.Dir)
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("write charts: %w", err))
	}
	paths = append(paths, charts...)

	bt.logger.WithFields(logrus.Fields{
		"total_return": summary.TotalReturn,
		"cagr":         summary.CAGR,
		"sharpe":       summary.Sharpe,
		"max_drawdown": summary.MaxDrawdown,
		"hedges":       summary.Hedges.TotalHedges,
		"files":        paths,
	}).Info("Backtest report written")
	return runErr
}
