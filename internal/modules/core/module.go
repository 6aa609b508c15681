// Package core wires the parts shared by backtesting and live trading: the
// strategy, the portfolio and the dispatcher.
package core

import (
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"fxtrader/internal/engine"
	"fxtrader/internal/execution"
	"fxtrader/internal/ledger"
	"fxtrader/internal/modules/config"
	"fxtrader/internal/portfolio"
	"fxtrader/internal/price"
	"fxtrader/internal/queue"
	"fxtrader/internal/strategy"
)

type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

func NewStrategy(cfg *config.Config, q *queue.Queue, log *zap.Logger) (strategy.Strategy, error) {
	return strategy.NewStrategy(strategy.Settings{
		Name:        cfg.Strategy.Name,
		ShortWindow: cfg.Strategy.ShortWindow,
		LongWindow:  cfg.Strategy.LongWindow,
		Interval:    cfg.Strategy.Interval,
	}, cfg.Instruments, q, log.Named("strategy"))
}

type PortfolioParams struct {
	fx.In

	Config *config.Config
	Mode   Mode
	Queue  *queue.Queue
	Source price.Source
	Ledger ledger.Writer `optional:"true"`
	Log    *zap.Logger
}

func NewPortfolio(p PortfolioParams) (*portfolio.Portfolio, error) {
	policy, err := portfolio.ParseOrderPolicy(p.Config.Portfolio.OrderPolicy)
	if err != nil {
		return nil, err
	}
	pc := p.Config.Portfolio
	return portfolio.New(portfolio.Config{
		BaseCurrency: pc.BaseCurrency,
		Leverage:     decimal.NewFromFloat(pc.Leverage),
		Equity:       decimal.NewFromFloat(pc.Equity),
		RiskPerTrade: decimal.NewFromFloat(pc.RiskPerTrade),
		Backtest:     p.Mode == ModeBacktest,
		OrderPolicy:  policy,
	}, p.Config.Instruments, p.Source.Prices(), p.Queue, p.Ledger, p.Log.Named("portfolio"))
}

func NewEngine(
	cfg *config.Config,
	q *queue.Queue,
	src price.Source,
	st strategy.Strategy,
	pf *portfolio.Portfolio,
	ex execution.Handler,
	log *zap.Logger,
) *engine.Engine {
	return engine.New(engine.Config{
		Heartbeat:     cfg.Engine.Heartbeat,
		MaxIterations: cfg.Engine.MaxIterations,
	}, q, src, st, pf, ex, log.Named("dispatcher"))
}

// Module expects the mode-specific module to provide Mode, *queue.Queue,
// price.Source, execution.Handler and optionally ledger.Writer.
func Module() fx.Option {
	return fx.Module("core",
		fx.Provide(
			NewStrategy,
			NewPortfolio,
			NewEngine,
		),
	)
}
