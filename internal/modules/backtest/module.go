// Package backtest replays historical CSV prices through the engine with
// simulated execution and writes the equity ledger and performance report.
package backtest

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"fxtrader/internal/engine"
	"fxtrader/internal/execution"
	"fxtrader/internal/ledger"
	"fxtrader/internal/modules/config"
	"fxtrader/internal/modules/core"
	"fxtrader/internal/performance"
	"fxtrader/internal/price"
	"fxtrader/internal/queue"
	"fxtrader/pkg/db"
)

// NewSource loads every instrument file up front so a malformed row fails startup.
func NewSource(cfg *config.Config, q *queue.Queue, log *zap.Logger) (price.Source, error) {
	rows, err := price.LoadDir(cfg.Data.Dir, cfg.Instruments)
	if err != nil {
		return nil, err
	}
	log.Info("historical data loaded", zap.String("dir", cfg.Data.Dir), zap.Int("rows", len(rows)))
	return price.NewHistoric(cfg.Instruments, rows, q, log.Named("historic")), nil
}

type Ledgers struct {
	fx.Out

	Writer ledger.Writer
	Memory *ledger.Memory
}

// NewLedgers writes to memory for the report, to the CSV file when configured and
// to Postgres when a connection is available.
func NewLedgers(ctx context.Context, cfg *config.Config, tx *db.PgTxManager, log *zap.Logger) (Ledgers, error) {
	mem := ledger.NewMemory()
	writers := ledger.Multi{mem}

	if cfg.Output.LedgerPath != "" {
		f, err := ledger.CreateCSV(cfg.Output.LedgerPath)
		if err != nil {
			return Ledgers{}, err
		}
		writers = append(writers, f)
	}
	if tx != nil {
		pg := ledger.NewPostgres(ctx, tx, 0)
		log.Info("equity snapshots go to postgres", zap.String("run_id", pg.RunID().String()))
		writers = append(writers, pg)
	}
	return Ledgers{Writer: writers, Memory: mem}, nil
}

type RunParams struct {
	fx.In

	Ctx        context.Context
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Engine     *engine.Engine
	Ledger     ledger.Writer
	Memory     *ledger.Memory
	Log        *zap.Logger
}

// Run starts the replay when the app starts and shuts the app down when it is done.
func Run(p RunParams) {
	done := make(chan struct{})
	log := p.Log.Named("backtest")

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				code := 0
				if err := backtest(p.Ctx, p, log); err != nil {
					log.Error("backtest failed", zap.Error(err))
					code = 1
				}
				_ = p.Shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func backtest(ctx context.Context, p RunParams, log *zap.Logger) error {
	started := time.Now()
	log.Info("running backtest", zap.Strings("instruments", p.Config.Instruments))

	runErr := p.Engine.Run(ctx)
	if err := p.Ledger.Close(); err != nil {
		log.Error("closing ledger", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}

	rep := performance.Compute(p.Memory.Instruments(), p.Memory.Rows())
	if err := rep.WriteFiles(p.Config.Output.EquityPath, p.Config.Output.SummaryPath); err != nil {
		return err
	}

	s := rep.Summary
	log.Info("backtest complete",
		zap.Int("ticks", s.Ticks),
		zap.Float64("final_balance", s.FinalBalance),
		zap.Float64("total_return", s.TotalReturn),
		zap.Float64("max_drawdown", s.MaxDrawdown),
		zap.Int("max_drawdown_duration", s.MaxDrawdownDuration),
		zap.Any("stats", p.Engine.Stats()),
		zap.Duration("took", time.Since(started)),
		zap.String("equity_file", p.Config.Output.EquityPath))
	return nil
}

func Module() fx.Option {
	return fx.Module("backtest",
		fx.Supply(core.ModeBacktest),
		fx.Provide(
			queue.New,
			NewSource,
			NewLedgers,
			fx.Annotate(execution.NewSimulated, fx.As(new(execution.Handler))),
		),
		core.Module(),
		fx.Invoke(Run),
	)
}
