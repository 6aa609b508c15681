// Package engine holds the event dispatcher: the single goroutine that drains the
// queue and routes every event to the strategy, the portfolio or execution.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fxtrader/internal/execution"
	"fxtrader/internal/models"
	"fxtrader/internal/price"
	"fxtrader/internal/strategy"
)

type Config struct {
	// Heartbeat is the pause after every iteration; zero for backtests.
	Heartbeat time.Duration
	// MaxIterations stops the loop after that many iterations; zero means no limit.
	MaxIterations int64
}

// Queue is the consumer side of the event queue.
type Queue interface {
	TryPop() (models.Event, bool)
}

type Portfolio interface {
	UpdatePortfolio(t models.TickEvent) error
	ExecuteSignal(s models.SignalEvent) error
}

// Stats counts what the dispatcher did.
type Stats struct {
	Iterations int64
	Ticks      int64
	Signals    int64
	Orders     int64
	Failures   int64
}

type Engine struct {
	cfg       Config
	queue     Queue
	source    price.Source
	strategy  strategy.Strategy
	portfolio Portfolio
	execution execution.Handler
	log       *zap.Logger

	stats Stats
}

func New(cfg Config, q Queue, src price.Source, st strategy.Strategy, pf Portfolio, ex execution.Handler, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		queue:     q,
		source:    src,
		strategy:  st,
		portfolio: pf,
		execution: ex,
		log:       log,
	}
}

// Stats is only meaningful after Run returns.
func (e *Engine) Stats() Stats { return e.stats }

// Run loops until the source is exhausted, MaxIterations is reached or ctx is done.
// An empty queue asks the source for the next tick instead of processing an event.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("dispatcher started",
		zap.String("strategy", e.strategy.Name()),
		zap.Duration("heartbeat", e.cfg.Heartbeat),
		zap.Int64("max_iterations", e.cfg.MaxIterations))

	var timer *time.Timer
	if e.cfg.Heartbeat > 0 {
		timer = time.NewTimer(e.cfg.Heartbeat)
		defer timer.Stop()
	}

	for e.cfg.MaxIterations == 0 || e.stats.Iterations < e.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			e.log.Info("dispatcher cancelled", zap.Int64("iterations", e.stats.Iterations))
			return nil
		}
		if !e.source.HasMore() {
			break
		}

		if ev, ok := e.queue.TryPop(); ok {
			e.dispatch(ctx, ev)
		} else if err := e.source.Next(ctx); err != nil {
			e.stats.Failures++
			e.log.Warn("tick source", zap.Error(err))
		}
		e.stats.Iterations++

		if timer != nil {
			timer.Reset(e.cfg.Heartbeat)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
	}

	e.log.Info("dispatcher finished",
		zap.Int64("iterations", e.stats.Iterations),
		zap.Int64("ticks", e.stats.Ticks),
		zap.Int64("signals", e.stats.Signals),
		zap.Int64("orders", e.stats.Orders),
		zap.Int64("failures", e.stats.Failures))
	return nil
}

// dispatch routes one event. A failing or panicking handler is logged and the
// loop carries on.
func (e *Engine) dispatch(ctx context.Context, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.Failures++
			e.log.Error("handler panic", zap.Any("event", ev), zap.String("panic", fmt.Sprint(r)))
		}
	}()

	var err error
	switch ev := ev.(type) {
	case models.TickEvent:
		e.stats.Ticks++
		e.strategy.CalculateSignals(ev)
		err = e.portfolio.UpdatePortfolio(ev)
	case models.SignalEvent:
		e.stats.Signals++
		err = e.portfolio.ExecuteSignal(ev)
	case models.OrderEvent:
		e.stats.Orders++
		err = e.execution.ExecuteOrder(ctx, ev)
	default:
		e.log.Warn("unknown event ignored", zap.String("type", string(ev.Type())))
		return
	}
	if err != nil {
		e.stats.Failures++
		e.log.Warn("event failed", zap.String("type", string(ev.Type())), zap.Error(err))
	}
}
