// Package trading runs the engine against the live broker: streamed prices in,
// real orders out.
package trading

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"fxtrader/internal/broker"
	"fxtrader/internal/engine"
	"fxtrader/internal/execution"
	"fxtrader/internal/modules/config"
	"fxtrader/internal/modules/core"
	"fxtrader/internal/modules/health/service"
	"fxtrader/internal/notify"
	"fxtrader/internal/price"
	"fxtrader/internal/queue"
)

func NewQueue(cfg *config.Config) (*queue.Queue, error) {
	policy, err := queue.ParsePolicy(cfg.Queue.Policy)
	if err != nil {
		return nil, err
	}
	return queue.NewBounded(cfg.Queue.Capacity, policy), nil
}

func NewBroker(cfg *config.Config, state *service.State, log *zap.Logger) *broker.Client {
	return broker.NewClient(broker.Config{
		AccountID:   cfg.Broker.AccountID,
		URL:         cfg.Broker.URL,
		StreamURL:   cfg.Broker.StreamURL,
		AccessToken: cfg.Broker.AccessToken,
		Timeout:     cfg.Broker.Timeout,
	}, state, log.Named("broker"))
}

func NewStreaming(cfg *config.Config, c *broker.Client, q *queue.Queue, state *service.State, log *zap.Logger) *price.Streaming {
	return price.NewStreaming(cfg.Instruments, c, q, state, log.Named("stream"))
}

type Notifiers struct {
	fx.Out

	Notifier notify.Notifier
	Telegram *notify.Telegram
}

// NewNotifiers uses Telegram when a token and chat are configured, the log otherwise.
func NewNotifiers(cfg *config.Config, log *zap.Logger) (Notifiers, error) {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		return Notifiers{Notifier: notify.NewLog(log.Named("notify"))}, nil
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log.Named("telegram"))
	if err != nil {
		return Notifiers{}, fmt.Errorf("telegram: %w", err)
	}
	return Notifiers{Notifier: tg, Telegram: tg}, nil
}

func NewExecution(cfg *config.Config, c *broker.Client, n notify.Notifier, log *zap.Logger) *execution.Live {
	return execution.NewLive(c, cfg.Broker.OrdersPerSecond, n, log.Named("execution"))
}

type RunParams struct {
	fx.In

	Ctx        context.Context
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Engine     *engine.Engine
	Stream     *price.Streaming
	Execution  *execution.Live
	State      *service.State
	Notifier   notify.Notifier
	Telegram   *notify.Telegram `optional:"true"`
	Log        *zap.Logger
}

// Run opens the price stream on start (an unreachable feed fails startup), then
// drives the dispatcher. The app shuts down when the dispatcher returns: max
// iterations reached, the stream stopped, or a dispatcher error (exit code 1).
func Run(p RunParams) {
	done := make(chan struct{})
	log := p.Log.Named("trading")

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := p.Stream.Start(p.Ctx); err != nil {
				return fmt.Errorf("price feed: %w", err)
			}
			if p.Telegram != nil {
				p.Telegram.SetStatus(status(p))
				if err := p.Telegram.Start(p.Ctx); err != nil {
					return err
				}
			}
			p.State.SetReady(true)
			p.Notifier.Sendf("trading started: %v", p.Config.Instruments)

			go func() {
				defer close(done)
				code := 0
				if err := p.Engine.Run(p.Ctx); err != nil {
					log.Error("dispatcher", zap.Error(err))
					code = 1
				}
				_ = p.Shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.State.SetReady(false)
			p.Stream.Stop()
			if p.Telegram != nil {
				p.Telegram.Stop()
			}
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			log.Info("trading stopped",
				zap.Int64("ticks_relayed", p.Stream.Relayed()),
				zap.Int64("orders_submitted", p.Execution.Submitted()),
				zap.Int64("orders_failed", p.Execution.Failed()))
			p.Notifier.Send("trading stopped")
			return nil
		},
	})
}

func status(p RunParams) notify.StatusFunc {
	return func() string {
		last := "none"
		if t := p.State.LastTick(); !t.IsZero() {
			last = t.UTC().Format("2006-01-02 15:04:05")
		}
		return fmt.Sprintf("stream connected: %t\nticks: %d (last %s)\norders: %d sent, %d failed",
			p.State.WSConnected(), p.Stream.Relayed(), last,
			p.Execution.Submitted(), p.Execution.Failed())
	}
}

func Module() fx.Option {
	return fx.Module("trading",
		fx.Supply(core.ModeLive),
		fx.Provide(
			NewQueue,
			NewBroker,
			NewStreaming,
			func(s *price.Streaming) price.Source { return s },
			NewNotifiers,
			NewExecution,
			func(l *execution.Live) execution.Handler { return l },
		),
		core.Module(),
		fx.Invoke(Run),
	)
}
