package execution

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fxtrader/internal/broker"
	"fxtrader/internal/models"
	"fxtrader/internal/notify"
)

// Broker is the part of the broker client used to place orders.
type Broker interface {
	OpenTrade(ctx context.Context, o broker.OpenTrade) ([]byte, error)
}

// Live sends orders to the broker. Failures are logged and reported, never retried.
type Live struct {
	broker   Broker
	limiter  *rate.Limiter
	notifier notify.Notifier
	log      *zap.Logger

	submitted atomic.Int64
	failed    atomic.Int64
}

// NewLive limits submissions to ordersPerSecond; zero or less disables the limit.
func NewLive(b Broker, ordersPerSecond float64, n notify.Notifier, log *zap.Logger) *Live {
	lim := rate.NewLimiter(rate.Inf, 0)
	if ordersPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(ordersPerSecond), 1)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if n == nil {
		n = notify.NewLog(log)
	}
	return &Live{broker: b, limiter: lim, notifier: n, log: log}
}

func (l *Live) ExecuteOrder(ctx context.Context, o models.OrderEvent) (err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "execution.open_trade")
	span.SetTag("order.id", o.ID)
	span.SetTag("order.instrument", o.Instrument)
	span.SetTag("order.units", o.Units)
	span.SetTag("order.side", o.Side.String())
	defer func() {
		if err != nil {
			ext.Error.Set(span, true)
			span.LogKV("event", "error", "message", err.Error())
		}
		span.Finish()
	}()

	log := l.log.With(zap.String("order_id", o.ID), zap.String("instrument", o.Instrument))

	if err = l.limiter.Wait(ctx); err != nil {
		l.failed.Add(1)
		log.Warn("order not sent", zap.Error(err))
		return fmt.Errorf("rate limit: %w", err)
	}

	resp, err := l.broker.OpenTrade(ctx, broker.OpenTrade{
		Symbol:    o.Instrument,
		IsBuy:     o.Side.IsBuy(),
		Amount:    o.Units,
		OrderType: string(o.OrderType),
	})
	if err != nil {
		l.failed.Add(1)
		log.Error("order execution error", zap.Error(err))
		l.notifier.Sendf("order failed: %s %s %d: %v", o.Side, o.Instrument, o.Units, err)
		return err
	}

	l.submitted.Add(1)
	log.Info("order has been executed", zap.ByteString("response", resp))
	l.notifier.Sendf("order executed: %s %s %d", o.Side, o.Instrument, o.Units)
	return nil
}

func (l *Live) Submitted() int64 { return l.submitted.Load() }
func (l *Live) Failed() int64    { return l.failed.Load() }
