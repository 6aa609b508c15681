package price

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fxtrader/internal/models"
)

// Update is one push notification from the live feed.
type Update struct {
	Symbol string
	Time   time.Time
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// Feed opens the live push stream for a set of instruments.
type Feed interface {
	Stream(ctx context.Context, instruments []string) (<-chan Update, error)
}

// TickObserver is told about every tick relayed from the feed (health reporting).
type TickObserver interface {
	TouchTick(t time.Time)
}

// Streaming relays live updates into the queue. It never exhausts on its own:
// HasMore stays true until Stop is called.
type Streaming struct {
	instruments []string
	feed        Feed
	prices      *Cache
	pub         Publisher
	observer    TickObserver
	log         *zap.Logger

	stopped atomic.Bool
	relayed atomic.Int64
}

func NewStreaming(instruments []string, feed Feed, pub Publisher, observer TickObserver, log *zap.Logger) *Streaming {
	if log == nil {
		log = zap.NewNop()
	}
	return &Streaming{
		instruments: instruments,
		feed:        feed,
		prices:      NewCache(instruments),
		pub:         pub,
		observer:    observer,
		log:         log,
	}
}

func (s *Streaming) HasMore() bool         { return !s.stopped.Load() }
func (s *Streaming) Instruments() []string { return s.instruments }
func (s *Streaming) Prices() *Cache        { return s.prices }

// Relayed is the number of ticks handed to the queue.
func (s *Streaming) Relayed() int64 { return s.relayed.Load() }

// Next is a no-op: ticks arrive asynchronously through Run.
func (s *Streaming) Next(context.Context) error { return nil }

// Stop makes HasMore false; the dispatcher exits on its next iteration.
func (s *Streaming) Stop() { s.stopped.Store(true) }

// Start opens the feed and relays updates in the background. A feed that cannot
// be opened is reported here, before any tick flows.
func (s *Streaming) Start(ctx context.Context) error {
	updates, err := s.feed.Stream(ctx, s.instruments)
	if err != nil {
		return err
	}
	s.log.Info("price stream started", zap.Strings("instruments", s.instruments))
	go s.relay(ctx, updates)
	return nil
}

// Run is Start without the goroutine: it returns when ctx is done or the feed closes.
// A closed feed stops the source.
func (s *Streaming) Run(ctx context.Context) error {
	updates, err := s.feed.Stream(ctx, s.instruments)
	if err != nil {
		return err
	}
	s.log.Info("price stream started", zap.Strings("instruments", s.instruments))
	s.relay(ctx, updates)
	return nil
}

func (s *Streaming) relay(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			s.log.Info("price stream stopped")
			return
		case u, ok := <-updates:
			if !ok {
				s.log.Warn("price feed closed")
				s.Stop()
				return
			}
			s.OnPriceUpdate(ctx, u)
		}
	}
}

// OnPriceUpdate translates one push notification into a tick.
func (s *Streaming) OnPriceUpdate(ctx context.Context, u Update) {
	t := models.TickEvent{
		Instrument: u.Symbol,
		Time:       u.Time,
		Bid:        u.Bid.Round(Precision),
		Ask:        u.Ask.Round(Precision),
	}
	s.prices.Update(t)
	if s.observer != nil {
		s.observer.TouchTick(u.Time)
	}
	if err := s.pub.Publish(ctx, t); err != nil {
		s.log.Warn("tick not queued", zap.String("instrument", u.Symbol), zap.Error(err))
		return
	}
	s.relayed.Add(1)
}
