package price

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fxtrader/internal/models"
)

// Precision of every quoted price, in decimal places.
const Precision int32 = 5

var ErrUnknownSymbol = errors.New("no price for instrument")

// Publisher is the part of the queue a tick source writes to.
type Publisher interface {
	Publish(ctx context.Context, t models.TickEvent) error
}

// Source produces Tick events into the shared queue.
//
// Next is called by the dispatcher whenever the queue is empty. A historical source
// appends exactly one tick per call (or flips HasMore to false); a live source pushes
// asynchronously and Next is a no-op.
type Source interface {
	HasMore() bool
	Next(ctx context.Context) error
	Instruments() []string
	Prices() *Cache
}

// Quote is the latest known bid/ask for an instrument.
type Quote struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Time time.Time
}

// Cache holds the latest quote per instrument. Positions read from it.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewCache(instruments []string) *Cache {
	return &Cache{quotes: make(map[string]Quote, len(instruments))}
}

// Set stores a quote, rounding to Precision.
func (c *Cache) Set(instrument string, q Quote) {
	q.Bid = q.Bid.Round(Precision)
	q.Ask = q.Ask.Round(Precision)

	c.mu.Lock()
	c.quotes[instrument] = q
	c.mu.Unlock()
}

// Get returns the latest quote; ok is false before the first tick for instrument.
func (c *Cache) Get(instrument string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[instrument]
	return q, ok
}

// Quote is Get with an error for callers that need a price.
func (c *Cache) Quote(instrument string) (Quote, error) {
	q, ok := c.Get(instrument)
	if !ok {
		return Quote{}, ErrUnknownSymbol
	}
	return q, nil
}

// Update stores the tick's prices.
func (c *Cache) Update(t models.TickEvent) {
	c.Set(t.Instrument, Quote{Bid: t.Bid, Ask: t.Ask, Time: t.Time})
}
