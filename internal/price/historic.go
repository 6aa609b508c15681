package price

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fxtrader/internal/models"
)

// Row is one historical quote.
type Row struct {
	Instrument string
	Time       time.Time
	Bid        decimal.Decimal
	Ask        decimal.Decimal
}

// Historic replays rows in timestamp order, one tick per Next call.
// The cursor only moves forward; once exhausted it stays exhausted.
type Historic struct {
	instruments []string
	rows        []Row
	cursor      int
	more        bool
	prices      *Cache
	pub         Publisher
	log         *zap.Logger
}

// NewHistoric sorts rows by time (stable, so ties keep instrument order) and
// quantizes prices to Precision.
func NewHistoric(instruments []string, rows []Row, pub Publisher, log *zap.Logger) *Historic {
	if log == nil {
		log = zap.NewNop()
	}
	order := make(map[string]int, len(instruments))
	for i, ins := range instruments {
		order[ins] = i
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Time.Equal(sorted[j].Time) {
			return sorted[i].Time.Before(sorted[j].Time)
		}
		return order[sorted[i].Instrument] < order[sorted[j].Instrument]
	})
	for i := range sorted {
		sorted[i].Bid = sorted[i].Bid.Round(Precision)
		sorted[i].Ask = sorted[i].Ask.Round(Precision)
	}

	return &Historic{
		instruments: instruments,
		rows:        sorted,
		more:        true,
		prices:      NewCache(instruments),
		pub:         pub,
		log:         log,
	}
}

func (h *Historic) HasMore() bool         { return h.more }
func (h *Historic) Instruments() []string { return h.instruments }
func (h *Historic) Prices() *Cache        { return h.prices }

// Remaining is the number of rows not yet published.
func (h *Historic) Remaining() int { return len(h.rows) - h.cursor }

// Next publishes the next row as a tick and updates the price cache.
func (h *Historic) Next(ctx context.Context) error {
	if h.cursor >= len(h.rows) {
		if h.more {
			h.log.Info("historical data exhausted", zap.Int("ticks", len(h.rows)))
		}
		h.more = false
		return nil
	}

	r := h.rows[h.cursor]
	t := models.TickEvent{
		Instrument: r.Instrument,
		Time:       r.Time,
		Bid:        r.Bid,
		Ask:        r.Ask,
	}
	h.prices.Update(t)
	if err := h.pub.Publish(ctx, t); err != nil {
		return err
	}
	h.cursor++
	return nil
}
