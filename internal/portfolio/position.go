package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fxtrader/internal/models"
	"fxtrader/internal/price"
)

var ErrInsufficientUnits = errors.New("not enough units in position")

// PnLPrecision is the number of decimal places kept on realized and unrealized P&L.
const PnLPrecision int32 = 5

// Quotes is where a position reads the latest market price.
type Quotes interface {
	Quote(instrument string) (price.Quote, error)
}

// lot is a block of units entered at one price.
type lot struct {
	units int64
	price decimal.Decimal
}

// Position is one open exposure. A long is entered at the ask and marked at the
// bid; a short is entered at the bid and marked at the ask.
//
// Units are kept as lots so that RemoveUnits takes back the most recent additions
// first and the average price of what remains is exact.
type Position struct {
	BaseCurrency string
	Type         models.PositionType
	Instrument   string
	Units        int64
	AvgPrice     decimal.Decimal
	CurPrice     decimal.Decimal
	// RealizedPnL accumulates everything already moved into the balance.
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal

	lots   []lot
	quotes Quotes
}

// NewPosition opens a position at the current entry-side price.
func NewPosition(base string, typ models.PositionType, instrument string, units int64, quotes Quotes) (*Position, error) {
	p := &Position{
		BaseCurrency: base,
		Type:         typ,
		Instrument:   instrument,
		Units:        units,
		quotes:       quotes,
	}
	q, err := quotes.Quote(instrument)
	if err != nil {
		return nil, fmt.Errorf("open %s %s: %w", typ, instrument, err)
	}
	p.lots = []lot{{units: units, price: p.entryPrice(q)}}
	p.CurPrice = p.markPrice(q)
	p.recalc()
	return p, nil
}

func (p *Position) entryPrice(q price.Quote) decimal.Decimal {
	if p.Type == models.PositionShort {
		return q.Bid
	}
	return q.Ask
}

func (p *Position) markPrice(q price.Quote) decimal.Decimal {
	if p.Type == models.PositionShort {
		return q.Ask
	}
	return q.Bid
}

func (p *Position) sign() decimal.Decimal {
	return decimal.NewFromInt(p.Type.Sign())
}

func (p *Position) lotPnL(l lot) decimal.Decimal {
	return p.CurPrice.Sub(l.price).Mul(decimal.NewFromInt(l.units)).Mul(p.sign())
}

func (p *Position) recalc() {
	var cost, pnl decimal.Decimal
	for _, l := range p.lots {
		cost = cost.Add(l.price.Mul(decimal.NewFromInt(l.units)))
		pnl = pnl.Add(p.lotPnL(l))
	}
	if p.Units > 0 {
		p.AvgPrice = cost.Div(decimal.NewFromInt(p.Units))
	}
	p.UnrealizedPnL = pnl.Round(PnLPrecision)
}

// UpdatePrice marks the position to the latest quote.
func (p *Position) UpdatePrice() error {
	q, err := p.quotes.Quote(p.Instrument)
	if err != nil {
		return err
	}
	p.CurPrice = p.markPrice(q)
	p.recalc()
	return nil
}

// AddUnits averages in units at the current entry-side price.
func (p *Position) AddUnits(units int64) error {
	if units <= 0 {
		return fmt.Errorf("add %d units: must be positive", units)
	}
	q, err := p.quotes.Quote(p.Instrument)
	if err != nil {
		return err
	}
	p.lots = append(p.lots, lot{units: units, price: p.entryPrice(q)})
	p.Units += units
	p.CurPrice = p.markPrice(q)
	p.recalc()
	return nil
}

// RemoveUnits realizes P&L on units at the last marked price and returns it.
func (p *Position) RemoveUnits(units int64) (decimal.Decimal, error) {
	if units <= 0 {
		return decimal.Zero, fmt.Errorf("remove %d units: must be positive", units)
	}
	if units > p.Units {
		return decimal.Zero, fmt.Errorf("remove %d of %d %s: %w", units, p.Units, p.Instrument, ErrInsufficientUnits)
	}
	var realized decimal.Decimal
	left := units
	for left > 0 {
		last := &p.lots[len(p.lots)-1]
		take := min(left, last.units)
		realized = realized.Add(p.lotPnL(lot{units: take, price: last.price}))
		last.units -= take
		if last.units == 0 {
			p.lots = p.lots[:len(p.lots)-1]
		}
		left -= take
	}
	realized = realized.Round(PnLPrecision)
	p.Units -= units
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	if p.Units > 0 {
		p.recalc()
	}
	return realized, nil
}

// Close realizes the remaining units. UnrealizedPnL keeps its last marked value.
func (p *Position) Close() decimal.Decimal {
	var realized decimal.Decimal
	for _, l := range p.lots {
		realized = realized.Add(p.lotPnL(l))
	}
	realized = realized.Round(PnLPrecision)
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.lots = nil
	p.Units = 0
	return realized
}

func (p *Position) String() string {
	return fmt.Sprintf("%s %s units=%d avg=%s cur=%s pnl=%s",
		p.Type, p.Instrument, p.Units, p.AvgPrice, p.CurPrice, p.UnrealizedPnL)
}
