package portfolio

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fxtrader/internal/ledger"
	"fxtrader/internal/models"
)

var (
	ErrNoPosition     = errors.New("no open position")
	ErrPositionExists = errors.New("position already open")
	ErrNoTradeUnits   = errors.New("equity * risk_per_trade is below one unit")
)

// OrderPolicy decides when ExecuteSignal emits an order.
type OrderPolicy string

const (
	// OrderAlways mirrors every signal as an order.
	OrderAlways OrderPolicy = "always"
	// OrderOnChange treats a same-direction signal as a no-op: no units are added and
	// no order is emitted. Only opens and closes produce orders.
	OrderOnChange OrderPolicy = "on_change"
)

func ParseOrderPolicy(s string) (OrderPolicy, error) {
	switch OrderPolicy(s) {
	case OrderAlways, "":
		return OrderAlways, nil
	case OrderOnChange:
		return OrderOnChange, nil
	}
	return "", fmt.Errorf("unknown order policy %q", s)
}

type Config struct {
	BaseCurrency string
	Leverage     decimal.Decimal
	Equity       decimal.Decimal
	RiskPerTrade decimal.Decimal
	// Backtest turns on the per-tick equity snapshot.
	Backtest    bool
	OrderPolicy OrderPolicy
}

// Publisher receives the orders.
type Publisher interface {
	Push(e models.Event) error
}

// Portfolio tracks positions and the realized balance. It is touched only by the
// dispatcher goroutine.
type Portfolio struct {
	cfg         Config
	instruments []string
	balance     decimal.Decimal
	realized    decimal.Decimal
	tradeUnits  decimal.Decimal
	positions   map[string]*Position

	quotes Quotes
	pub    Publisher
	ledger ledger.Writer
	log    *zap.Logger

	newID func() string
}

// New builds a portfolio. With cfg.Backtest set the ledger header is written here.
func New(cfg Config, instruments []string, quotes Quotes, pub Publisher, w ledger.Writer, log *zap.Logger) (*Portfolio, error) {
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "USD"
	}
	if cfg.Leverage.IsZero() {
		cfg.Leverage = decimal.NewFromInt(1)
	}
	if cfg.OrderPolicy == "" {
		cfg.OrderPolicy = OrderAlways
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Portfolio{
		cfg:         cfg,
		instruments: append([]string(nil), instruments...),
		balance:     cfg.Equity,
		tradeUnits:  riskPositionSize(cfg.Equity, cfg.RiskPerTrade),
		positions:   make(map[string]*Position),
		quotes:      quotes,
		pub:         pub,
		ledger:      w,
		log:         log,
		newID:       func() string { return uuid.NewString() },
	}
	if p.tradeUnits.IntPart() < 1 {
		return nil, fmt.Errorf("%w: %s units", ErrNoTradeUnits, p.tradeUnits)
	}
	if cfg.Backtest && w != nil {
		if err := w.WriteHeader(p.instruments); err != nil {
			return nil, fmt.Errorf("ledger header: %w", err)
		}
	}
	return p, nil
}

// riskPositionSize is the trade size per 1k of equity.
func riskPositionSize(equity, risk decimal.Decimal) decimal.Decimal {
	return equity.Mul(risk).Div(decimal.NewFromInt(1000))
}

func (p *Portfolio) Equity() decimal.Decimal     { return p.cfg.Equity }
func (p *Portfolio) Balance() decimal.Decimal    { return p.balance }
func (p *Portfolio) TradeUnits() decimal.Decimal { return p.tradeUnits }

// RealizedPnL is the sum of everything moved into the balance so far.
func (p *Portfolio) RealizedPnL() decimal.Decimal { return p.realized }

// Position returns the open position for instrument.
func (p *Portfolio) Position(instrument string) (*Position, bool) {
	ps, ok := p.positions[instrument]
	return ps, ok
}

func (p *Portfolio) OpenPositions() int { return len(p.positions) }

func (p *Portfolio) AddNewPosition(typ models.PositionType, instrument string, units int64) error {
	if _, ok := p.positions[instrument]; ok {
		return fmt.Errorf("%s: %w", instrument, ErrPositionExists)
	}
	ps, err := NewPosition(p.cfg.BaseCurrency, typ, instrument, units, p.quotes)
	if err != nil {
		return err
	}
	p.positions[instrument] = ps
	return nil
}

func (p *Portfolio) AddPositionUnits(instrument string, units int64) error {
	ps, ok := p.positions[instrument]
	if !ok {
		return fmt.Errorf("add units to %s: %w", instrument, ErrNoPosition)
	}
	return ps.AddUnits(units)
}

// RemovePositionUnits partially closes a position; a position left with no units is removed.
func (p *Portfolio) RemovePositionUnits(instrument string, units int64) error {
	ps, ok := p.positions[instrument]
	if !ok {
		return fmt.Errorf("remove units from %s: %w", instrument, ErrNoPosition)
	}
	pnl, err := ps.RemoveUnits(units)
	if err != nil {
		return err
	}
	p.credit(pnl)
	if ps.Units == 0 {
		delete(p.positions, instrument)
	}
	return nil
}

func (p *Portfolio) ClosePosition(instrument string) error {
	ps, ok := p.positions[instrument]
	if !ok {
		return fmt.Errorf("close %s: %w", instrument, ErrNoPosition)
	}
	p.credit(ps.Close())
	delete(p.positions, instrument)
	return nil
}

func (p *Portfolio) credit(pnl decimal.Decimal) {
	p.balance = p.balance.Add(pnl)
	p.realized = p.realized.Add(pnl)
}

// UpdatePortfolio marks the tick's position to market and, in backtest mode, appends
// one snapshot row.
func (p *Portfolio) UpdatePortfolio(tick models.TickEvent) error {
	if ps, ok := p.positions[tick.Instrument]; ok {
		if err := ps.UpdatePrice(); err != nil {
			return fmt.Errorf("mark %s: %w", tick.Instrument, err)
		}
	}
	if !p.cfg.Backtest || p.ledger == nil {
		return nil
	}
	return p.ledger.Append(p.Snapshot(tick))
}

// Snapshot is the current ledger row stamped with the tick's time.
func (p *Portfolio) Snapshot(tick models.TickEvent) ledger.Snapshot {
	s := ledger.Snapshot{
		Timestamp: tick.Time,
		Balance:   p.balance,
		PnL:       make([]decimal.NullDecimal, len(p.instruments)),
	}
	for i, ins := range p.instruments {
		if ps, ok := p.positions[ins]; ok {
			s.PnL[i] = decimal.NewNullDecimal(ps.UnrealizedPnL)
		}
	}
	return s
}

// ExecuteSignal applies the position transition for sig and queues the order.
//
//	none  + enter -> open long      none  + exit -> open short
//	long  + enter -> add units      long  + exit -> close
//	short + enter -> close          short + exit -> add units
func (p *Portfolio) ExecuteSignal(sig models.SignalEvent) error {
	units := p.tradeUnits.IntPart()
	changed, err := p.transition(sig, units)
	if err != nil {
		return err
	}

	if !changed && p.cfg.OrderPolicy == OrderOnChange {
		p.log.Debug("order suppressed",
			zap.String("instrument", sig.Instrument),
			zap.Stringer("side", sig.Side),
			zap.Bool("changed", changed))
		return nil
	}

	order := models.OrderEvent{
		ID:         p.newID(),
		Instrument: sig.Instrument,
		Units:      units,
		OrderType:  sig.OrderType,
		Side:       sig.Side,
	}
	if order.OrderType == "" {
		order.OrderType = models.OrderAtMarket
	}
	if err := p.pub.Push(order); err != nil {
		return fmt.Errorf("queue order: %w", err)
	}
	p.log.Info("order queued",
		zap.Stringer("order", order),
		zap.String("balance", p.balance.StringFixed(2)))
	return nil
}

func (p *Portfolio) transition(sig models.SignalEvent, units int64) (bool, error) {
	ps, ok := p.positions[sig.Instrument]
	if !ok {
		if units == 0 {
			return false, nil
		}
		return true, p.AddNewPosition(models.PositionTypeFor(sig.Side), sig.Instrument, units)
	}

	if models.PositionTypeFor(sig.Side) == ps.Type {
		if units == 0 || p.cfg.OrderPolicy == OrderOnChange {
			return false, nil
		}
		return true, p.AddPositionUnits(sig.Instrument, units)
	}
	return true, p.ClosePosition(sig.Instrument)
}
