package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fxtrader/internal/models"
)

const NameMovingAverageCross = "ma_cross"

// MACrossConfig holds window sizes in ticks.
type MACrossConfig struct {
	ShortWindow int
	LongWindow  int
}

// smaState is the rolling mean sma' = (sma*(window-1) + price) / window,
// seeded with the first price.
type smaState struct {
	window int64
	value  decimal.Decimal
	seeded bool
}

func newSMA(window int) smaState {
	if window < 1 {
		window = 1
	}
	return smaState{window: int64(window)}
}

func (m *smaState) Update(price decimal.Decimal) {
	if !m.seeded {
		m.value = price
		m.seeded = true
		return
	}
	w := decimal.NewFromInt(m.window)
	m.value = m.value.Mul(decimal.NewFromInt(m.window - 1)).Add(price).Div(w)
}

func (m *smaState) Value() decimal.Decimal { return m.value }

// instrumentState is owned by the strategy; nothing else reads or writes it.
type instrumentState struct {
	ticks    int
	invested bool
	short    smaState
	long     smaState
}

// InstrumentState is a read-only copy of the indicator state.
type InstrumentState struct {
	Ticks    int
	Invested bool
	ShortSMA decimal.Decimal
	LongSMA  decimal.Decimal
}

// MovingAverageCross enters when the short mean crosses above the long one and exits
// when it crosses back below. Signals are edge-triggered through the invested flag.
type MovingAverageCross struct {
	cfg   MACrossConfig
	state map[string]*instrumentState

	pub Publisher
	log *zap.Logger
}

func NewMovingAverageCross(cfg MACrossConfig, instruments []string, pub Publisher, log *zap.Logger) *MovingAverageCross {
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = 5
	}
	if cfg.LongWindow <= 0 {
		cfg.LongWindow = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &MovingAverageCross{
		cfg:   cfg,
		state: make(map[string]*instrumentState, len(instruments)),
		pub:   pub,
		log:   log,
	}
	for _, ins := range instruments {
		s.get(ins)
	}
	return s
}

func (s *MovingAverageCross) Name() string { return NameMovingAverageCross }

func (s *MovingAverageCross) get(instrument string) *instrumentState {
	if st, ok := s.state[instrument]; ok {
		return st
	}
	st := &instrumentState{
		short: newSMA(s.cfg.ShortWindow),
		long:  newSMA(s.cfg.LongWindow),
	}
	s.state[instrument] = st
	return st
}

func (s *MovingAverageCross) CalculateSignals(e models.Event) {
	tick, ok := e.(models.TickEvent)
	if !ok {
		return
	}
	st := s.get(tick.Instrument)

	st.short.Update(tick.Bid)
	st.long.Update(tick.Bid)

	// wait until the short window has filled
	if st.ticks > s.cfg.ShortWindow {
		short, long := st.short.Value(), st.long.Value()
		switch {
		case short.GreaterThan(long) && !st.invested:
			s.emit(tick, models.SideEnter)
			st.invested = true
		case short.LessThan(long) && st.invested:
			s.emit(tick, models.SideExit)
			st.invested = false
		}
	}
	st.ticks++
}

func (s *MovingAverageCross) emit(tick models.TickEvent, side models.Side) {
	sig := models.SignalEvent{
		Instrument: tick.Instrument,
		OrderType:  models.OrderAtMarket,
		Side:       side,
		Time:       tick.Time,
	}
	if err := s.pub.Push(sig); err != nil {
		s.log.Error("signal not queued", zap.Stringer("signal", sig), zap.Error(err))
		return
	}
	s.log.Debug("signal", zap.Stringer("signal", sig), zap.String("state", s.Dump(tick.Instrument)))
}

// State returns a copy of the indicator state for instrument.
func (s *MovingAverageCross) State(instrument string) (InstrumentState, bool) {
	st, ok := s.state[instrument]
	if !ok {
		return InstrumentState{}, false
	}
	return InstrumentState{
		Ticks:    st.ticks,
		Invested: st.invested,
		ShortSMA: st.short.Value(),
		LongSMA:  st.long.Value(),
	}, true
}

func (s *MovingAverageCross) Dump(instrument string) string {
	st, ok := s.state[instrument]
	if !ok || st.ticks == 0 {
		return "MACross: warmup"
	}
	return fmt.Sprintf("MACross[%d/%d] short=%s long=%s invested=%t",
		s.cfg.ShortWindow, s.cfg.LongWindow, st.short.Value(), st.long.Value(), st.invested)
}
