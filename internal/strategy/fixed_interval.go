package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"fxtrader/internal/models"
)

const NameFixedInterval = "fixed_interval"

// FixedInterval flips between enter and exit on every Nth tick of an instrument.
// Harness strategy, not meant to make money.
type FixedInterval struct {
	every int
	state map[string]*intervalState

	pub Publisher
	log *zap.Logger
}

func NewFixedInterval(every int, pub Publisher, log *zap.Logger) *FixedInterval {
	if every <= 0 {
		every = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FixedInterval{every: every, state: map[string]*intervalState{}, pub: pub, log: log}
}

type intervalState struct {
	ticks    int
	invested bool
}

func (s *FixedInterval) Name() string { return NameFixedInterval }

func (s *FixedInterval) CalculateSignals(e models.Event) {
	tick, ok := e.(models.TickEvent)
	if !ok {
		return
	}
	st, ok := s.state[tick.Instrument]
	if !ok {
		st = &intervalState{}
		s.state[tick.Instrument] = st
	}
	st.ticks++
	if st.ticks%s.every != 0 {
		return
	}

	side := models.SideEnter
	if st.invested {
		side = models.SideExit
	}
	st.invested = !st.invested

	sig := models.SignalEvent{
		Instrument: tick.Instrument,
		OrderType:  models.OrderAtMarket,
		Side:       side,
		Time:       tick.Time,
	}
	if err := s.pub.Push(sig); err != nil {
		s.log.Error("signal not queued", zap.Stringer("signal", sig), zap.Error(err))
	}
}

func (s *FixedInterval) Dump(instrument string) string {
	st, ok := s.state[instrument]
	if !ok {
		return fmt.Sprintf("FixedInterval[every=%d] no ticks", s.every)
	}
	return fmt.Sprintf("FixedInterval[every=%d] ticks=%d invested=%t", s.every, st.ticks, st.invested)
}
