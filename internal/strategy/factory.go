package strategy

import (
	"fmt"

	"go.uber.org/zap"
)

// Settings is the strategy section of the configuration.
type Settings struct {
	Name        string
	ShortWindow int
	LongWindow  int
	Interval    int
}

// Known reports whether name selects a strategy NewStrategy can build.
func Known(name string) bool {
	switch name {
	case NameMovingAverageCross, NameFixedInterval, "":
		return true
	}
	return false
}

func NewStrategy(s Settings, instruments []string, pub Publisher, log *zap.Logger) (Strategy, error) {
	switch s.Name {
	case NameFixedInterval:
		return NewFixedInterval(s.Interval, pub, log), nil
	case NameMovingAverageCross, "":
		return NewMovingAverageCross(MACrossConfig{
			ShortWindow: s.ShortWindow,
			LongWindow:  s.LongWindow,
		}, instruments, pub, log), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", s.Name)
	}
}
