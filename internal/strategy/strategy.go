package strategy

import (
	"fxtrader/internal/models"
)

// Publisher is where strategies put their signals.
type Publisher interface {
	Push(e models.Event) error
}

// Strategy consumes ticks and emits zero or more signals into the queue.
// Anything that is not a tick is ignored.
type Strategy interface {
	CalculateSignals(e models.Event)
	Name() string
	// Dump renders indicator state for logs.
	Dump(instrument string) string
}
