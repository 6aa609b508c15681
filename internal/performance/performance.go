// Package performance derives the equity curve and drawdown statistics from the
// per-tick equity ledger.
package performance

import (
	"math"
	"time"

	"fxtrader/internal/ledger"
)

// Row is one ledger row plus the derived columns. The first row has no
// Returns, Equity or Drawdown; those are NaN.
type Row struct {
	Timestamp time.Time
	Balance   float64
	PnL       []float64
	Total     float64
	Returns   float64
	Equity    float64
	Drawdown  float64
	// Duration is the number of rows since the curve was last at its high-water mark.
	Duration int
}

type Report struct {
	Instruments []string
	Rows        []Row
	Summary     Summary
}

type Summary struct {
	Ticks               int       `yaml:"ticks"`
	Start               time.Time `yaml:"start"`
	End                 time.Time `yaml:"end"`
	InitialTotal        float64   `yaml:"initial_total"`
	FinalBalance        float64   `yaml:"final_balance"`
	FinalTotal          float64   `yaml:"final_total"`
	TotalReturn         float64   `yaml:"total_return"`
	MaxDrawdown         float64   `yaml:"max_drawdown"`
	MaxDrawdownDuration int       `yaml:"max_drawdown_duration"`
}

// Compute builds the report. Placeholder P&L cells count as zero.
func Compute(instruments []string, snaps []ledger.Snapshot) Report {
	rep := Report{
		Instruments: instruments,
		Rows:        make([]Row, len(snaps)),
	}
	for i, s := range snaps {
		r := Row{
			Timestamp: s.Timestamp,
			Balance:   s.Balance.InexactFloat64(),
			PnL:       make([]float64, len(s.PnL)),
			Returns:   math.NaN(),
			Equity:    math.NaN(),
			Drawdown:  math.NaN(),
		}
		r.Total = r.Balance
		for j, p := range s.PnL {
			if p.Valid {
				r.PnL[j] = p.Decimal.InexactFloat64()
			}
			r.Total += r.PnL[j]
		}
		rep.Rows[i] = r
	}

	equityCurve(rep.Rows)
	maxDD, maxDur := drawdowns(rep.Rows)

	if n := len(rep.Rows); n > 0 {
		first, last := rep.Rows[0], rep.Rows[n-1]
		rep.Summary = Summary{
			Ticks:               n,
			Start:               first.Timestamp,
			End:                 last.Timestamp,
			InitialTotal:        first.Total,
			FinalBalance:        last.Balance,
			FinalTotal:          last.Total,
			MaxDrawdown:         maxDD,
			MaxDrawdownDuration: maxDur,
		}
		if first.Total != 0 {
			rep.Summary.TotalReturn = last.Total/first.Total - 1
		}
	}
	return rep
}

// equityCurve fills Returns (percent change of Total) and Equity (cumulative
// product of 1+Returns). The first row stays undefined.
func equityCurve(rows []Row) {
	eq := 1.0
	for i := 1; i < len(rows); i++ {
		prev := rows[i-1].Total
		if prev == 0 {
			continue
		}
		r := rows[i].Total/prev - 1
		rows[i].Returns = r
		eq *= 1 + r
		rows[i].Equity = eq
	}
}

// drawdowns computes the running gap to the high-water mark of Equity. The mark
// starts at zero, so the first defined Equity value is the first peak.
func drawdowns(rows []Row) (maxDD float64, maxDuration int) {
	hwm := 0.0
	for i := 1; i < len(rows); i++ {
		e := rows[i].Equity
		if math.IsNaN(e) {
			continue
		}
		hwm = math.Max(hwm, e)
		dd := hwm - e
		rows[i].Drawdown = dd
		if dd != 0 {
			rows[i].Duration = rows[i-1].Duration + 1
		}
		maxDD = math.Max(maxDD, dd)
		if rows[i].Duration > maxDuration {
			maxDuration = rows[i].Duration
		}
	}
	return maxDD, maxDuration
}
