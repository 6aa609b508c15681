package performance

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"fxtrader/internal/ledger"
)

// WriteCSV writes equity.csv: the ledger columns followed by Total, Returns, Equity
// and Drawdown. Undefined cells are left empty.
func (r Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"Timestamp", "Balance"}, r.Instruments...)
	header = append(header, "Total", "Returns", "Equity", "Drawdown")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range r.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, row.Timestamp.UTC().Format(ledger.TimeLayout), formatFloat(row.Balance))
		for _, p := range row.PnL {
			rec = append(rec, formatFloat(p))
		}
		rec = append(rec,
			formatFloat(row.Total),
			formatFloat(row.Returns),
			formatFloat(row.Equity),
			formatFloat(row.Drawdown),
		)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteSummary writes the summary as YAML.
func (r Report) WriteSummary(w io.Writer) error {
	raw, err := yaml.Marshal(r.Summary)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

// WriteFiles writes equity.csv and the summary to the given paths; an empty path is skipped.
func (r Report) WriteFiles(equityPath, summaryPath string) error {
	if equityPath != "" {
		if err := writeFile(equityPath, r.WriteCSV); err != nil {
			return errors.Wrap(err, "write equity curve")
		}
	}
	if summaryPath != "" {
		if err := writeFile(summaryPath, r.WriteSummary); err != nil {
			return errors.Wrap(err, "write summary")
		}
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadLedgerCSV parses a backtest.csv written by ledger.CSV.
func ReadLedgerCSV(r io.Reader) ([]string, []ledger.Snapshot, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "read ledger header")
	}
	if len(header) < 2 || header[0] != "Timestamp" || header[1] != "Balance" {
		return nil, nil, errors.Errorf("unexpected ledger header %v", header)
	}
	instruments := header[2:]

	var snaps []ledger.Snapshot
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "ledger line %d", line)
		}
		s, err := parseSnapshot(rec)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "ledger line %d", line)
		}
		snaps = append(snaps, s)
	}
	return instruments, snaps, nil
}

func parseSnapshot(rec []string) (ledger.Snapshot, error) {
	var s ledger.Snapshot
	ts, err := time.Parse(ledger.TimeLayout, rec[0])
	if err != nil {
		return s, err
	}
	s.Timestamp = ts
	if s.Balance, err = decimal.NewFromString(rec[1]); err != nil {
		return s, fmt.Errorf("balance: %w", err)
	}
	s.PnL = make([]decimal.NullDecimal, len(rec)-2)
	for i, cell := range rec[2:] {
		if cell == ledger.Placeholder || cell == "" {
			continue
		}
		v, err := decimal.NewFromString(cell)
		if err != nil {
			return s, fmt.Errorf("column %d: %w", i+2, err)
		}
		s.PnL[i] = decimal.NewNullDecimal(v)
	}
	return s, nil
}
