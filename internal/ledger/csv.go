package ledger

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Placeholder is written for instruments with no open position.
const Placeholder = "0.00"

// TimeLayout of the Timestamp column.
const TimeLayout = time.RFC3339Nano

// CSV writes the backtest.csv equity log: Timestamp,Balance,<instrument...>.
type CSV struct {
	f      io.Closer
	buf    *bufio.Writer
	w      *csv.Writer
	width  int
	closed bool
}

// CreateCSV truncates path and returns a writer on it.
func CreateCSV(path string) (*CSV, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("ledger file: %w", err)
	}
	return NewCSV(f), nil
}

// NewCSV writes to w; if w is an io.Closer it is closed by Close.
func NewCSV(w io.Writer) *CSV {
	buf := bufio.NewWriter(w)
	c := &CSV{buf: buf, w: csv.NewWriter(buf)}
	if cl, ok := w.(io.Closer); ok {
		c.f = cl
	}
	return c
}

func (c *CSV) WriteHeader(instruments []string) error {
	if c.closed {
		return ErrClosed
	}
	c.width = len(instruments)
	return c.w.Write(append([]string{"Timestamp", "Balance"}, instruments...))
}

func (c *CSV) Append(s Snapshot) error {
	if c.closed {
		return ErrClosed
	}
	if len(s.PnL) != c.width {
		return fmt.Errorf("snapshot has %d columns, header has %d", len(s.PnL), c.width)
	}
	rec := make([]string, 0, 2+len(s.PnL))
	rec = append(rec, s.Timestamp.UTC().Format(TimeLayout), s.Balance.String())
	for _, p := range s.PnL {
		if p.Valid {
			rec = append(rec, p.Decimal.String())
		} else {
			rec = append(rec, Placeholder)
		}
	}
	return c.w.Write(rec)
}

// Flush pushes buffered rows to the underlying writer.
func (c *CSV) Flush() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	return c.buf.Flush()
}

func (c *CSV) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.Flush()
	if c.f != nil {
		if cerr := c.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
