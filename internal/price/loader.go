package price

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var ErrMalformedRow = errors.New("malformed price row")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FileName is the per-instrument CSV name: "EUR/USD" -> "EURUSD.csv".
func FileName(instrument string) string {
	return strings.ReplaceAll(instrument, "/", "") + ".csv"
}

// LoadDir reads one CSV per instrument from dir. Any unreadable or malformed row fails
// the whole load so a backtest never starts on partial data.
func LoadDir(dir string, instruments []string) ([]Row, error) {
	var rows []Row
	for _, ins := range instruments {
		path := filepath.Join(dir, FileName(ins))
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open prices for %s", ins)
		}
		r, err := ReadCSV(f, ins)
		_ = f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		rows = append(rows, r...)
	}
	return rows, nil
}

// ReadCSV parses rows with at least the columns time, bidopen and askopen.
// UTF-16 input with a BOM is decoded transparently.
func ReadCSV(in io.Reader, instrument string) ([]Row, error) {
	br := bufio.NewReader(in)
	if b, _ := br.Peek(2); len(b) == 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		br = bufio.NewReader(transform.NewReader(br, dec))
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	tCol, okT := idx["time"]
	bCol, okB := idx["bidopen"]
	aCol, okA := idx["askopen"]
	if !okT || !okB || !okA {
		return nil, errors.Wrapf(ErrMalformedRow, "header %v: need time, bidopen, askopen", header)
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		need := max(tCol, bCol, aCol)
		if len(rec) <= need {
			return nil, errors.Wrapf(ErrMalformedRow, "line %d: %d fields", line, len(rec))
		}

		ts, err := parseTime(rec[tCol])
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedRow, "line %d: %v", line, err)
		}
		bid, err := decimal.NewFromString(strings.TrimSpace(rec[bCol]))
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedRow, "line %d bid: %v", line, err)
		}
		ask, err := decimal.NewFromString(strings.TrimSpace(rec[aCol]))
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedRow, "line %d ask: %v", line, err)
		}
		rows = append(rows, Row{
			Instrument: instrument,
			Time:       ts,
			Bid:        bid.Round(Precision),
			Ask:        ask.Round(Precision),
		})
	}
	return rows, nil
}

func parseTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", raw)
}
