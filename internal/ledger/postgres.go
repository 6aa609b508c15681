package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fxtrader/pkg/db"
)

const Schema = `
CREATE TABLE IF NOT EXISTS equity_snapshots (
	run_id  uuid        NOT NULL,
	seq     bigint      NOT NULL,
	ts      timestamptz NOT NULL,
	balance numeric     NOT NULL,
	pnl     jsonb       NOT NULL,
	PRIMARY KEY (run_id, seq)
)`

var columns = []string{"run_id", "seq", "ts", "balance", "pnl"}

const defaultBatch = 512

// Postgres buffers snapshots and copies them into equity_snapshots in batches,
// one run per writer.
type Postgres struct {
	ctx   context.Context
	tx    db.TxManager
	runID uuid.UUID
	batch int

	instruments []string
	seq         int64
	pending     [][]any
	closed      bool
}

func NewPostgres(ctx context.Context, tx db.TxManager, batch int) *Postgres {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Postgres{ctx: ctx, tx: tx, runID: uuid.New(), batch: batch}
}

func (p *Postgres) RunID() uuid.UUID { return p.runID }

func (p *Postgres) WriteHeader(instruments []string) error {
	p.instruments = append([]string(nil), instruments...)
	return p.tx.RunMaster(p.ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, Schema)
		return err
	})
}

func (p *Postgres) Append(s Snapshot) error {
	if p.closed {
		return ErrClosed
	}
	pnl := make(map[string]string, len(p.instruments))
	for i, ins := range p.instruments {
		if i < len(s.PnL) && s.PnL[i].Valid {
			pnl[ins] = s.PnL[i].Decimal.String()
		} else {
			pnl[ins] = Placeholder
		}
	}
	raw, err := sonic.Marshal(pnl)
	if err != nil {
		return fmt.Errorf("encode pnl: %w", err)
	}

	p.pending = append(p.pending, []any{p.runID, p.seq, s.Timestamp.In(time.UTC), s.Balance, string(raw)})
	p.seq++
	if len(p.pending) >= p.batch {
		return p.Flush()
	}
	return nil
}

// Flush copies buffered rows in one transaction.
func (p *Postgres) Flush() error {
	if len(p.pending) == 0 {
		return nil
	}
	rows := p.pending
	err := p.tx.RunMaster(p.ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"equity_snapshots"}, columns, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return fmt.Errorf("copy %d snapshots: %w", len(rows), err)
	}
	p.pending = p.pending[:0]
	return nil
}

func (p *Postgres) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.Flush()
}
