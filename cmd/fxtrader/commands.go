package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"fxtrader/internal/broker"
	"fxtrader/internal/modules/backtest"
	"fxtrader/internal/modules/health"
	"fxtrader/internal/modules/postgres"
	"fxtrader/internal/modules/tracing"
	"fxtrader/internal/modules/trading"
	"fxtrader/internal/performance"
	"fxtrader/internal/price"
	"fxtrader/pkg/logger"
)

var backtestCommand = &cli.Command{
	Name:  "backtest",
	Usage: "replay historical CSV prices with simulated execution",
	Flags: append(engineFlags(),
		&cli.StringFlag{Name: "data-dir", Usage: "directory holding one <PAIR>.csv per instrument"},
	),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runApp(c.Context, cfg,
			postgres.Module(),
			backtest.Module(),
		)
	},
}

var tradeCommand = &cli.Command{
	Name:  "trade",
	Usage: "stream live prices and place real orders",
	Flags: engineFlags(),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		cfg.UseLiveDefaults()
		if err := cfg.ValidateLive(); err != nil {
			return err
		}
		return runApp(c.Context, cfg,
			tracing.Module(),
			health.Module(),
			trading.Module(),
		)
	},
}

var reportCommand = &cli.Command{
	Name:  "report",
	Usage: "compute the equity curve and summary from a ledger CSV",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "ledger", Usage: "ledger CSV, output.ledger_path when empty", TakesFile: true},
		&cli.StringFlag{Name: "equity", Usage: "equity CSV to write, output.equity_path when empty"},
		&cli.StringFlag{Name: "summary", Usage: "summary YAML to write, output.summary_path when empty"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		ledgerPath := pick(c.String("ledger"), cfg.Output.LedgerPath)
		equityPath := pick(c.String("equity"), cfg.Output.EquityPath)
		summaryPath := pick(c.String("summary"), cfg.Output.SummaryPath)

		f, err := os.Open(ledgerPath)
		if err != nil {
			return errors.Wrap(err, "open ledger")
		}
		defer f.Close()
		instruments, snaps, err := performance.ReadLedgerCSV(f)
		if err != nil {
			return errors.Wrapf(err, "read %s", ledgerPath)
		}

		rep := performance.Compute(instruments, snaps)
		if err := rep.WriteFiles(equityPath, summaryPath); err != nil {
			return err
		}
		return rep.WriteSummary(c.App.Writer)
	},
}

var fetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "download historical candles from the broker into the data directory",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "instrument", Value: "EUR/USD", Usage: "instrument the candles belong to"},
		&cli.StringFlag{Name: "offer-id", Value: "1", Usage: "broker offer id of the instrument"},
		&cli.StringFlag{Name: "period", Value: "H1", Usage: "m1, m5, m15, m30, H1, H2, H3, H4, H6, H8, D1, W1 or M1"},
		&cli.IntFlag{Name: "num", Value: 1000, Usage: "number of candles"},
		&cli.TimestampFlag{Name: "from", Layout: "2006-01-02", Usage: "first day, YYYY-MM-DD"},
		&cli.TimestampFlag{Name: "to", Layout: "2006-01-02", Usage: "last day, YYYY-MM-DD"},
		&cli.StringFlag{Name: "out", Usage: "output CSV, <data.dir>/<PAIR>.csv when empty"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if err := cfg.ValidateBroker(); err != nil {
			return err
		}
		log, err := logger.New(cfg.Log.Level, serviceName)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		client := broker.NewClient(broker.Config{
			AccountID:   cfg.Broker.AccountID,
			URL:         cfg.Broker.URL,
			StreamURL:   cfg.Broker.StreamURL,
			AccessToken: cfg.Broker.AccessToken,
			Timeout:     cfg.Broker.Timeout,
		}, nil, log.Named("broker"))
		if err := client.Login(c.Context); err != nil {
			return err
		}

		req := broker.CandlesRequest{
			OfferID: c.String("offer-id"),
			Period:  c.String("period"),
			Num:     c.Int("num"),
		}
		if t := c.Timestamp("from"); t != nil {
			req.From = *t
		}
		if t := c.Timestamp("to"); t != nil {
			req.To = t.Add(24*time.Hour - time.Second)
		}
		candles, err := client.Candles(c.Context, req)
		if err != nil {
			return err
		}

		out := pick(c.String("out"), filepath.Join(cfg.Data.Dir, price.FileName(c.String("instrument"))))
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := broker.WriteCandlesCSV(f, candles); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "write %s", out)
		}
		log.Sugar().Infof("%d candles written to %s", len(candles), out)
		return f.Close()
	},
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
