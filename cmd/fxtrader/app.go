package main

import (
	"context"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fxtrader/internal/modules/config"
	"fxtrader/pkg/logger"
)

// engineFlags are shared by backtest and trade; set flags override the config file.
func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "instruments", Usage: "comma separated, e.g. EUR/USD,GBP/USD"},
		&cli.StringFlag{Name: "strategy", Usage: "ma_cross or fixed_interval"},
		&cli.IntFlag{Name: "short-window", Usage: "ma_cross short window in ticks"},
		&cli.IntFlag{Name: "long-window", Usage: "ma_cross long window in ticks"},
		&cli.IntFlag{Name: "interval", Usage: "fixed_interval period in ticks"},
		&cli.Float64Flag{Name: "equity", Usage: "starting equity in the base currency"},
		&cli.StringFlag{Name: "order-policy", Usage: "always or on_change"},
		&cli.DurationFlag{Name: "heartbeat", Usage: "sleep between dispatcher iterations"},
		&cli.Int64Flag{Name: "max-iterations", Usage: "stop after this many dispatcher iterations, 0 for no limit"},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.NewConfig()
	}
	if err != nil {
		return nil, err
	}

	if c.IsSet("instruments") {
		cfg.Instruments = splitList(c.String("instruments"))
	}
	if c.IsSet("strategy") {
		cfg.Strategy.Name = c.String("strategy")
	}
	if c.IsSet("short-window") {
		cfg.Strategy.ShortWindow = c.Int("short-window")
	}
	if c.IsSet("long-window") {
		cfg.Strategy.LongWindow = c.Int("long-window")
	}
	if c.IsSet("interval") {
		cfg.Strategy.Interval = c.Int("interval")
	}
	if c.IsSet("equity") {
		cfg.Portfolio.Equity = c.Float64("equity")
	}
	if c.IsSet("order-policy") {
		cfg.Portfolio.OrderPolicy = c.String("order-policy")
	}
	if c.IsSet("heartbeat") {
		cfg.Engine.Heartbeat = c.Duration("heartbeat")
	}
	if c.IsSet("max-iterations") {
		cfg.Engine.MaxIterations = c.Int64("max-iterations")
	}
	if c.IsSet("data-dir") {
		cfg.Data.Dir = c.String("data-dir")
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// runApp starts an fx app and blocks until it shuts itself down or the process
// is interrupted. A non-zero shutdown code becomes the process exit code.
func runApp(ctx context.Context, cfg *config.Config, opts ...fx.Option) error {
	log, err := logger.New(cfg.Log.Level, serviceName)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	base := []fx.Option{
		fx.Provide(func() context.Context { return ctx }),
		fx.Supply(log),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: fxLogger(log, cfg.Log.Level)}
		}),
		config.Module(cfg),
	}
	app := fx.New(append(base, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	var code int
	select {
	case sig := <-app.Wait():
		code = sig.ExitCode
	case <-ctx.Done():
		log.Info("interrupted")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Error("stop", zap.Error(err))
	}
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

// fxLogger keeps fx's own events at warn and above. IncreaseLevel cannot lower a
// level, so a logger already at warn or error is used as is.
func fxLogger(log *zap.Logger, level string) *zap.Logger {
	l := log.Named("fx")
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return l
		}
	}
	if lvl < zapcore.WarnLevel {
		l = l.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))
	}
	return l
}
