package config

import "go.uber.org/fx"

// Module provides an already loaded and validated *Config.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
	)
}
