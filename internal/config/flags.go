package config

import (
	"github.com/spf13/pflag"

	"github.com/CharlesOkeke1/AirValora/internal/edge"
)

// BindFlags registers the command-line overrides on fs. Defaults shown
// in help come from DefaultConfig; a flag only overrides the loaded
// configuration when it was set explicitly (see ApplyFlags).
func BindFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("config", "", "path to a YAML config file")
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.Int("http-port", d.HTTP.Port, "API listen port")
	fs.String("store", d.Store.Backend, "store backend: memory, redis, sqlite or postgres")
	fs.String("store-dsn", d.Store.DSN, "sqlite path or postgres connection string")
	fs.String("redis-addr", d.Store.RedisAddr, "redis address")
	fs.Duration("tick-interval", d.Ticker.Interval, "progress ticker interval")
	fs.Duration("mover-interval", d.Mover.Interval, "lifecycle mover interval")
	fs.Bool("no-ticker", false, "disable the progress ticker")
	fs.Bool("no-mover", false, "disable the lifecycle mover")
	fs.String("schedule", d.Ingestion.Source, "schedule file or URL imported on an interval")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
	fs.String("log-format", d.Log.Format, "log format: text or json")
	fs.String("memory-mode", d.Runtime.MemoryMode.String(), "runtime preset: normal, reduced or aggressive")
}

// ApplyFlags overlays the flags the user set explicitly onto cfg.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Lookup(name) != nil && fs.Changed(name) {
			err = apply()
		}
	}
	set("http-addr", func() (e error) { cfg.HTTP.Addr, e = fs.GetString("http-addr"); return })
	set("http-port", func() (e error) { cfg.HTTP.Port, e = fs.GetInt("http-port"); return })
	set("store", func() (e error) { cfg.Store.Backend, e = fs.GetString("store"); return })
	set("store-dsn", func() (e error) { cfg.Store.DSN, e = fs.GetString("store-dsn"); return })
	set("redis-addr", func() (e error) { cfg.Store.RedisAddr, e = fs.GetString("redis-addr"); return })
	set("tick-interval", func() (e error) { cfg.Ticker.Interval, e = fs.GetDuration("tick-interval"); return })
	set("mover-interval", func() (e error) { cfg.Mover.Interval, e = fs.GetDuration("mover-interval"); return })
	set("no-ticker", func() error {
		off, e := fs.GetBool("no-ticker")
		cfg.Ticker.Enabled = cfg.Ticker.Enabled && !off
		return e
	})
	set("no-mover", func() error {
		off, e := fs.GetBool("no-mover")
		cfg.Mover.Enabled = cfg.Mover.Enabled && !off
		return e
	})
	set("schedule", func() (e error) { cfg.Ingestion.Source, e = fs.GetString("schedule"); return })
	set("log-level", func() (e error) { cfg.Log.Level, e = fs.GetString("log-level"); return })
	set("log-format", func() (e error) { cfg.Log.Format, e = fs.GetString("log-format"); return })
	set("memory-mode", func() error {
		mode, e := fs.GetString("memory-mode")
		cfg.Runtime = edge.Preset(edge.ParseMemoryMode(mode))
		return e
	})
	return err
}

// FromFlags runs the full layering for a command: defaults, the file
// named by --config, the environment, then explicit flags. The result
// is validated.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	path, _ := fs.GetString("config")
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyFlags(fs, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
