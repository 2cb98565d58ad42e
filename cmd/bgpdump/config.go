package main

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Config is bgpdump's run configuration: which files to scan, how to
// filter and format them, and where to send the result. Loaded with
// koanf the way rib-ingester's internal/config does: a YAML file
// overlaid by BGPDUMP_-prefixed environment variables.
type Config struct {
	Files       []string `koanf:"files"`
	FilterFile  string   `koanf:"filter_file"`
	Predicate   string   `koanf:"predicate"`
	Format      string   `koanf:"format"` // text, json
	Dedup       bool     `koanf:"dedup"`
	DedupSeries bool     `koanf:"dedup_series"`
	Output      string   `koanf:"output"`      // path, or "" for stdout
	LogOutput   string   `koanf:"log_output"`  // path, or "" for stderr
	StatOutput  string   `koanf:"stat_output"` // path, or "" for stderr
	Workers     int      `koanf:"workers"`
	MetricsAddr string   `koanf:"metrics_addr"` // "" disables the /metrics endpoint
	LogLevel    string   `koanf:"log_level"`
	ReplayFile  string   `koanf:"replay_file"` // "" disables; else path to a length-prefixed archive of passing messages' wire bytes
}

func loadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "bgpdump: loading config %s", path)
		}
	}
	if err := k.Load(env.Provider("BGPDUMP_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPDUMP_")
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, errors.Wrap(err, "bgpdump: loading env overlay")
	}

	cfg := &Config{
		Format:   "text",
		Workers:  1,
		LogLevel: "info",
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "bgpdump: unmarshaling config")
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Format {
	case "text", "json":
	default:
		return errors.Errorf("bgpdump: unsupported format %q", c.Format)
	}
	if c.Workers <= 0 {
		return errors.New("bgpdump: workers must be > 0")
	}
	return nil
}
