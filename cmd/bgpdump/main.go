// Command bgpdump scans one or more MRT archives, filters their
// updates, and dumps the survivors as text or JSON. It is a
// flag-driven CLI around a worker pool and a pluggable Formatter,
// built on koanf for filter configuration, zap for logging, and a
// prometheus /metrics endpoint.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/CSUNetSec/bgpcore/fileutil"
	"github.com/CSUNetSec/bgpcore/filter"
	"github.com/CSUNetSec/bgpcore/vm"
)

var (
	configPath string
	logLevel   string
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to a YAML bgpdump config file")
	flag.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

func errx(e error) {
	if e == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "bgpdump: %s\n", e)
	os.Exit(1)
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(configPath)
	errx(err)
	if len(flag.Args()) > 0 {
		cfg.Files = append(cfg.Files, flag.Args()...)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if len(cfg.Files) == 0 {
		errx(fmt.Errorf("no input files: pass them as arguments or in config.files"))
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	counters := &vm.Counters{
		Traps:   prometheus.NewCounter(prometheus.CounterOpts{Name: "bgpdump_vm_traps_total", Help: "VM panics recovered during filter evaluation."}),
		Runs:    prometheus.NewCounter(prometheus.CounterOpts{Name: "bgpdump_records_scanned_total", Help: "MRT records successfully decoded."}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{Name: "bgpdump_records_matched_total", Help: "Decoded records that passed every filter."}),
	}
	registry.MustRegister(counters.Traps, counters.Runs, counters.Matches)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry, logger)
	}

	filters, err := buildFilters(cfg)
	errx(err)

	outFile := openOrStd(cfg.Output, os.Stdout)
	fmtr := buildFormatter(cfg, outFile)

	var record *fileutil.RecordFile
	if cfg.ReplayFile != "" {
		record = fileutil.NewRecordFile(cfg.ReplayFile)
		if err := record.Open(); err != nil {
			errx(err)
		}
	}

	dc := &DumpConfig{
		workers:  cfg.Workers,
		source:   NewStringArray(cfg.Files),
		fmtr:     fmtr,
		filters:  filters,
		dump:     NewMultiWriteFile(outFile),
		log:      NewMultiWriteFile(openOrStd(cfg.LogOutput, os.Stderr)),
		stat:     NewMultiWriteFile(openOrStd(cfg.StatOutput, os.Stderr)),
		logger:   logger,
		counters: counters,
		record:   record,
	}
	defer dc.CloseAll()

	run(dc)
}

func buildFilters(cfg *Config) ([]filter.Filter, error) {
	var filters []filter.Filter
	if cfg.FilterFile != "" {
		fs, err := fileutil.NewFiltersFromFile(cfg.FilterFile)
		if err != nil {
			return nil, err
		}
		filters = append(filters, fs...)
	}
	if cfg.Predicate != "" {
		f, err := filter.Compile(cfg.Predicate)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// buildFormatter picks the output shape. Dedup's Formatter writes
// directly to out at summarize time instead of returning a per-message
// string, so it's handed the same file dc.dump otherwise writes to.
func buildFormatter(cfg *Config, out *os.File) Formatter {
	if cfg.Dedup {
		return NewPrefixDedup(out, cfg.DedupSeries)
	}
	switch cfg.Format {
	case "json":
		return NewJSONFormatter()
	default:
		return NewTextFormatter()
	}
}

// openOrStd opens path for appending, or returns std when path is
// empty, the usual "-o stdout" default.
func openOrStd(path string, std *os.File) *os.File {
	if path == "" {
		return std
	}
	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		errx(err)
	}
	return fp
}

func newLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bgpdump: initializing logger: %s\n", err)
		os.Exit(1)
	}
	return logger
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
