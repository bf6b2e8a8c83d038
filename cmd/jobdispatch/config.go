package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/xraph/jobdispatch"
)

const envPrefix = "JOBDISPATCH_"

// Store backends selectable from the command line.
const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	storeBun      = "bun"
	storeSQLite   = "sqlite"
)

const defaultSQLitePath = "./data/jobdispatch.db"

// config is the CLI configuration. Values come from the environment (after
// an optional .env file) and are then overridden by flags.
type config struct {
	Store        string `json:"store"`
	DSN          string `json:"dsn,omitempty"`
	RedisAddr    string `json:"redis_addr,omitempty"`
	OffPeakStart int    `json:"offpeak_start"`
	OffPeakEnd   int    `json:"offpeak_end"`
	Concurrency  int    `json:"concurrency"`
	WorkerID     string `json:"worker_id,omitempty"`
	LogLevel     string `json:"log_level"`
	LogFormat    string `json:"log_format"`
}

func defaultConfig() *config {
	def := jobdispatch.DefaultConfig()
	return &config{
		Store:        storeMemory,
		OffPeakStart: def.OffPeak.StartHour,
		OffPeakEnd:   def.OffPeak.EndHour,
		Concurrency:  def.Concurrency,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// loadConfig reads JOBDISPATCH_* variables through getenv on top of the
// defaults.
func loadConfig(getenv func(string) string) (*config, error) {
	cfg := defaultConfig()

	str := func(key string, dst *string) {
		if v := getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(envPrefix + key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %q is not a number", envPrefix, key, v)
		}
		*dst = n
		return nil
	}

	str("STORE", &cfg.Store)
	str("DSN", &cfg.DSN)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("WORKER_ID", &cfg.WorkerID)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	if err := num("OFFPEAK_START", &cfg.OffPeakStart); err != nil {
		return nil, err
	}
	if err := num("OFFPEAK_END", &cfg.OffPeakEnd); err != nil {
		return nil, err
	}
	if err := num("CONCURRENCY", &cfg.Concurrency); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch c.Store {
	case storeMemory, storeSQLite:
	case storePostgres, storeBun:
		if c.DSN == "" {
			return fmt.Errorf("store %q needs a DSN", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q (want memory, postgres, bun or sqlite)", c.Store)
	}
	if c.OffPeakStart < 0 || c.OffPeakStart > 23 || c.OffPeakEnd < 0 || c.OffPeakEnd > 23 {
		return fmt.Errorf("off-peak hours must be within 0-23, got %d-%d", c.OffPeakStart, c.OffPeakEnd)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

// redacted returns a copy that is safe to print. A password in the DSN is
// masked whether it is given as URL user info, a password query parameter
// or a libpq password=... pair.
func (c *config) redacted() *config {
	out := *c
	out.DSN = redactDSN(c.DSN)
	return &out
}

const redactedSecret = "xxxxx"

func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		q := u.Query()
		if q.Has("password") {
			q.Set("password", redactedSecret)
			u.RawQuery = q.Encode()
		}
		return u.Redacted()
	}

	fields := strings.Fields(dsn)
	masked := false
	for i, f := range fields {
		if k, _, ok := strings.Cut(f, "="); ok && k == "password" {
			fields[i] = "password=" + redactedSecret
			masked = true
		}
	}
	if !masked {
		return dsn
	}
	return strings.Join(fields, " ")
}

// engineConfig maps the CLI settings onto the runtime configuration.
func (c *config) engineConfig() jobdispatch.Config {
	cfg := jobdispatch.DefaultConfig()
	cfg.Concurrency = c.Concurrency
	cfg.OffPeak.StartHour = c.OffPeakStart
	cfg.OffPeak.EndHour = c.OffPeakEnd
	return cfg
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}
