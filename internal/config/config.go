// Package config loads pipeline configuration from the environment and an
// optional YAML file. Every key has a default so AutomaticEnv picks up
// CAREGRAPH_* overrides without explicit binding.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Pipeline  Pipeline  `mapstructure:"pipeline"`
	Warehouse Warehouse `mapstructure:"warehouse"`
	Graph     Graph     `mapstructure:"graph"`
	Embedding Embedding `mapstructure:"embedding"`
	Redis     Redis     `mapstructure:"redis"`
	Ledger    Ledger    `mapstructure:"ledger"`
}

type Pipeline struct {
	Name             string        `mapstructure:"name"`
	Workers          int           `mapstructure:"workers"`
	UnitTimeout      time.Duration `mapstructure:"unit_timeout"`
	ExtractionSource string        `mapstructure:"extraction_source"`
}

type Warehouse struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Schema   string `mapstructure:"schema"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ResolveDSN prefers an explicit DSN and otherwise assembles one from the
// discrete connection fields.
func (w Warehouse) ResolveDSN() string {
	if strings.TrimSpace(w.DSN) != "" {
		return strings.TrimSpace(w.DSN)
	}
	if strings.TrimSpace(w.Host) == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", w.Host, w.Port),
		Path:   "/" + w.Name,
	}
	if w.User != "" {
		if w.Password != "" {
			u.User = url.UserPassword(w.User, w.Password)
		} else {
			u.User = url.User(w.User)
		}
	}
	q := url.Values{}
	q.Set("sslmode", w.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type Graph struct {
	URI            string `mapstructure:"uri"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxPoolSize    int    `mapstructure:"max_pool_size"`
}

type Embedding struct {
	Endpoint       string `mapstructure:"endpoint"`
	Deployment     string `mapstructure:"deployment"`
	APIVersion     string `mapstructure:"api_version"`
	APIKey         string `mapstructure:"api_key"`
	Dimensions     int    `mapstructure:"dimensions"`
	MaxChars       int    `mapstructure:"max_chars"`
	BatchSize      int    `mapstructure:"batch_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Ledger struct {
	DSN string `mapstructure:"dsn"`
}

// LedgerDSN falls back to the warehouse connection when no dedicated ledger
// database is configured.
func (c *Config) LedgerDSN() string {
	if strings.TrimSpace(c.Ledger.DSN) != "" {
		return strings.TrimSpace(c.Ledger.DSN)
	}
	return c.Warehouse.ResolveDSN()
}

// Load reads configuration from CAREGRAPH_* environment variables and, when
// path is non-empty, merges the YAML file at path underneath them.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAREGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// ValidateForRun checks the settings a pipeline run cannot proceed without.
// A missing embedding endpoint is allowed: enrichment degrades to fallback
// vectors instead.
func (c *Config) ValidateForRun() error {
	if strings.TrimSpace(c.Pipeline.Name) == "" {
		return errors.New("config: pipeline.name is required")
	}
	if c.Warehouse.ResolveDSN() == "" {
		return errors.New("config: warehouse connection is required (warehouse.dsn or warehouse.host)")
	}
	if strings.TrimSpace(c.Graph.URI) == "" {
		return errors.New("config: graph.uri is required")
	}
	if c.Pipeline.Workers < 1 {
		return errors.Newf("config: pipeline.workers must be >= 1, got %d", c.Pipeline.Workers)
	}
	if c.Embedding.Dimensions < 1 {
		return errors.Newf("config: embedding.dimensions must be >= 1, got %d", c.Embedding.Dimensions)
	}
	return nil
}
