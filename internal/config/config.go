// Package config loads and validates the service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file and the process environment. Every failure is a
// configuration error.
package config

import (
	stderrors "errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/habit_ledger/internal/chain"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/tokens"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config is the full service configuration.
type Config struct {
	Ledger  LedgerConfig  `yaml:"ledger"`
	Signer  SignerConfig  `yaml:"signer"`
	Token   TokenConfig   `yaml:"token"`
	Sync    SyncConfig    `yaml:"sync"`
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// LedgerConfig locates the node and the contract.
type LedgerConfig struct {
	RPCURL         string        `yaml:"rpc_url" env:"HABIT_RPC_URL"`
	WebSocketURL   string        `yaml:"ws_url" env:"HABIT_WS_URL"`
	Network        uint32        `yaml:"network" env:"HABIT_NETWORK"`
	Contract       string        `yaml:"contract" env:"HABIT_CONTRACT"`
	Timeout        time.Duration `yaml:"timeout" env:"HABIT_RPC_TIMEOUT"`
	RateLimit      float64       `yaml:"rate_limit" env:"HABIT_RPC_RATE_LIMIT"`
	Burst          int           `yaml:"burst" env:"HABIT_RPC_BURST"`
	WaitTimeout    time.Duration `yaml:"wait_timeout" env:"HABIT_TX_WAIT_TIMEOUT"`
	PollInterval   time.Duration `yaml:"poll_interval" env:"HABIT_TX_POLL_INTERVAL"`
	ListenInterval time.Duration `yaml:"listen_interval" env:"HABIT_LISTEN_INTERVAL"`
	StartBlock     uint32        `yaml:"start_block" env:"HABIT_START_BLOCK"`
	DisableEvents  bool          `yaml:"disable_events" env:"HABIT_DISABLE_EVENTS"`
}

// SignerConfig holds the session identity key, WIF or hex.
type SignerConfig struct {
	Key string `yaml:"key" env:"HABIT_SIGNER_KEY"`
}

// TokenConfig describes the reward token. Fees are in display units.
type TokenConfig struct {
	Decimals      uint8  `yaml:"decimals" env:"HABIT_TOKEN_DECIMALS"`
	MinSessionFee string `yaml:"min_session_fee" env:"HABIT_MIN_SESSION_FEE"`
	MaxSessionFee string `yaml:"max_session_fee" env:"HABIT_MAX_SESSION_FEE"`
}

// SyncConfig controls reconciliation.
type SyncConfig struct {
	Schedule   string        `yaml:"schedule" env:"HABIT_SYNC_SCHEDULE"`
	RunTimeout time.Duration `yaml:"run_timeout" env:"HABIT_SYNC_RUN_TIMEOUT"`
	Track      []string      `yaml:"track" env:"HABIT_SYNC_TRACK"`
}

// StorageConfig selects the projection persister.
type StorageConfig struct {
	Driver      string `yaml:"driver" env:"HABIT_STORAGE_DRIVER"`
	PostgresDSN string `yaml:"postgres_dsn" env:"HABIT_POSTGRES_DSN"`
	RedisURL    string `yaml:"redis_url" env:"HABIT_REDIS_URL"`
	RedisPrefix string `yaml:"redis_prefix" env:"HABIT_REDIS_PREFIX"`
}

// HTTPConfig configures the collaborator API.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"HABIT_HTTP_ADDR"`
	RateLimit       float64       `yaml:"rate_limit" env:"HABIT_HTTP_RATE_LIMIT"`
	Burst           int           `yaml:"burst" env:"HABIT_HTTP_BURST"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HABIT_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HABIT_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HABIT_HTTP_SHUTDOWN_TIMEOUT"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Timeout:        30 * time.Second,
			RateLimit:      20,
			Burst:          10,
			WaitTimeout:    2 * time.Minute,
			PollInterval:   2 * time.Second,
			ListenInterval: 5 * time.Second,
		},
		Token: TokenConfig{
			Decimals:      8,
			MinSessionFee: "1",
			MaxSessionFee: "1000",
		},
		Sync: SyncConfig{
			Schedule:   "@every 1m",
			RunTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:      StorageMemory,
			RedisPrefix: "habit:projection:",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RateLimit:       50,
			Burst:           100,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    3 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Options selects the configuration sources.
type Options struct {
	// Path is a YAML file; empty skips it.
	Path string
	// EnvFile is a dotenv file loaded into the environment; a missing file
	// is ignored.
	EnvFile string
}

// Load builds and validates a configuration.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.Path != "" {
		if err := cfg.loadYAML(opts.Path); err != nil {
			return nil, err
		}
	}
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.Configuration(errors.ReasonInvalidConfiguration, fmt.Errorf("load env file %s: %w", opts.EnvFile, err))
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, errors.Configuration(errors.ReasonInvalidConfiguration, fmt.Errorf("decode environment: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Configuration(errors.ReasonInvalidConfiguration, fmt.Errorf("read config: %w", err))
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Configuration(errors.ReasonInvalidConfiguration, fmt.Errorf("parse config: %w", err))
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.Configurationf(errors.ReasonInvalidConfiguration, format, args...)
}

// Validate checks every field.
func (c *Config) Validate() error {
	if c.Ledger.RPCURL == "" {
		return invalid("ledger.rpc_url is required")
	}
	if u, err := url.Parse(c.Ledger.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("ledger.rpc_url %q is not an absolute URL", c.Ledger.RPCURL)
	}
	if c.Ledger.Network == 0 {
		return invalid("ledger.network is required")
	}
	if _, err := chain.ParseContractHash(c.Ledger.Contract); err != nil {
		return invalid("ledger.contract %q: %v", c.Ledger.Contract, err)
	}
	if c.Ledger.Timeout <= 0 || c.Ledger.WaitTimeout <= 0 {
		return invalid("ledger timeouts must be positive")
	}
	if strings.TrimSpace(c.Signer.Key) == "" {
		return invalid("signer.key is required")
	}
	if _, err := chain.AccountFromKey(c.Signer.Key); err != nil {
		return invalid("signer.key: %v", err)
	}

	if c.Token.Decimals > 30 {
		return invalid("token.decimals %d is out of range", c.Token.Decimals)
	}
	if _, _, err := c.Token.FeeBounds(); err != nil {
		return err
	}

	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return invalid("sync.schedule %q: %v", c.Sync.Schedule, err)
	}
	for _, a := range c.Sync.Track {
		if _, err := address.StringToUint160(a); err != nil {
			return invalid("sync.track %q: %v", a, err)
		}
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return invalid("storage.postgres_dsn is required for the postgres driver")
		}
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return invalid("storage.redis_url is required for the redis driver")
		}
	default:
		return invalid("storage.driver %q is not one of memory, postgres, redis", c.Storage.Driver)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr is required")
	}
	return nil
}

// FeeBounds converts the session fee bounds to base units.
func (t TokenConfig) FeeBounds() (lo, hi *big.Int, err error) {
	lo, err = tokens.ToRaw(t.MinSessionFee, t.Decimals)
	if err != nil {
		return nil, nil, invalid("token.min_session_fee %q: %v", t.MinSessionFee, err)
	}
	hi, err = tokens.ToRaw(t.MaxSessionFee, t.Decimals)
	if err != nil {
		return nil, nil, invalid("token.max_session_fee %q: %v", t.MaxSessionFee, err)
	}
	if lo.Sign() <= 0 || lo.Cmp(hi) > 0 {
		return nil, nil, invalid("session fee bounds [%s, %s] are invalid", t.MinSessionFee, t.MaxSessionFee)
	}
	return lo, hi, nil
}
