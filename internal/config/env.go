// Package config defines environment configuration structs and loaders.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	ChainEnvConfig
	KamiEnvConfig
	DataAPIEnvConfig
	ServerEnvConfig
	ClientEnvConfig
	RedisEnvConfig
	StoreEnvConfig
	ValidatorEnvConfig
}

func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadMinerConfig parses only what the reference miner needs.
func LoadMinerConfig() (*MinerEnvConfig, error) {
	cfg := &MinerEnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ChainEnvConfig holds chain-specific environment values.
type ChainEnvConfig struct {
	Netuid int `env:"NETUID" envDefault:"18"`
}

// WalletEnvConfig holds wallet key configuration.
type WalletEnvConfig struct {
	WalletHotkey  string `env:"WALLET_HOTKEY"`
	WalletColdkey string `env:"WALLET_COLDKEY" envDefault:"default"`
	BittensorDir  string `env:"BITTENSOR_DIR" envDefault:"~/.bittensor"`
}

// KamiEnvConfig contains Kami service target and keys.
type KamiEnvConfig struct {
	WalletEnvConfig
	SubtensorNetwork string `env:"SUBTENSOR_NETWORK" envDefault:"test"`
	KamiHost         string `env:"KAMI_HOST" envDefault:"127.0.0.1"`
	KamiPort         string `env:"KAMI_PORT" envDefault:"3000"`
}

// DataAPIEnvConfig points at the ERA5 sampling service.
type DataAPIEnvConfig struct {
	DataAPIURL     string        `env:"DATA_API_URL" envDefault:"http://localhost:5005"`
	DataAPIKey     string        `env:"DATA_API_KEY"`
	DataAPITimeout time.Duration `env:"DATA_API_TIMEOUT" envDefault:"60s"`
	// ERA5 lags real time by several days.
	GroundTruthDelay time.Duration `env:"GROUND_TRUTH_DELAY" envDefault:"120h"`
}

// ServerEnvConfig configures the server.
type ServerEnvConfig struct {
	Address       string `env:"AXON_IP" envDefault:"127.0.0.1"`
	Port          int    `env:"AXON_PORT" envDefault:"8080"`
	BodySizeLimit int    `env:"SERVER_BODY_LIMIT" envDefault:"16777216"`
	APIPort       int    `env:"API_PORT" envDefault:"8090"`
}

// ClientEnvConfig configures the client.
type ClientEnvConfig struct {
	ClientTimeout time.Duration `env:"CLIENT_TIMEOUT" envDefault:"30s"`
}

// RedisEnvConfig configures Redis connection. With a host set, validator
// processes elect a single store owner through LeaseKey; standbys take over
// once the owner's key expires.
type RedisEnvConfig struct {
	RedisHost     string        `env:"REDIS_HOST"`
	RedisPort     int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisUsername string        `env:"REDIS_USERNAME"`
	LeaseKey      string        `env:"LEASE_KEY" envDefault:"zeus:validator:leader"`
	LeaseTTL      time.Duration `env:"LEASE_TTL" envDefault:"30s"`
}

// StoreEnvConfig locates the pending store file.
type StoreEnvConfig struct {
	StorePath string `env:"STORE_PATH" envDefault:"zeus.db"`
}

// ValidatorEnvConfig configures validator runtime.
type ValidatorEnvConfig struct {
	Environment    string        `env:"ENVIRONMENT" envDefault:"dev"`
	SampleSize     int           `env:"SAMPLE_SIZE" envDefault:"10"`
	MinerTimeout   time.Duration `env:"MINER_TIMEOUT" envDefault:"30s"`
	MovingAvgAlpha float64       `env:"MOVING_AVERAGE_ALPHA" envDefault:"0.1"`
	// Stake at or above this marks a validator, which is never dispatched to.
	ValidatorStakeThreshold float64 `env:"VALIDATOR_STAKE_THRESHOLD" envDefault:"1000"`
	TopPerformers           int     `env:"TOP_PERFORMERS" envDefault:"10"`
	// ScoreRetryDelay holds off scoring after a pass that left entries
	// unscored, e.g. because ground truth was not published yet.
	ScoreRetryDelay time.Duration `env:"SCORE_RETRY_DELAY" envDefault:"10m"`
}

// MinerEnvConfig configures the reference miner binary.
type MinerEnvConfig struct {
	WalletEnvConfig
	ServerEnvConfig
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
}

type IntervalConfig struct {
	MetagraphInterval time.Duration
	BlockInterval     time.Duration
	CycleDelay        time.Duration
	// BlocksPerResync is how many blocks pass between forced metagraph resyncs.
	BlocksPerResync int64
}

var (
	DevIntervalConfig = &IntervalConfig{
		MetagraphInterval: 5 * time.Second,
		BlockInterval:     2 * time.Second,
		CycleDelay:        5 * time.Second,
		BlocksPerResync:   10,
	}
	TestIntervalConfig = &IntervalConfig{
		MetagraphInterval: 30 * time.Second,
		BlockInterval:     12 * time.Second,
		CycleDelay:        60 * time.Second,
		BlocksPerResync:   100,
	}

	ProdIntervalConfig = &IntervalConfig{
		MetagraphInterval: 30 * time.Second,
		BlockInterval:     12 * time.Second,
		CycleDelay:        60 * time.Second,
		BlocksPerResync:   100,
	}
)

func NewIntervalConfig(environment string) *IntervalConfig {
	switch strings.ToLower(environment) {
	case "dev":
		return DevIntervalConfig
	case "test":
		return TestIntervalConfig
	case "prod":
		return ProdIntervalConfig
	}

	return DevIntervalConfig
}
