package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BASEBUDDY_CHAIN_RPC_URLS.
const EnvPrefix = "BASEBUDDY"

// Config holds all configuration for BaseBuddy
type Config struct {
	Chain          ChainConfig          `mapstructure:"chain"`
	Uniswap        UniswapConfig        `mapstructure:"uniswap"`
	Tokens         []TokenConfig        `mapstructure:"tokens"`
	Prices         PricesConfig         `mapstructure:"prices"`
	Retry          RetryConfig          `mapstructure:"retry"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Swap           SwapConfig           `mapstructure:"swap"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

// ChainConfig holds the RPC connection settings
type ChainConfig struct {
	RPCURLs             []string      `mapstructure:"rpc_urls"`
	ChainID             int64         `mapstructure:"chain_id"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	Multicall           string        `mapstructure:"multicall"`
}

// UniswapConfig holds the Uniswap V3 deployment and routing settings
type UniswapConfig struct {
	Factory       string            `mapstructure:"factory"`
	InitCodeHash  string            `mapstructure:"init_code_hash"`
	Router        string            `mapstructure:"router"`
	FeeTiers      []uint32          `mapstructure:"fee_tiers"`
	KnownPools    []KnownPoolConfig `mapstructure:"known_pools"`
	RoutingTokens []string          `mapstructure:"routing_tokens"`
	PoolTimeout   time.Duration     `mapstructure:"pool_timeout"`
}

// KnownPoolConfig pins a pool address for a pair
type KnownPoolConfig struct {
	TokenA  string `mapstructure:"token_a"`
	TokenB  string `mapstructure:"token_b"`
	Address string `mapstructure:"address"`
	Fee     uint32 `mapstructure:"fee"`
}

// TokenConfig adds or overrides a registry token
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
	Name     string `mapstructure:"name"`
}

// PricesConfig holds the USD price policy
type PricesConfig struct {
	ETHUSDCPool      string  `mapstructure:"eth_usdc_pool"`
	CbETHFallback    bool    `mapstructure:"cbeth_fallback"`
	FallbackETHPrice float64 `mapstructure:"fallback_eth_price"`
	// Tokens is keyed by symbol; keys are case-insensitive.
	Tokens map[string]TokenPriceConfig `mapstructure:"tokens"`
}

// TokenPriceConfig is the price policy of one token
type TokenPriceConfig struct {
	UsePool     bool    `mapstructure:"use_pool"`
	StaticPrice float64 `mapstructure:"static_price"`
	PairWith    string  `mapstructure:"pair_with"`
	Fee         uint32  `mapstructure:"fee"`
}

// RetryConfig holds RPC retry settings
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
	// RateLimitMultiplier stretches the backoff after a rate-limit response.
	RateLimitMultiplier float64 `mapstructure:"rate_limit_multiplier"`
}

// RateLimitedBackoff is the longest total wait the retry schedule can spend
// between attempts when every failure is a rate limit.
func (r RetryConfig) RateLimitedBackoff() time.Duration {
	mult := r.RateLimitMultiplier
	if mult < 1 {
		mult = 1
	}
	var total time.Duration
	for attempt := 1; attempt < r.MaxAttempts; attempt++ {
		delay := float64(r.BaseDelay) * float64(attempt) * mult
		if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
			delay = float64(r.MaxDelay)
		}
		total += time.Duration(delay * (1 + r.Jitter))
	}
	return total
}

// RateLimitConfig holds the RPC request rate settings
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// CircuitBreakerConfig holds the RPC circuit breaker settings
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// CacheConfig holds token metadata caching settings
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds the optional L2 cache connection. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SwapConfig holds quoting defaults
type SwapConfig struct {
	DefaultSlippage float64       `mapstructure:"default_slippage"`
	Deadline        time.Duration `mapstructure:"deadline"`
}

// WorkerConfig sizes the shared worker pool
type WorkerConfig struct {
	Size  int `mapstructure:"size"`
	Queue int `mapstructure:"queue"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"` // json or text
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"` // empty disables tracing
	ServiceName    string `mapstructure:"service_name"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"rpc-url":       "chain.rpc_urls",
	"chain-id":      "chain.chain_id",
	"slippage":      "swap.default_slippage",
	"addr":          "http.addr",
	"log-level":     "observability.log_level",
	"log-format":    "observability.log_format",
	"redis-addr":    "cache.redis.addr",
	"workers":       "worker.size",
	"otlp-endpoint": "observability.otlp_endpoint",
}

// Load loads configuration from an optional file, BASEBUDDY_* environment
// variables and, when flags is non-nil, any of its flags that were set.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("basebuddy")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// a missing default file is fine; an explicit path must exist
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Chain defaults
	v.SetDefault("chain.rpc_urls", []string{"https://mainnet.base.org"})
	v.SetDefault("chain.chain_id", 8453)
	v.SetDefault("chain.health_check_interval", "30s")
	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("chain.multicall", "0xcA11bde05977b3631167028862bE2a173976CA11")

	// Uniswap defaults
	v.SetDefault("uniswap.factory", "0x33128a8fC17869897dcE68Ed026d694621f6FDfD")
	v.SetDefault("uniswap.init_code_hash", "0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")
	v.SetDefault("uniswap.router", "0x198EF79F1F515F02dFE9e3115eD9fC07183f02fC")
	v.SetDefault("uniswap.fee_tiers", []uint32{500, 3000, 10000})
	v.SetDefault("uniswap.routing_tokens", []string{"WETH", "USDC", "USDbC"})
	v.SetDefault("uniswap.pool_timeout", "20s")

	// Price defaults
	v.SetDefault("prices.eth_usdc_pool", "0xFb53Fe0c27ABEF48602cCA25be1314D8f94Af9E6")
	v.SetDefault("prices.cbeth_fallback", true)
	v.SetDefault("prices.fallback_eth_price", 2000.0)

	// Resilience defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.jitter", 0.1)
	v.SetDefault("retry.rate_limit_multiplier", 2.0)
	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.success_threshold", 2)
	v.SetDefault("circuit_breaker.timeout", "30s")

	// Cache defaults
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "basebuddy")

	// Swap defaults
	v.SetDefault("swap.default_slippage", 0.5)
	v.SetDefault("swap.deadline", "20m")

	v.SetDefault("worker.size", 8)
	v.SetDefault("worker.queue", 64)

	// HTTP defaults
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.service_name", "basebuddy")
}

var validFeeTiers = map[uint32]bool{500: true, 3000: true, 10000: true}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Chain validation
	if len(c.Chain.RPCURLs) == 0 {
		return fmt.Errorf("at least one RPC URL is required")
	}
	for _, raw := range c.Chain.RPCURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid RPC URL %q: %w", raw, err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("invalid RPC URL %q: unsupported scheme", raw)
		}
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if err := checkAddress("chain.multicall", c.Chain.Multicall); err != nil {
		return err
	}

	// Uniswap validation
	for key, addr := range map[string]string{
		"uniswap.factory":      c.Uniswap.Factory,
		"uniswap.router":       c.Uniswap.Router,
		"prices.eth_usdc_pool": c.Prices.ETHUSDCPool,
	} {
		if err := checkAddress(key, addr); err != nil {
			return err
		}
	}
	if b := common.FromHex(c.Uniswap.InitCodeHash); len(b) != common.HashLength {
		return fmt.Errorf("uniswap.init_code_hash must be 32 bytes of hex")
	}
	if len(c.Uniswap.FeeTiers) == 0 {
		return fmt.Errorf("at least one fee tier is required")
	}
	for _, fee := range c.Uniswap.FeeTiers {
		if !validFeeTiers[fee] {
			return fmt.Errorf("invalid fee tier: %d", fee)
		}
	}
	for i, kp := range c.Uniswap.KnownPools {
		for _, addr := range []string{kp.TokenA, kp.TokenB, kp.Address} {
			if err := checkAddress(fmt.Sprintf("uniswap.known_pools[%d]", i), addr); err != nil {
				return err
			}
		}
		if !validFeeTiers[kp.Fee] {
			return fmt.Errorf("uniswap.known_pools[%d]: invalid fee tier: %d", i, kp.Fee)
		}
	}
	if len(c.Uniswap.RoutingTokens) == 0 {
		return fmt.Errorf("at least one routing token is required")
	}

	// Token validation
	for i, t := range c.Tokens {
		if strings.TrimSpace(t.Symbol) == "" {
			return fmt.Errorf("tokens[%d]: symbol is required", i)
		}
		if err := checkAddress(fmt.Sprintf("tokens[%d]", i), t.Address); err != nil {
			return err
		}
	}

	// Price validation
	if c.Prices.FallbackETHPrice <= 0 {
		return fmt.Errorf("prices.fallback_eth_price must be positive")
	}
	for sym, pc := range c.Prices.Tokens {
		if pc.StaticPrice < 0 {
			return fmt.Errorf("prices.tokens.%s: static price must be >= 0", sym)
		}
		if pc.Fee != 0 && !validFeeTiers[pc.Fee] {
			return fmt.Errorf("prices.tokens.%s: invalid fee tier: %d", sym, pc.Fee)
		}
	}

	// Resilience validation
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry.base_delay must not exceed retry.max_delay")
	}
	if c.Retry.RateLimitMultiplier < 1 {
		return fmt.Errorf("retry.rate_limit_multiplier must be >= 1")
	}
	// one pool tier must fit the full rate-limited schedule plus a last request
	if need := c.Retry.RateLimitedBackoff() + c.Chain.RequestTimeout; c.Uniswap.PoolTimeout < need {
		return fmt.Errorf("uniswap.pool_timeout %v must cover the retry schedule and one request (%v)", c.Uniswap.PoolTimeout, need)
	}
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be positive")
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be >= 1")
	}

	// Swap validation
	if c.Swap.DefaultSlippage < 0 || c.Swap.DefaultSlippage >= 100 {
		return fmt.Errorf("swap.default_slippage must be in [0, 100)")
	}
	if c.Swap.Deadline <= 0 {
		return fmt.Errorf("swap.deadline must be positive")
	}

	if c.Worker.Size < 1 {
		return fmt.Errorf("worker.size must be >= 1")
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.LogFormat] {
		return fmt.Errorf("invalid log format: %s", c.Observability.LogFormat)
	}

	return nil
}

func checkAddress(key, addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("%s: invalid address %q", key, addr)
	}
	return nil
}
