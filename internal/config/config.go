// Package config loads and validates the settler configuration from a
// YAML file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/settler.yaml"
	envPrefix         = "settler"
)

// Load reads the config file at path (or the default location) and merges
// environment variables of the form SETTLER_SECTION_KEY on top.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file %q not found: %w", path, err)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrate", true)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("orderbook.valid_from_horizon", "24h")
	v.SetDefault("orderbook.balance_check", false)
	v.SetDefault("orderbook.sweep_interval", "1m")

	v.SetDefault("auction.interval", "30s")

	v.SetDefault("solver.deadline", "15s")
	v.SetDefault("solver.tie_breaks", []string{"gas", "priority"})

	v.SetDefault("validation.tolerance_numerator", 1)
	v.SetDefault("validation.tolerance_denominator", 1_000_000)
	v.SetDefault("validation.gas_cost_per_unit", 0)

	v.SetDefault("submission.escalation_interval", "30s")
	v.SetDefault("submission.poll_interval", "2s")
	v.SetDefault("submission.max_attempts", 5)
	v.SetDefault("submission.bump_percent", 15)
	v.SetDefault("submission.gas_price_ceiling_gwei", 500)
	v.SetDefault("submission.gas_limit_margin", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("metrics.namespace", "batch_settler")
}

// Validate checks the configuration for contradictions and malformed
// addresses before any component is constructed from it.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url is required")
	}
	if c.Chain.PrivateKey == "" {
		return errors.New("chain.private_key is required")
	}
	if !common.IsHexAddress(c.Chain.SettlementContract) {
		return fmt.Errorf("chain.settlement_contract %q is not a valid address", c.Chain.SettlementContract)
	}

	if c.Auction.Interval <= 0 {
		return errors.New("auction.interval must be positive")
	}
	for i, pool := range c.Auction.Pools {
		if !common.IsHexAddress(pool.Address) {
			return fmt.Errorf("auction.pools[%d].address %q is not a valid address", i, pool.Address)
		}
		if !common.IsHexAddress(pool.TokenA) || !common.IsHexAddress(pool.TokenB) {
			return fmt.Errorf("auction.pools[%d] has an invalid token address", i)
		}
		if pool.FeeDenominator == 0 || pool.FeeNumerator >= pool.FeeDenominator {
			return fmt.Errorf("auction.pools[%d] has an invalid fee %d/%d", i, pool.FeeNumerator, pool.FeeDenominator)
		}
	}
	for i, q := range c.Auction.RemoteQuoters {
		if q.URL == "" {
			return fmt.Errorf("auction.remote_quoters[%d].url is required", i)
		}
	}

	if len(c.Solver.Strategies) == 0 {
		return errors.New("solver.strategies must name at least one strategy")
	}
	for i, s := range c.Solver.Strategies {
		for j, tok := range s.IntermediateTokens {
			if !common.IsHexAddress(tok) {
				return fmt.Errorf("solver.strategies[%d].intermediate_tokens[%d] %q is not a valid address", i, j, tok)
			}
		}
	}
	if c.Solver.Deadline <= 0 {
		return errors.New("solver.deadline must be positive")
	}

	if c.Validation.ToleranceDenominator <= 0 || c.Validation.ToleranceNumerator < 0 {
		return errors.New("validation tolerance must be a non-negative fraction")
	}

	if c.Submission.MaxAttempts <= 0 {
		return errors.New("submission.max_attempts must be positive")
	}
	if c.Submission.BumpPercent <= 0 {
		return errors.New("submission.bump_percent must be positive")
	}
	if c.Submission.EscalationInterval <= 0 || c.Submission.PollInterval <= 0 {
		return errors.New("submission intervals must be positive")
	}

	return nil
}
