package config

import "time"

// Config is the full settler configuration tree.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	OrderBook  OrderBookConfig  `mapstructure:"orderbook"`
	Auction    AuctionConfig    `mapstructure:"auction"`
	Solver     SolverConfig     `mapstructure:"solver"`
	Validation ValidationConfig `mapstructure:"validation"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ChainConfig connects the settler to a node and the settlement contract.
type ChainConfig struct {
	RPCURL             string `mapstructure:"rpc_url"`
	PrivateKey         string `mapstructure:"private_key"`
	SettlementContract string `mapstructure:"settlement_contract"`
}

// DatabaseConfig selects the order and settlement store backend.
type DatabaseConfig struct {
	// DSN is the postgres connection string. Empty selects the
	// in-memory stores.
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// ServerConfig configures the HTTP surface: order admission and metrics.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OrderBookConfig tunes order admission.
type OrderBookConfig struct {
	ValidFromHorizon time.Duration `mapstructure:"valid_from_horizon"`
	BalanceCheck     bool          `mapstructure:"balance_check"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

// AuctionConfig drives the periodic auction loop and its liquidity.
type AuctionConfig struct {
	Interval      time.Duration        `mapstructure:"interval"`
	Pools         []PoolConfig         `mapstructure:"pools"`
	RemoteQuoters []RemoteQuoterConfig `mapstructure:"remote_quoters"`
}

// PoolConfig is one on-chain constant-product pool to snapshot.
type PoolConfig struct {
	Name           string `mapstructure:"name"`
	Address        string `mapstructure:"address"`
	TokenA         string `mapstructure:"token_a"`
	TokenB         string `mapstructure:"token_b"`
	FeeNumerator   uint32 `mapstructure:"fee_numerator"`
	FeeDenominator uint32 `mapstructure:"fee_denominator"`
}

// RemoteQuoterConfig is one external quoting API queried live.
type RemoteQuoterConfig struct {
	Name       string        `mapstructure:"name"`
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// SolverConfig selects the competing strategies and the shared deadline.
type SolverConfig struct {
	Deadline   time.Duration    `mapstructure:"deadline"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	TieBreaks  []string         `mapstructure:"tie_breaks"`
}

// StrategyConfig instantiates one solver strategy. The list order is the
// priority used for ranking tie-breaks.
type StrategyConfig struct {
	Type               string   `mapstructure:"type"`
	IntermediateTokens []string `mapstructure:"intermediate_tokens"`
}

// ValidationConfig tunes the settlement validator.
type ValidationConfig struct {
	// Conservation tolerance as a fraction: numerator/denominator of
	// the gross traded amount per token.
	ToleranceNumerator   int64 `mapstructure:"tolerance_numerator"`
	ToleranceDenominator int64 `mapstructure:"tolerance_denominator"`
	// GasCostPerUnit prices a unit of gas in normalized surplus terms
	// for the objective check. Zero disables gas netting.
	GasCostPerUnit int64 `mapstructure:"gas_cost_per_unit"`
}

// SubmissionConfig bounds the transaction retry policy.
type SubmissionConfig struct {
	EscalationInterval  time.Duration `mapstructure:"escalation_interval"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BumpPercent         int64         `mapstructure:"bump_percent"`
	GasPriceCeilingGwei int64         `mapstructure:"gas_price_ceiling_gwei"`
	GasLimitMargin      int64         `mapstructure:"gas_limit_margin"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MetricsConfig configures the Prometheus namespace.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}
