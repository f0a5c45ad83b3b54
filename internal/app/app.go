// Package app wires the settler components from configuration and drives
// the periodic auction loop, the order admission server and the expiry
// sweep under one lifecycle.
package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"batch-settler/internal/api"
	"batch-settler/internal/auction"
	"batch-settler/internal/chain"
	"batch-settler/internal/competition"
	"batch-settler/internal/config"
	"batch-settler/internal/domain"
	"batch-settler/internal/encoding"
	"batch-settler/internal/liquidity"
	"batch-settler/internal/observability"
	"batch-settler/internal/orderbook"
	"batch-settler/internal/simulation"
	"batch-settler/internal/solver"
	"batch-settler/internal/storage"
	"batch-settler/internal/storage/memory"
	"batch-settler/internal/storage/migrations"
	"batch-settler/internal/storage/postgres"
	"batch-settler/internal/submission"
	"batch-settler/internal/validation"
)

// App aggregates the wired components and drives the system lifecycle.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	pool      *postgres.Pool // nil when running on memory stores
	orders    *orderbook.Service
	builder   *auction.Builder
	driver    *competition.Driver
	submitter *submission.Submitter
	server    *api.Server
}

// New wires the application from configuration. The postgres pool and
// chain connection are established here so a misconfigured deployment
// fails at startup, not mid-round.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	node, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse settler private key: %w", err)
	}
	contract := common.HexToAddress(cfg.Chain.SettlementContract)

	// Stores: postgres when a DSN is configured, memory otherwise.
	var (
		pool            *postgres.Pool
		orderStore      storage.OrderStore
		settlementStore storage.SettlementStore
	)
	if cfg.Database.DSN != "" {
		pool, err = postgres.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		orderStore = postgres.NewOrderStore(pool)
		settlementStore = postgres.NewSettlementStore(pool)
	} else {
		logger.Warn("no database dsn configured, using in-memory stores")
		orderStore = memory.NewOrderStore()
		settlementStore = memory.NewSettlementStore()
	}

	orderOpts := []orderbook.ServiceOption{
		orderbook.WithValidFromHorizon(cfg.OrderBook.ValidFromHorizon),
	}
	if cfg.OrderBook.BalanceCheck {
		orderOpts = append(orderOpts, orderbook.WithBalanceReader(chain.NewBalanceReader(node)))
	}
	orders := orderbook.NewService(orderStore, logger, orderOpts...)

	sources := buildSources(cfg.Auction, node)

	// Resume the auction sequence above anything already settled so
	// identifiers stay strictly increasing across restarts.
	lastAuctionID, err := settlementStore.MaxAuctionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume auction sequence: %w", err)
	}
	builder := auction.NewBuilder(orderStore, sources, logger,
		auction.WithStartSequence(lastAuctionID))

	strategies, err := solver.FromConfigs(strategyConfigs(cfg.Solver.Strategies))
	if err != nil {
		return nil, err
	}

	validatorOpts := []validation.Option{
		validation.WithTolerance(cfg.Validation.ToleranceNumerator, cfg.Validation.ToleranceDenominator),
	}
	if cfg.Validation.GasCostPerUnit > 0 {
		perUnit := big.NewInt(cfg.Validation.GasCostPerUnit)
		validatorOpts = append(validatorOpts, validation.WithGasCoster(func(gas uint64) *big.Int {
			return new(big.Int).Mul(new(big.Int).SetUint64(gas), perUnit)
		}))
	}
	validator := validation.New(validatorOpts...)

	policy, err := competition.NewRankingPolicy(cfg.Solver.TieBreaks)
	if err != nil {
		return nil, err
	}

	encoder, err := encoding.NewEncoder(contract)
	if err != nil {
		return nil, err
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	simulator := simulation.NewSimulator(node, encoder, from, logger)

	driver := competition.NewDriver(strategies, sources, validator, policy, logger,
		competition.WithDeadline(cfg.Solver.Deadline),
		competition.WithSimulator(simulator),
	)

	gwei := big.NewInt(1_000_000_000)
	oracle := chain.NewNodeGasOracle(node, new(big.Int).Set(gwei))
	submitter, err := submission.NewSubmitter(ctx, node, oracle, encoder, key,
		orders, settlementStore,
		submission.Config{
			EscalationInterval: cfg.Submission.EscalationInterval,
			PollInterval:       cfg.Submission.PollInterval,
			MaxAttempts:        cfg.Submission.MaxAttempts,
			BumpPercent:        cfg.Submission.BumpPercent,
			GasPriceCeiling:    new(big.Int).Mul(big.NewInt(cfg.Submission.GasPriceCeilingGwei), gwei),
			GasLimitMargin:     cfg.Submission.GasLimitMargin,
		}, logger)
	if err != nil {
		return nil, err
	}

	server := api.NewServer(cfg.Server.ListenAddr, orders, metrics, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		pool:      pool,
		orders:    orders,
		builder:   builder,
		driver:    driver,
		submitter: submitter,
		server:    server,
	}, nil
}

// Run drives the app until ctx is cancelled, then shuts down cleanly.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("settler starting",
		zap.String("environment", a.cfg.App.Environment),
		zap.Duration("auction_interval", a.cfg.Auction.Interval),
		zap.Stringer("settler_account", a.submitter.From()),
	)
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.runAuctionLoop(gctx)
	})
	g.Go(func() error {
		return a.runMaintenanceLoop(gctx)
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		err = nil // clean shutdown
	}
	a.logger.Info("settler stopped")
	return err
}

// runAuctionLoop runs one solving round per tick. Rounds never overlap:
// the next tick is consumed only after the previous round fully settles
// or terminates.
func (a *App) runAuctionLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Auction.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.runRound(ctx); err != nil {
				// Round failures are logged and the loop continues;
				// open orders stay in the book for the next auction.
				a.logger.Error("auction round failed", zap.Error(err))
				a.metrics.RoundsTotal.WithLabelValues("error").Inc()
			}
		}
	}
}

// runRound builds one auction, runs the competition and, if a winner
// emerges, drives it on chain.
func (a *App) runRound(ctx context.Context) error {
	start := time.Now()

	auc, err := a.builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("build auction: %w", err)
	}
	a.metrics.AuctionsBuilt.Inc()
	a.metrics.AuctionOrders.Observe(float64(len(auc.Orders)))

	if len(auc.Orders) == 0 {
		a.metrics.RoundsTotal.WithLabelValues("empty").Inc()
		return nil
	}

	winner, err := a.driver.RunRound(ctx, auc)
	if err != nil {
		return fmt.Errorf("run competition: %w", err)
	}
	a.metrics.RoundDuration.Observe(time.Since(start).Seconds())

	if winner == nil {
		a.metrics.RoundsTotal.WithLabelValues("no_winner").Inc()
		return nil
	}

	a.metrics.CandidatesProduced.WithLabelValues(winner.Strategy).Inc()
	surplus, _ := new(big.Float).SetInt(winner.Surplus).Float64()
	a.metrics.WinnerSurplus.Set(surplus)

	sub, err := a.submitter.Submit(ctx, winner)
	if sub != nil {
		a.metrics.SubmissionsTotal.WithLabelValues(string(sub.State)).Inc()
		if n := len(sub.Attempts); n > 0 {
			if n > 1 {
				a.metrics.SubmissionRetries.Add(float64(n - 1))
			}
			price, _ := new(big.Float).Quo(
				new(big.Float).SetInt(sub.Attempts[n-1].GasPrice),
				big.NewFloat(1e9),
			).Float64()
			a.metrics.GasPriceGwei.Set(price)
		}
	}
	if err != nil {
		return fmt.Errorf("submit settlement: %w", err)
	}

	a.metrics.RoundsTotal.WithLabelValues("settled").Inc()
	return nil
}

// runMaintenanceLoop periodically closes expired orders.
func (a *App) runMaintenanceLoop(ctx context.Context) error {
	interval := a.cfg.OrderBook.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.orders.RunMaintenance(ctx)
			if err != nil {
				a.logger.Warn("expiry sweep failed", zap.Error(err))
				continue
			}
			a.metrics.OrdersExpired.Add(float64(n))
		}
	}
}

// buildSources constructs the configured liquidity sources: chain-backed
// pools snapshotted per auction plus remote quoters queried live.
func buildSources(cfg config.AuctionConfig, node chain.Node) []liquidity.Source {
	var sources []liquidity.Source
	for i, pc := range cfg.Pools {
		name := pc.Name
		if name == "" {
			name = fmt.Sprintf("pool-%d", i)
		}
		sources = append(sources, liquidity.NewChainPool(name, node, domain.PoolState{
			Address:        common.HexToAddress(pc.Address),
			TokenA:         common.HexToAddress(pc.TokenA),
			TokenB:         common.HexToAddress(pc.TokenB),
			FeeNumerator:   pc.FeeNumerator,
			FeeDenominator: pc.FeeDenominator,
		}))
	}
	for _, qc := range cfg.RemoteQuoters {
		var opts []liquidity.RemoteOption
		if qc.Timeout > 0 {
			opts = append(opts, liquidity.WithTimeout(qc.Timeout))
		}
		if qc.MaxRetries > 0 {
			opts = append(opts, liquidity.WithMaxRetries(qc.MaxRetries))
		}
		sources = append(sources, liquidity.NewRemoteQuoter(qc.Name, qc.URL, opts...))
	}
	return sources
}

// strategyConfigs converts configured strategies to solver configs.
func strategyConfigs(cfgs []config.StrategyConfig) []solver.Config {
	out := make([]solver.Config, 0, len(cfgs))
	for _, c := range cfgs {
		sc := solver.Config{Type: c.Type}
		for _, tok := range c.IntermediateTokens {
			sc.IntermediateTokens = append(sc.IntermediateTokens, common.HexToAddress(tok))
		}
		out = append(out, sc)
	}
	return out
}
