package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/binary-arb/internal/arbitrage"
	"github.com/mselser95/binary-arb/internal/clob"
	"github.com/mselser95/binary-arb/internal/control"
	"github.com/mselser95/binary-arb/internal/discovery"
	"github.com/mselser95/binary-arb/internal/execution"
	"github.com/mselser95/binary-arb/internal/orderbook"
	"github.com/mselser95/binary-arb/internal/paper"
	"github.com/mselser95/binary-arb/internal/risk"
	"github.com/mselser95/binary-arb/internal/storage"
	"github.com/mselser95/binary-arb/pkg/cache"
	"github.com/mselser95/binary-arb/pkg/config"
	"github.com/mselser95/binary-arb/pkg/healthprobe"
	"github.com/mselser95/binary-arb/pkg/httpserver"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/mselser95/binary-arb/pkg/wallet"
	"github.com/mselser95/binary-arb/pkg/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// New builds every component. Nothing runs until Run is called.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:           cfg,
		logger:        logger,
		opts:          opts,
		healthChecker: healthprobe.New(),
		ctx:           ctx,
		cancel:        cancel,
	}

	err := a.setup()
	if err != nil {
		cancel()
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}

	return a, nil
}

func (a *App) setup() error {
	var err error

	a.store, err = setupStorage(a.ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	a.marketCache, err = setupCache("markets", 10000, 1000, a.logger)
	if err != nil {
		return fmt.Errorf("setup market cache: %w", err)
	}
	a.orderCache, err = setupCache("submitted-orders", 100000, 10000, a.logger)
	if err != nil {
		return fmt.Errorf("setup order cache: %w", err)
	}
	a.metadataCache, err = setupCache("token-metadata", 100000, 10000, a.logger)
	if err != nil {
		return fmt.Errorf("setup metadata cache: %w", err)
	}

	a.wsManager = setupWebSocketManager(a.cfg, a.logger)
	a.books = orderbook.New(&orderbook.Config{
		Logger:         a.logger,
		MessageChannel: a.wsManager.MessageChan(),
		Staleness:      a.cfg.BookStaleness,

		OnTickSizeChange: func(tokenID string, tickSize float64) {
			a.clobClient.UpdateTickSize(tokenID, tickSize)
		},
	})

	a.discoveryService, err = discovery.New(&discovery.Config{
		Client:       discovery.NewClient(a.cfg.PolymarketGammaURL, a.logger),
		Cache:        a.marketCache,
		CacheTTL:     a.cfg.DiscoveryCacheTTL,
		PollInterval: a.cfg.DiscoveryPollInterval,
		MarketLimit:  a.cfg.DiscoveryMarketLimit,
		Registry:     a.books,
		Store:        a.store,
		Feed:         a.wsManager,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("setup discovery service: %w", err)
	}

	a.clobClient, err = clob.New(&clob.Config{
		BaseURL:       a.cfg.PolymarketCLOBURL,
		APIKey:        a.cfg.PolymarketAPIKey,
		Secret:        a.cfg.PolymarketSecret,
		Passphrase:    a.cfg.PolymarketPassphrase,
		PrivateKey:    a.cfg.PolymarketPrivateKey,
		ProxyAddress:  a.cfg.PolymarketProxyAddress,
		SignatureType: a.cfg.PolymarketSignatureType,
		RateLimit:     a.cfg.CLOBRateLimit,
		Burst:         a.cfg.CLOBBurst,
		Submitted:     a.orderCache,
		Metadata:      a.metadataCache,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("setup clob client: %w", err)
	}

	var orders execution.OrderClient = a.clobClient
	if a.cfg.ExecutionMode != config.ExecutionModeLive {
		a.paperExchange, err = paper.New(&paper.Config{
			MatchInterval: a.cfg.PaperMatchInterval,
			Logger:        a.logger,
		}, a.books)
		if err != nil {
			return fmt.Errorf("setup paper exchange: %w", err)
		}
		orders = a.paperExchange
	}

	a.alerts = execution.NewAlertLog(100, a.logger)

	a.riskManager, err = setupRiskManager(a.ctx, a.cfg, a.logger, a.store, a.alerts)
	if err != nil {
		return fmt.Errorf("setup risk manager: %w", err)
	}

	a.detector, err = arbitrage.New(arbitrage.Config{
		MinEdge:      a.cfg.ArbMinEdge,
		OrderSize:    a.cfg.ArbOrderSize,
		MaxOrderSize: a.cfg.ArbMaxOrderSize,
		MinLiquidity: a.cfg.ArbMinLiquidity,
		Mode:         a.cfg.ArbScanMode,
		ScanInterval: a.cfg.ArbScanInterval,
		Logger:       a.logger,
	}, a.books, nil)
	if err != nil {
		return fmt.Errorf("setup arbitrage detector: %w", err)
	}

	a.controller, err = execution.New(execution.Config{
		MinEdge:             a.cfg.ArbMinEdge,
		TakerFeeRate:        a.cfg.ExecTakerFee,
		FillTimeout:         a.cfg.ExecFillTimeout,
		PollInitial:         a.cfg.ExecPollInitial,
		PollMax:             a.cfg.ExecPollMax,
		PollMultiplier:      a.cfg.ExecPollMultiplier,
		SubmitAttempts:      a.cfg.ExecSubmitAttempts,
		SubmitBackoff:       a.cfg.ExecRetryBackoff,
		RemediationTimeout:  a.cfg.ExecRemediationTimeout,
		RemediationAttempts: a.cfg.ExecRemediationRetries,
		StartPaused:         a.cfg.StartPaused,
		CandidateChannel:    a.detector.Candidates(),
		Alerter:             a.alerts,
		Logger:              a.logger,
	}, orders, a.riskManager, a.books, a.store)
	if err != nil {
		return fmt.Errorf("setup execution controller: %w", err)
	}
	a.detector.SetTracker(a.controller)

	a.dispatcher, err = control.NewDispatcher(&control.Config{
		Executor: a.controller,
		Risk:     a.riskManager,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("setup control dispatcher: %w", err)
	}

	a.refresher = NewBookRefresher(a.books, a.clobClient, a.cfg.BookRefreshInterval, a.logger)

	a.healthChecker.Register("market-feed", a.wsManager.Check)
	if err = a.setupWalletMonitor(); err != nil {
		return fmt.Errorf("setup wallet monitor: %w", err)
	}

	a.httpServer = httpserver.New(&httpserver.Config{
		Port:          a.cfg.HTTPPort,
		Logger:        a.logger,
		HealthChecker: a.healthChecker,
		Control:       a.dispatcher,
		Books:         a.books,
		Cycles:        a.store,
	})

	return nil
}

// setupWalletMonitor gates readiness on funded collateral in live mode
// when a Polygon RPC endpoint is configured.
func (a *App) setupWalletMonitor() error {
	if a.cfg.ExecutionMode != config.ExecutionModeLive || a.cfg.PolygonRPCURL == "" {
		return nil
	}

	client, err := wallet.NewClient(a.cfg.PolygonRPCURL, a.logger)
	if err != nil {
		return err
	}

	funder := a.clobClient.Address()
	if a.cfg.PolymarketProxyAddress != "" {
		funder = a.cfg.PolymarketProxyAddress
	}

	a.walletMonitor, err = wallet.New(&wallet.Config{
		Source:       client,
		Address:      common.HexToAddress(funder),
		MinUSDC:      decimal.NewFromFloat(a.cfg.WalletMinUSDC),
		PollInterval: a.cfg.WalletPollInterval,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	a.healthChecker.Register("wallet", a.walletMonitor.Check)
	return nil
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	var store storage.Store

	switch cfg.StorageMode {
	case config.StorageModePostgres:
		pg, err := storage.NewPostgresStorage(ctx, &storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		store = pg
	case config.StorageModeSQLite:
		lite, err := storage.NewSQLiteStorage(ctx, &storage.SQLiteConfig{
			Path:   cfg.SQLitePath,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create sqlite storage: %w", err)
		}
		store = lite
	default:
		store = storage.NewMemoryStorage(logger)
	}

	logger.Info("storage-initialized", zap.String("mode", cfg.StorageMode))
	return storage.NewRetrying(store, cfg.StorageWriteAttempts, cfg.StorageRetryBackoff, logger), nil
}

func setupCache(name string, counters, maxCost int64, logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        name,
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: 64,
		Logger:      logger,
	})
}

func setupWebSocketManager(cfg *config.Config, logger *zap.Logger) *websocket.Manager {
	return websocket.New(websocket.Config{
		URL:                   cfg.PolymarketWSURL,
		DialTimeout:           cfg.WSDialTimeout,
		PongTimeout:           cfg.WSPongTimeout,
		PingInterval:          cfg.WSPingInterval,
		ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		MessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                logger,
	})
}

// setupRiskManager restores the ledger and breaker persisted by a previous
// run, if any.
func setupRiskManager(ctx context.Context, cfg *config.Config, logger *zap.Logger, store storage.Store, alerts types.Alerter) (*risk.Manager, error) {
	ledger, err := store.LoadLedger(ctx)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	breaker, err := store.LoadBreaker(ctx)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("load breaker: %w", err)
	}
	if ledger != nil || breaker != nil {
		logger.Info("risk-state-restored",
			zap.Bool("ledger", ledger != nil),
			zap.Bool("breaker", breaker != nil))
	}

	return risk.New(risk.Config{
		MaxExposure:          cfg.RiskMaxExposure,
		MaxMarketExposure:    cfg.RiskMaxMarketExposure,
		MaxOpenCycles:        cfg.RiskMaxOpenCycles,
		MaxDailyLoss:         cfg.RiskMaxDailyLoss,
		MaxConsecutiveLosses: cfg.RiskMaxConsecutiveLosses,
		Cooldown:             cfg.RiskCooldown,
		DayBoundaryCron:      cfg.RiskDayBoundaryCron,
		Store:                store,
		Alerter:              alerts,
		InitialLedger:        ledger,
		InitialBreaker:       breaker,
		Logger:               logger,
	})
}
