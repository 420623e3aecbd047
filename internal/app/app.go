package app

import (
	"context"
	"sync"

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
	"github.com/mselser95/binary-arb/pkg/wallet"
	"github.com/mselser95/binary-arb/pkg/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App is the main application orchestrator.
type App struct {
	cfg              *config.Config
	logger           *zap.Logger
	opts             *Options
	healthChecker    *healthprobe.HealthChecker
	httpServer       *httpserver.Server
	store            storage.Store
	marketCache      cache.Cache
	orderCache       cache.Cache
	metadataCache    cache.Cache
	books            *orderbook.Store
	wsManager        *websocket.Manager
	discoveryService *discovery.Service
	clobClient       *clob.Client
	paperExchange    *paper.Exchange // nil in live mode
	alerts           *execution.AlertLog
	riskManager      *risk.Manager
	controller       *execution.Controller
	detector         *arbitrage.Detector
	dispatcher       *control.Dispatcher
	refresher        *BookRefresher
	walletMonitor    *wallet.Monitor // nil unless live with an RPC endpoint

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context
	once     sync.Once
}

// Options holds application options.
type Options struct {
	// SkipSignals disables SIGINT/SIGTERM handling; Run then returns only
	// when its context ends or a component fails.
	SkipSignals bool
}

// Controller exposes the execution controller.
func (a *App) Controller() *execution.Controller {
	return a.controller
}

// Dispatcher exposes the control command dispatcher.
func (a *App) Dispatcher() *control.Dispatcher {
	return a.dispatcher
}

// Store exposes the persistence gateway.
func (a *App) Store() storage.Store {
	return a.store
}
