package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run starts the application and blocks until ctx is canceled, a shutdown
// signal arrives or a background component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application-starting",
		zap.String("execution-mode", a.cfg.ExecutionMode),
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.Float64("arb-min-edge", a.cfg.ArbMinEdge),
		zap.String("log-level", a.cfg.LogLevel))

	a.group, a.groupCtx = errgroup.WithContext(a.ctx)

	err := a.startComponents()
	if err != nil {
		_ = a.Shutdown()
		return err
	}

	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.String("ws-url", a.cfg.PolymarketWSURL),
		zap.Bool("paused", a.controller.IsPaused()))

	return a.waitForShutdown(ctx)
}

func (a *App) startComponents() error {
	a.group.Go(a.httpServer.Start)

	err := a.books.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start orderbook store: %w", err)
	}

	err = a.wsManager.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start websocket manager: %w", err)
	}

	// Markets known from a previous run are registered before recovery so
	// resumed cycles can price remediations.
	err = a.restoreMarkets()
	if err != nil {
		return fmt.Errorf("restore markets: %w", err)
	}

	err = a.riskManager.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start risk manager: %w", err)
	}

	if a.paperExchange != nil {
		err = a.paperExchange.Start(a.ctx)
		if err != nil {
			return fmt.Errorf("start paper exchange: %w", err)
		}
		a.group.Go(a.forwardPaperEvents)
	}

	err = a.controller.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start execution controller: %w", err)
	}

	resumed, err := a.controller.Recover(a.ctx)
	if err != nil {
		return fmt.Errorf("recover cycles: %w", err)
	}
	if resumed > 0 {
		a.logger.Info("cycles-resumed", zap.Int("count", resumed))
	}

	err = a.detector.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start arbitrage detector: %w", err)
	}

	a.group.Go(a.runDiscoveryService)
	a.group.Go(func() error { return a.refresher.Run(a.groupCtx) })
	if a.walletMonitor != nil {
		a.group.Go(func() error { return a.walletMonitor.Run(a.groupCtx) })
	}

	return nil
}

func (a *App) restoreMarkets() error {
	markets, err := a.store.LoadMarkets(a.ctx)
	if err != nil {
		return err
	}
	for _, m := range markets {
		if _, err = a.discoveryService.Track(a.ctx, m); err != nil {
			a.logger.Warn("restore-market-failed", zap.String("market-id", m.ID), zap.Error(err))
		}
	}
	if len(markets) > 0 {
		a.logger.Info("markets-restored", zap.Int("count", len(markets)))
	}
	return nil
}

func (a *App) runDiscoveryService() error {
	err := a.discoveryService.Run(a.groupCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("discovery service: %w", err)
	}
	return nil
}

// forwardPaperEvents feeds simulated order events into the controller.
func (a *App) forwardPaperEvents() error {
	events := a.paperExchange.Events()
	for {
		select {
		case <-a.groupCtx.Done():
			return nil
		case ev := <-events:
			a.controller.HandleOrderEvent(ev)
		}
	}
}

func (a *App) waitForShutdown(ctx context.Context) error {
	var sigChan chan os.Signal
	if !a.opts.SkipSignals {
		sigChan = make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
	}

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("context-cancelled")
	case <-a.groupCtx.Done():
		a.logger.Error("component-failed")
	}

	return a.Shutdown()
}
