package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. It returns the first
// error reported by a background component, if any. Calling it again is a
// no-op.
func (a *App) Shutdown() error {
	var groupErr error

	a.once.Do(func() {
		a.logger.Info("application-shutting-down")

		a.healthChecker.SetReady(false)

		// Cancel context to signal all components
		a.cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		err := a.httpServer.Shutdown(shutdownCtx)
		if err != nil {
			a.logger.Error("http-server-shutdown-error", zap.Error(err))
		}

		if a.group != nil {
			groupErr = a.group.Wait()
		}

		// Producers stop before their consumers.
		a.closeComponent("arbitrage-detector", a.detector.Close)
		a.closeComponent("execution-controller", a.controller.Close)
		if a.paperExchange != nil {
			a.closeComponent("paper-exchange", a.paperExchange.Close)
		}
		a.closeComponent("risk-manager", a.riskManager.Close)
		a.closeComponent("websocket-manager", a.wsManager.Close)
		a.closeComponent("orderbook-store", a.books.Close)
		a.marketCache.Close()
		a.orderCache.Close()
		a.metadataCache.Close()
		a.closeComponent("storage", a.store.Close)

		a.logger.Info("application-shutdown-complete")
	})

	return groupErr
}

func (a *App) closeComponent(name string, closeFn func() error) {
	err := closeFn()
	if err != nil {
		a.logger.Error("component-close-error",
			zap.String("component", name),
			zap.Error(err))
	}
}
