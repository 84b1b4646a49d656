package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/streamregex/streamregex/internal/pkg/logger"
)

// SetupHandler cancels the provided context on SIGINT, SIGTERM or
// SIGHUP. The returned cleanup function detaches the handler.
func SetupHandler(ctx context.Context, cancel context.CancelFunc) (cleanup func()) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, initiating shutdown", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(sigCh)
	}
}
