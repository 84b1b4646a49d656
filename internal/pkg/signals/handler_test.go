package signals

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetupHandler_CancelsOnSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cleanup := SetupHandler(ctx, cancel)
	defer cleanup()

	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled after signal")
	}
}

func TestSetupHandler_CleanupDetaches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cleanup := SetupHandler(ctx, cancel)
	cleanup()
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not done after cancel")
	}
}
