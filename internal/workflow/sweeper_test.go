// internal/workflow/sweeper_test.go
package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/models"
)

type countingEvictor struct {
	calls int
}

func (c *countingEvictor) EvictExpired(_ context.Context, _ time.Time) (int, error) {
	c.calls++
	return 3, nil
}

func TestSweepExpiresLapsedPayments(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	app, err := engine.Create(ctx, testDraft())
	require.NoError(t, err)
	advance(t, engine, app.ID, models.StatusPayment1Pending)

	payment, err := engine.InitiatePayment(ctx, app.ID)
	require.NoError(t, err)

	evictor := &countingEvictor{}
	sweeper := NewSweeper(engine, store, evictor, time.Minute, logger.NewTestLogger(t))
	sweeper.now = func() time.Time { return payment.ExpiresAt.Add(time.Minute) }

	sweeper.Sweep(ctx)

	got, err := store.PaymentByTransaction(ctx, payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentExpired, got.Status)

	app, err = store.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseExpired, app.Phase1Status)
	assert.Equal(t, 1, evictor.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	engine, store := newTestEngine(t)
	sweeper := NewSweeper(engine, store, nil, 10*time.Millisecond, logger.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
