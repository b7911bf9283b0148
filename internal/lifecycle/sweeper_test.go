package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"whisp.share/internal/blob"
	"whisp.share/internal/models"
	"whisp.share/internal/store"
)

func TestSweeperRunRemovesExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := store.NewMemoryStore()
	blobs, err := blob.New(blob.Options{
		Dir:             t.TempDir(),
		MaxPayloadSize:  1 << 20,
		RequireVolatile: false,
	})
	require.NoError(t, err)

	m := NewManager(Config{
		MinTTL:         time.Minute,
		MaxTTL:         time.Hour,
		MaxPayloadSize: 1 << 20,
		OrphanGrace:    time.Hour,
	}, records, blobs, zap.NewNop())

	require.NoError(t, records.Save(ctx, &models.Secret{
		ID:          "stale",
		ContentType: models.ContentText,
		Payload:     []byte("x"),
		CreatedAt:   time.Now().Add(-2 * time.Hour),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSweeper(m, 10*time.Millisecond, zap.NewNop()).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		ok, err := records.Exists(ctx, "stale")
		return err == nil && !ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancellation")
	}
}
