package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"whisp.share/internal/models"
)

func newSecret(id string, expiresAt time.Time) *models.Secret {
	return &models.Secret{
		ID:          id,
		ContentType: models.ContentText,
		Payload:     []byte("ciphertext"),
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
}

func TestMemoryStoreSaveAndConsume(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.Save(ctx, newSecret("abc", now.Add(time.Hour))))

	got, err := s.TryConsume(ctx, "abc", now)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, []byte("ciphertext"), got.Payload)

	// Burned: a second consume must not find it.
	_, err = s.TryConsume(ctx, "abc", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.Save(ctx, newSecret("abc", now.Add(time.Hour))))
	assert.ErrorIs(t, s.Save(ctx, newSecret("abc", now.Add(time.Hour))), ErrDuplicateID)
}

func TestMemoryStoreExpiredIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.Save(ctx, newSecret("old", now.Add(time.Minute))))

	// Past the deadline the record must read as gone even though no sweep
	// has run yet.
	_, err := s.TryConsume(ctx, "old", now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)

	// And the attempt removed it for good.
	ok, err := s.Exists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreConcurrentConsumeSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.Save(ctx, newSecret("contested", now.Add(time.Hour))))

	const n = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.TryConsume(ctx, "contested", now); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrNotFound)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStoreDeleteIfExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.Save(ctx, newSecret("live", now.Add(time.Hour))))
	require.NoError(t, s.Save(ctx, newSecret("dead", now.Add(-time.Hour))))

	deleted, err := s.DeleteIfExpired(ctx, "live", now)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeleteIfExpired(ctx, "dead", now)
	require.NoError(t, err)
	assert.True(t, deleted)

	// Repeat on a missing id is a benign no-op.
	deleted, err = s.DeleteIfExpired(ctx, "dead", now)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStoreScanExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.Save(ctx, newSecret("live", now.Add(time.Hour))))
	require.NoError(t, s.Save(ctx, newSecret("dead1", now.Add(-time.Minute))))
	require.NoError(t, s.Save(ctx, newSecret("dead2", now.Add(-time.Hour))))

	ids, err := s.ScanExpired(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dead1", "dead2"}, ids)
}
