package store

import (
	"context"
	"errors"
	"time"

	"whisp.share/internal/models"
)

var (
	// ErrNotFound covers missing, expired and already-consumed ids alike.
	// Callers must not be able to tell the three apart.
	ErrNotFound = errors.New("secret not found")

	// ErrDuplicateID is returned by Save on an id collision.
	ErrDuplicateID = errors.New("duplicate secret id")
)

// Store is the transactional record store for secret metadata.
//
// TryConsume is the burn-on-read primitive: lookup, expiry check and delete
// happen as one atomic step against the backing store, so that concurrent
// calls for the same id yield exactly one winner regardless of how many
// processes share the store.
type Store interface {
	Save(ctx context.Context, secret *models.Secret) error
	TryConsume(ctx context.Context, id string, now time.Time) (*models.Secret, error)
	DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error)
	ScanExpired(ctx context.Context, now time.Time) ([]string, error)
	Exists(ctx context.Context, id string) (bool, error)
	Close() error
}
