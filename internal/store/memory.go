package store

import (
	"context"
	"sync"
	"time"

	"whisp.share/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	secrets map[string]*models.Secret
	mu      sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]*models.Secret),
	}
}

func (s *MemoryStore) Save(ctx context.Context, secret *models.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[secret.ID]; ok {
		return ErrDuplicateID
	}
	s.secrets[secret.ID] = secret
	return nil
}

// TryConsume removes and returns the record in one critical section. An
// expired record is treated as absent even before the sweeper has run; it is
// removed on the way out.
func (s *MemoryStore) TryConsume(ctx context.Context, id string, now time.Time) (*models.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.secrets, id)

	if secret.Expired(now) {
		return nil, ErrNotFound
	}
	return secret, nil
}

func (s *MemoryStore) DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok || !secret.Expired(now) {
		return false, nil
	}
	delete(s.secrets, id)
	return true, nil
}

func (s *MemoryStore) ScanExpired(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, secret := range s.secrets {
		if secret.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.secrets[id]
	return ok, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets = nil
	return nil
}
