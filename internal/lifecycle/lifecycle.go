// Package lifecycle orchestrates secret creation, consumption and expiry.
// It is the only component that touches the record store and the blob store
// together; all cross-request coordination lives in the stores' atomic
// primitives, never in process-local locks.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"whisp.share/internal/blob"
	"whisp.share/internal/crypto"
	"whisp.share/internal/models"
	"whisp.share/internal/store"
)

var (
	// ErrNotFound is the uniform denial for missing, expired and already
	// consumed ids; the caller cannot tell which it was.
	ErrNotFound = store.ErrNotFound

	// ErrAccessDenied reports a failed password check. The secret is burned
	// regardless; one wrong guess destroys it.
	ErrAccessDenied = errors.New("access denied")

	ErrPayloadTooLarge = blob.ErrPayloadTooLarge
	ErrInvalidTTL      = errors.New("ttl out of bounds")
)

type Config struct {
	MinTTL         time.Duration
	MaxTTL         time.Duration
	MaxPayloadSize int64
	// OrphanGrace is how long a blob without a record may linger before the
	// sweeper reclaims it. Covers a crash between blob and record writes.
	OrphanGrace time.Duration
}

type Manager struct {
	cfg     Config
	records store.Store
	blobs   *blob.Store
	argon   crypto.ArgonParams
	logger  *zap.Logger
	now     func() time.Time
}

func NewManager(cfg Config, records store.Store, blobs *blob.Store, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		records: records,
		blobs:   blobs,
		argon:   crypto.DefaultArgon,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the manager's time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

type CreateRequest struct {
	ContentType models.ContentType
	// Payload is the client-encrypted ciphertext for text secrets. The
	// server never sees the plaintext or the key.
	Payload []byte
	// FileName and Body describe a file secret. Body is raw plaintext that
	// gets encrypted in-flight with a key that lives only in the record.
	FileName string
	Body     io.Reader
	TTL      time.Duration
	Password string
}

type Created struct {
	ID        string
	ExpiresAt time.Time
}

// Create validates the request, writes the blob (files only) and then the
// record. Blob before record: a crash in between leaves an orphaned blob the
// sweeper can reclaim, never a record pointing at nothing.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	if req.TTL < m.cfg.MinTTL || req.TTL > m.cfg.MaxTTL {
		return nil, ErrInvalidTTL
	}
	if req.ContentType == models.ContentText && int64(len(req.Payload)) > m.cfg.MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	var passwordHash string
	if req.Password != "" {
		hash, err := crypto.HashPassword(m.argon, req.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		passwordHash = hash
	}

	now := m.now()
	id := crypto.GenerateID()

	secret := &models.Secret{
		ID:           id,
		ContentType:  req.ContentType,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		ExpiresAt:    now.Add(req.TTL),
	}

	if req.ContentType == models.ContentFile {
		secret.FileName = req.FileName
		secret.FileKey = crypto.GenerateFileKey()
		if err := m.writeBlob(id, secret.FileKey, req.Body); err != nil {
			return nil, err
		}
	} else {
		secret.Payload = req.Payload
	}

	if err := m.records.Save(ctx, secret); err != nil {
		if !errors.Is(err, store.ErrDuplicateID) {
			m.discardBlob(secret)
			return nil, fmt.Errorf("saving record: %w", err)
		}

		// Id collision. One retry with a fresh id, then give up.
		fresh := crypto.GenerateID()
		if secret.IsFile() {
			if err := m.blobs.Rename(id, fresh); err != nil {
				return nil, fmt.Errorf("relocating blob after id collision: %w", err)
			}
		}
		secret.ID = fresh
		if err := m.records.Save(ctx, secret); err != nil {
			m.discardBlob(secret)
			return nil, fmt.Errorf("saving record after id collision retry: %w", err)
		}
	}

	return &Created{ID: secret.ID, ExpiresAt: secret.ExpiresAt}, nil
}

func (m *Manager) writeBlob(id string, key []byte, body io.Reader) error {
	if body == nil {
		return errors.New("file secret without a body")
	}
	w, err := m.blobs.OpenWrite(id, key)
	if err != nil {
		return fmt.Errorf("opening blob: %w", err)
	}
	if _, err := io.Copy(w, body); err != nil {
		w.Abort()
		if errors.Is(err, blob.ErrPayloadTooLarge) {
			return ErrPayloadTooLarge
		}
		return fmt.Errorf("writing blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("committing blob: %w", err)
	}
	return nil
}

func (m *Manager) discardBlob(secret *models.Secret) {
	if !secret.IsFile() {
		return
	}
	if err := m.blobs.Delete(secret.ID); err != nil && !errors.Is(err, blob.ErrNotFound) {
		m.logger.Warn("discarding blob failed", zap.String("id", secret.ID), zap.Error(err))
	}
}

type Consumed struct {
	ContentType models.ContentType
	// Payload holds the client-encrypted ciphertext for text secrets.
	Payload []byte
	// FileName and Body carry a file secret. The caller must drain and
	// Close Body; the underlying storage is already unlinked.
	FileName string
	Body     io.ReadCloser
}

// Consume burns the secret and returns its content. The record store's
// atomic try-consume decides the single winner under concurrency; everything
// after it operates on a record nobody else can reach.
func (m *Manager) Consume(ctx context.Context, id, password string) (*Consumed, error) {
	secret, err := m.records.TryConsume(ctx, id, m.now())
	if err != nil {
		return nil, err
	}

	if secret.PasswordHash != "" {
		ok, err := crypto.VerifyPassword(password, secret.PasswordHash)
		if err != nil || !ok {
			// The record is already gone and stays gone: a wrong guess may
			// not be retried against the same link. Drop the blob too.
			m.discardBlob(secret)
			return nil, ErrAccessDenied
		}
	}

	if !secret.IsFile() {
		return &Consumed{ContentType: models.ContentText, Payload: secret.Payload}, nil
	}

	body, err := m.blobs.OpenReadAndDelete(secret.ID, secret.FileKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			// Volatile storage lost the ciphertext (restart, orphan reclaim).
			// Indistinguishable from a consumed secret, on purpose.
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening blob: %w", err)
	}

	return &Consumed{ContentType: models.ContentFile, FileName: secret.FileName, Body: body}, nil
}

// SweepOnce removes expired records with their blobs, then reclaims orphaned
// blobs past the grace period. Running it twice back to back is a no-op the
// second time; racing a concurrent consume is benign.
func (m *Manager) SweepOnce(ctx context.Context, now time.Time) (removed int, err error) {
	ids, err := m.records.ScanExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("scanning expired records: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		deleted, err := m.records.DeleteIfExpired(ctx, id, now)
		if err != nil {
			m.logger.Warn("deleting expired record failed", zap.String("id", id), zap.Error(err))
			continue
		}
		if err := m.blobs.Delete(id); err != nil && !errors.Is(err, blob.ErrNotFound) {
			m.logger.Warn("deleting expired blob failed", zap.String("id", id), zap.Error(err))
		}
		if deleted {
			removed++
		}
	}

	orphans, err := m.blobs.List(now.Add(-m.cfg.OrphanGrace))
	if err != nil {
		return removed, fmt.Errorf("listing blobs: %w", err)
	}
	for _, id := range orphans {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		exists, err := m.records.Exists(ctx, id)
		if err != nil {
			m.logger.Warn("checking record for blob failed", zap.String("id", id), zap.Error(err))
			continue
		}
		if exists {
			continue
		}
		switch err := m.blobs.Delete(id); {
		case errors.Is(err, blob.ErrNotFound):
			// already gone, fine
		case err != nil:
			m.logger.Warn("reclaiming orphaned blob failed", zap.String("id", id), zap.Error(err))
		default:
			removed++
		}
	}

	return removed, nil
}
