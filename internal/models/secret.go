package models

import "time"

// ContentType says which store holds a secret's payload.
type ContentType string

const (
	ContentText ContentType = "text"
	ContentFile ContentType = "file"
)

// Secret is the metadata record for one whisp. Fields are immutable after
// creation; a secret is never updated, only deleted on consumption or expiry.
type Secret struct {
	ID           string      `json:"id"`
	ContentType  ContentType `json:"content_type"`
	Payload      []byte      `json:"-"` // client-encrypted ciphertext (text secrets only)
	FileName     string      `json:"-"` // display name supplied by the client (file secrets only)
	FileKey      []byte      `json:"-"` // server-side encryption key, shares the record's lifetime
	PasswordHash string      `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// IsFile reports whether the payload lives in the blob store.
func (s *Secret) IsFile() bool {
	return s.ContentType == ContentFile
}

// Expired reports whether the secret is past its deadline at now.
func (s *Secret) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
