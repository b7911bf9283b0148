// Package blob stores ciphertext on volatile (RAM-backed) media only.
//
// Payloads are encrypted on the way in, chunk by chunk, so peak memory stays
// bounded no matter how large the upload is. On the way out the file is
// unlinked the moment it is opened: a client that disconnects mid-download
// cannot come back for the rest, and nothing survives the read.
package blob

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("blob not found")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrCorrupt         = errors.New("blob corrupt or truncated")
)

const (
	blobExt       = ".enc"
	chunkSize     = 64 * 1024
	nonceSize     = 12
	frameOverhead = 16 // GCM tag

	// High bit of a frame's length word marks the final frame. A blob always
	// ends with exactly one final frame, so truncation is detectable.
	finalFrameBit = 1 << 31
)

var blobMagic = [5]byte{'W', 'S', 'P', 'B', 1}

type Options struct {
	Dir string
	// MaxPayloadSize caps plaintext bytes per blob.
	MaxPayloadSize int64
	// RequireVolatile refuses to start unless Dir sits on tmpfs/ramfs.
	// Disable only for tests and local development.
	RequireVolatile bool
}

type Store struct {
	dir     string
	maxSize int64
}

func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("blob: storage dir is required")
	}
	if opts.MaxPayloadSize <= 0 {
		return nil, errors.New("blob: max payload size must be positive")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("blob: creating storage dir: %w", err)
	}
	if opts.RequireVolatile {
		if err := checkVolatile(opts.Dir); err != nil {
			return nil, err
		}
	}
	return &Store{dir: opts.Dir, maxSize: opts.MaxPayloadSize}, nil
}

func (s *Store) path(id string) string {
	// Ids are generated base64url strings, but never trust them as paths.
	return filepath.Join(s.dir, filepath.Base(id)+blobExt)
}

// OpenWrite creates the blob for id and returns a Writer that encrypts with
// key as bytes arrive. The caller must Close on success or Abort on any
// failure; Abort removes the partial file.
func (s *Store) OpenWrite(id string, key []byte) (*Writer, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	base := make([]byte, nonceSize)
	if _, err := rand.Read(base); err != nil {
		return nil, fmt.Errorf("blob: nonce generation failed: %w", err)
	}

	f, err := os.OpenFile(s.path(id), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blob: %w", err)
	}

	header := append(append([]byte{}, blobMagic[:]...), base...)
	if _, err := f.Write(header); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("blob: %w", err)
	}

	return &Writer{
		f:         f,
		aead:      aead,
		baseNonce: base,
		buf:       make([]byte, 0, chunkSize),
		remaining: s.maxSize,
	}, nil
}

// Writer encrypts and writes one blob. Not safe for concurrent use.
type Writer struct {
	f         *os.File
	aead      cipher.AEAD
	baseNonce []byte
	buf       []byte
	counter   uint64
	remaining int64
	done      bool
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("blob: write after close")
	}
	if int64(len(p)) > w.remaining {
		return 0, ErrPayloadTooLarge
	}
	w.remaining -= int64(len(p))

	written := len(p)
	for len(p) > 0 {
		n := chunkSize - len(w.buf)
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]

		if len(w.buf) == chunkSize {
			if err := w.flush(false); err != nil {
				return 0, err
			}
		}
	}
	return written, nil
}

// Close seals the final frame and commits the blob.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	// The final frame may be empty; it still carries the end-of-blob tag.
	if err := w.flush(true); err != nil {
		w.f.Close()
		os.Remove(w.f.Name())
		return err
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return fmt.Errorf("blob: %w", err)
	}
	return nil
}

// Abort discards everything written so far.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return os.Remove(w.f.Name())
}

func (w *Writer) flush(final bool) error {
	sealed := w.aead.Seal(nil, frameNonce(w.baseNonce, w.counter), w.buf, frameAAD(w.counter, final))
	w.counter++
	w.buf = w.buf[:0]

	length := uint32(len(sealed))
	if final {
		length |= finalFrameBit
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], length)

	if _, err := w.f.Write(hdr[:]); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	if _, err := w.f.Write(sealed); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	return nil
}

// OpenReadAndDelete opens the blob for id, unlinks it immediately and returns
// a reader that decrypts chunk by chunk. The ciphertext is unrecoverable once
// this returns, whether or not the stream is fully drained.
func (s *Store) OpenReadAndDelete(id string, key []byte) (io.ReadCloser, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: %w", err)
	}

	// Unlink before the first byte is served. The open descriptor keeps the
	// data readable for this one stream only.
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, fmt.Errorf("blob: %w", err)
	}

	header := make([]byte, len(blobMagic)+nonceSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, ErrCorrupt
	}
	if [5]byte(header[:len(blobMagic)]) != blobMagic {
		f.Close()
		return nil, ErrCorrupt
	}

	return &reader{
		f:         f,
		aead:      aead,
		baseNonce: header[len(blobMagic):],
	}, nil
}

type reader struct {
	f         *os.File
	aead      cipher.AEAD
	baseNonce []byte
	counter   uint64
	plain     []byte
	sawFinal  bool
	err       error
}

func (r *reader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 && r.err == nil {
		r.err = r.nextFrame()
	}
	if len(r.plain) == 0 {
		return 0, r.err
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *reader) nextFrame() error {
	if r.sawFinal {
		return io.EOF
	}

	var hdr [4]byte
	if _, err := io.ReadFull(r.f, hdr[:]); err != nil {
		// A blob must end with its final frame, not with EOF.
		return ErrCorrupt
	}
	length := binary.BigEndian.Uint32(hdr[:])
	final := length&finalFrameBit != 0
	length &^= finalFrameBit

	if length > chunkSize+frameOverhead {
		return ErrCorrupt
	}
	sealed := make([]byte, length)
	if _, err := io.ReadFull(r.f, sealed); err != nil {
		return ErrCorrupt
	}

	plain, err := r.aead.Open(nil, frameNonce(r.baseNonce, r.counter), sealed, frameAAD(r.counter, final))
	if err != nil {
		return ErrCorrupt
	}
	r.counter++
	r.plain = plain
	r.sawFinal = final
	return nil
}

func (r *reader) Close() error {
	return r.f.Close()
}

// Rename moves a blob to a new id. Used when a record insert collides and
// creation retries under a fresh id; the upload stream cannot be replayed.
func (s *Store) Rename(oldID, newID string) error {
	if err := os.Rename(s.path(oldID), s.path(newID)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("blob: %w", err)
	}
	return nil
}

// Delete removes the blob for id. Used by the sweeper; losing a race with a
// concurrent consume surfaces as ErrNotFound.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("blob: %w", err)
	}
	return nil
}

// List returns ids of blobs last modified before olderThan. The sweeper uses
// it to reconcile orphans left behind by a crash between blob and record
// writes.
func (s *Store) List(olderThan time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("blob: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, blobExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed concurrently
		}
		if info.ModTime().Before(olderThan) {
			ids = append(ids, strings.TrimSuffix(name, blobExt))
		}
	}
	return ids, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("blob: cipher creation failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("blob: GCM creation failed: %w", err)
	}
	return aead, nil
}

// frameNonce derives the per-frame nonce from the blob's random base nonce
// and the frame counter, so nonces never repeat under one key.
func frameNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, nonceSize)
	copy(nonce, base)
	for i := 0; i < 8; i++ {
		nonce[nonceSize-1-i] ^= byte(counter >> (8 * i))
	}
	return nonce
}

// frameAAD binds each frame to its position and to end-of-blob, defeating
// reordering and truncation.
func frameAAD(counter uint64, final bool) []byte {
	aad := make([]byte, 9)
	binary.BigEndian.PutUint64(aad, counter)
	if final {
		aad[8] = 1
	}
	return aad
}
