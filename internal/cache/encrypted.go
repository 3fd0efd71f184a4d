package cache

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aiproxy-go/internal/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrMiss is returned for absent, expired, corrupt or undecryptable entries.
var ErrMiss = errors.New("cache: miss")

type envelope struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// Encrypted seals values with XChaCha20-Poly1305 before handing them to the
// backend. The AEAD key is SHA-256 of the caller-supplied encryption key, so
// the storage key alone never allows decryption.
type Encrypted struct {
	backend storage.Backend
}

// NewEncrypted wraps a backend.
func NewEncrypted(backend storage.Backend) *Encrypted {
	return &Encrypted{backend: backend}
}

// Get loads and decrypts the value stored under key.
func (e *Encrypted) Get(ctx context.Context, encryptionKey, key string) ([]byte, error) {
	raw, err := e.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.WithError(err).WithField("key", key).Warn("cache backend read failed")
		}
		return nil, ErrMiss
	}
	plain, err := open(encryptionKey, raw)
	if err != nil {
		log.WithField("key", key).Debug("cache entry could not be decrypted")
		return nil, ErrMiss
	}
	return plain, nil
}

// Put encrypts value and stores it under key for ttl.
func (e *Encrypted) Put(ctx context.Context, encryptionKey, key string, value []byte, ttl time.Duration) error {
	sealed, err := seal(encryptionKey, value)
	if err != nil {
		return err
	}
	return e.backend.Set(ctx, key, sealed, ttl)
}

func aead(encryptionKey string) (cipher.AEAD, error) {
	k := sha256.Sum256([]byte(encryptionKey))
	return chacha20poly1305.NewX(k[:])
}

func seal(encryptionKey string, plain []byte) ([]byte, error) {
	a, err := aead(encryptionKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, a.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ct := a.Seal(nil, nonce, plain, nil)
	return json.Marshal(envelope{
		IV:   base64.StdEncoding.EncodeToString(nonce),
		Data: base64.StdEncoding.EncodeToString(ct),
	})
}

func open(encryptionKey string, raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, err
	}
	a, err := aead(encryptionKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != a.NonceSize() {
		return nil, errors.New("bad nonce size")
	}
	return a.Open(nil, nonce, ct, nil)
}
