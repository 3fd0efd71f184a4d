package credential

import (
	"context"
	"encoding/json"
	"time"

	"aiproxy-go/internal/cache"
	log "github.com/sirupsen/logrus"
)

const secretsCachePrefix = "aiproxy/secrets/"

// CachedSource memoizes lookups in the encrypted cache. Entries are sealed
// under the caller token so a shared backend never exposes secrets.
type CachedSource struct {
	next  Source
	cache *cache.Encrypted
	ttl   time.Duration
}

// NewCachedSource wraps next.
func NewCachedSource(next Source, c *cache.Encrypted, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, cache: c, ttl: ttl}
}

func (s *CachedSource) GetSecrets(ctx context.Context, q Lookup) ([]APISecret, error) {
	if !q.UseCache || s.cache == nil || s.ttl <= 0 {
		return s.next.GetSecrets(ctx, q)
	}
	key := secretsCachePrefix + cache.Digest(q.AuthToken+"\x00"+q.Model+"\x00"+q.OrgName+"\x00"+q.ProjectID)
	if raw, err := s.cache.Get(ctx, q.AuthToken, key); err == nil {
		var cached []APISecret
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}
	secrets, err := s.next.GetSecrets(ctx, q)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(secrets); err == nil {
		if err := s.cache.Put(ctx, q.AuthToken, key, raw, s.ttl); err != nil {
			log.WithError(err).Debug("secret cache write failed")
		}
	}
	return secrets, nil
}
