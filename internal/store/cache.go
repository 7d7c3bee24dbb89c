package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/PratikDhanave/conversions-gateway/internal/metrics"
	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

// CachedIdentities is a read-through Redis cache in front of an
// IdentityResolver. Only found bindings are cached; unknown tokens always go
// to the underlying store so a newly registered token works right away.
// Redis failures fall through to the store.
//
// Credentials are never written to Redis. The shared entry carries a
// fingerprint, and the credential itself is held in process memory; a hit
// whose fingerprint does not match the local copy reloads from the store.
type CachedIdentities struct {
	next   IdentityResolver
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu          sync.RWMutex
	credentials map[string]string
}

type cachedBinding struct {
	IdentityToken string    `json:"identityToken"`
	Label         string    `json:"label"`
	CreatedAt     time.Time `json:"createdAt"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
}

// NewCachedIdentities wraps next. A non-positive ttl defaults to 30s.
func NewCachedIdentities(next IdentityResolver, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedIdentities {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedIdentities{
		next:        next,
		client:      client,
		ttl:         ttl,
		logger:      logger.With(zap.String("component", "identity_cache")),
		credentials: make(map[string]string),
	}
}

func fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

func identityKey(token string) string {
	return fmt.Sprintf("identity:v1:%s", token)
}

// Resolve returns the cached binding or loads it from the store.
func (c *CachedIdentities) Resolve(ctx context.Context, identityToken string) (*models.Binding, error) {
	key := identityKey(identityToken)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry cachedBinding
		if jerr := json.Unmarshal(data, &entry); jerr != nil {
			c.logger.Warn("dropping undecodable cache entry", zap.String("identity_token", identityToken))
			_ = c.client.Del(ctx, key).Err()
			break
		}
		if b, ok := c.fromEntry(entry); ok {
			metrics.IdentityCacheTotal.WithLabelValues("hit").Inc()
			return b, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		metrics.IdentityCacheTotal.WithLabelValues("error").Inc()
		c.logger.Warn("identity cache read failed", zap.Error(err))
	}
	metrics.IdentityCacheTotal.WithLabelValues("miss").Inc()

	b, err := c.next.Resolve(ctx, identityToken)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, b)
	return b, nil
}

// fromEntry rebuilds a binding from a Redis entry. It reports false when the
// entry names a credential this process does not hold.
func (c *CachedIdentities) fromEntry(e cachedBinding) (*models.Binding, bool) {
	b := &models.Binding{IdentityToken: e.IdentityToken, Label: e.Label, CreatedAt: e.CreatedAt}
	if e.Fingerprint == "" {
		return b, true
	}
	c.mu.RLock()
	credential, ok := c.credentials[e.IdentityToken]
	c.mu.RUnlock()
	if !ok || fingerprint(credential) != e.Fingerprint {
		return nil, false
	}
	b.Credential = &credential
	return b, true
}

func (c *CachedIdentities) store(ctx context.Context, key string, b *models.Binding) {
	entry := cachedBinding{IdentityToken: b.IdentityToken, Label: b.Label, CreatedAt: b.CreatedAt}

	c.mu.Lock()
	if b.Active() {
		c.credentials[b.IdentityToken] = *b.Credential
		entry.Fingerprint = fingerprint(*b.Credential)
	} else {
		delete(c.credentials, b.IdentityToken)
	}
	c.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("identity cache write failed", zap.Error(err))
	}
}

// Invalidate drops the cached binding for a token after an admin write.
func (c *CachedIdentities) Invalidate(ctx context.Context, identityToken string) error {
	c.mu.Lock()
	delete(c.credentials, identityToken)
	c.mu.Unlock()
	return c.client.Del(ctx, identityKey(identityToken)).Err()
}
