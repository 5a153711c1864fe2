package speech

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cached memoises a Synthesizer by language and text. Concurrent misses on
// the same key share one synthesis. Entries whose file has vanished from the
// artifact store are synthesized again.
type Cached struct {
	next      Synthesizer
	artifacts *ArtifactStore
	lru       *expirable.LRU[string, *Artifact]
	flight    singleflight.Group
}

// NewCached wraps next. artifacts may be nil to skip the existence check.
func NewCached(next Synthesizer, artifacts *ArtifactStore, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 128
	}
	return &Cached{
		next:      next,
		artifacts: artifacts,
		lru:       expirable.NewLRU[string, *Artifact](size, nil, ttl),
	}
}

// Synthesize returns the cached artifact or delegates.
func (c *Cached) Synthesize(ctx context.Context, text, lang string) (*Artifact, error) {
	key := lang + "|" + text
	if art, ok := c.lru.Get(key); ok {
		if c.artifacts == nil || c.artifacts.Exists(art.Name) {
			return art, nil
		}
		c.lru.Remove(key)
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		art, err := c.next.Synthesize(ctx, text, lang)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, art)
		return art, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// Len returns the number of cached entries.
func (c *Cached) Len() int { return c.lru.Len() }
