package record

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/xerrors"

	"github.com/blastbao/gomem/schema"
)

// VerifyCache remembers the outcome of Verify for recently seen buffers of
// one schema, so a buffer that is checked repeatedly is walked once.
//
// Buffers are identified by content: a BLAKE2b-256 digest plus length. A
// cache hit costs one pass over the bytes instead of a walk of the
// structure. It is safe for concurrent use.
type VerifyCache struct {
	schema *schema.Schema
	opts   *options
	lru    *lru.Cache[cacheKey, error]

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheKey struct {
	sum [blake2b.Size256]byte
	n   int
}

// NewVerifyCache returns a cache of up to size outcomes for buffers of s,
// verified with opts.
func NewVerifyCache(size int, s *schema.Schema, opts ...Option) (*VerifyCache, error) {
	c, err := lru.New[cacheKey, error](size)
	if err != nil {
		return nil, xerrors.Errorf("record: verify cache: %w", err)
	}
	return &VerifyCache{schema: s, opts: newOptions(opts), lru: c}, nil
}

// Verify is like the package-level Verify, answering from the cache when
// the same bytes were verified before.
func (c *VerifyCache) Verify(buf []byte) error {
	key := cacheKey{sum: blake2b.Sum256(buf), n: len(buf)}
	if err, ok := c.lru.Get(key); ok {
		c.hits.Inc()
		return err
	}
	c.misses.Inc()
	err := verify(buf, c.schema, c.opts)
	c.lru.Add(key, err)
	return err
}

// Len returns the number of cached outcomes.
func (c *VerifyCache) Len() int { return c.lru.Len() }

// Stats returns the number of lookups answered from and missing the cache.
func (c *VerifyCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops all cached outcomes.
func (c *VerifyCache) Purge() { c.lru.Purge() }
