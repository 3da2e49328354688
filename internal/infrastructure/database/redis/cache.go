package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// DefaultCandidateTTL bounds how long a protein's bioassay candidates are
// shared between processes.
const DefaultCandidateTTL = 6 * time.Hour

// CandidateCache is the second-level candidate cache shared by every engine
// process. Entries are the normalized candidate list for one protein id,
// stored as JSON under <prefix>candidates:<protein id>.
type CandidateCache struct {
	client *Client
	ttl    time.Duration
	logger logging.Logger
}

// CacheOption configures a CandidateCache.
type CacheOption func(*CandidateCache)

// WithTTL overrides DefaultCandidateTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CandidateCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func NewCandidateCache(client *Client, log logging.Logger, opts ...CacheOption) *CandidateCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &CandidateCache{client: client, ttl: DefaultCandidateTTL, logger: log.Named("candidate_cache")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CandidateCache) key(proteinID string) string {
	return c.client.Key("candidates:" + proteinID)
}

// GetCandidates returns the cached list for proteinID. A miss is reported by
// ok=false with a nil error.
func (c *CandidateCache) GetCandidates(ctx context.Context, proteinID string) ([]candidate.Molecule, bool, error) {
	rdb, err := c.client.Redis()
	if err != nil {
		return nil, false, err
	}
	raw, err := rdb.Get(ctx, c.key(proteinID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.CodeCacheError, "read cached candidates")
	}
	var out []candidate.Molecule
	if err := json.Unmarshal(raw, &out); err != nil {
		// A corrupt entry is treated as a miss and overwritten by the next fill.
		c.logger.Warn("discarding undecodable cache entry", logging.ProteinID(proteinID), logging.Err(err))
		return nil, false, nil
	}
	return out, true, nil
}

// PutCandidates stores list for proteinID with the configured TTL.
func (c *CandidateCache) PutCandidates(ctx context.Context, proteinID string, list []candidate.Molecule) error {
	rdb, err := c.client.Redis()
	if err != nil {
		return err
	}
	if list == nil {
		list = []candidate.Molecule{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode candidates")
	}
	if err := rdb.Set(ctx, c.key(proteinID), raw, c.ttl).Err(); err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "write cached candidates")
	}
	return nil
}

// Invalidate drops the entries for the given protein ids.
func (c *CandidateCache) Invalidate(ctx context.Context, proteinIDs ...string) error {
	if len(proteinIDs) == 0 {
		return nil
	}
	rdb, err := c.client.Redis()
	if err != nil {
		return err
	}
	keys := make([]string, len(proteinIDs))
	for i, id := range proteinIDs {
		keys[i] = c.key(id)
	}
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "invalidate cached candidates")
	}
	return nil
}
