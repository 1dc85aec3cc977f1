package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// PaperCache caches test papers in Redis and falls back to a loader on cache miss.
// Papers are stored as JSON: SET paper:{testID} {json} EX ttl
type PaperCache struct {
	client *redis.Client
	loader app.PaperLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPaperCache(client *redis.Client, loader app.PaperLoader, ttl time.Duration) *PaperCache {
	return &PaperCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *PaperCache) GetPaper(ctx context.Context, testID string) (domain.TestPaper, error) {
	if paper, ok := r.cached(ctx, testID); ok {
		return paper, nil
	}

	result, err, _ := r.sf.Do(testID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if paper, ok := r.cached(ctx, testID); ok {
			return paper, nil
		}

		paper, err := r.loader.LoadPaper(ctx, testID)
		if err != nil {
			return domain.TestPaper{}, err
		}

		payload, err := json.Marshal(paper)
		if err == nil {
			err = r.client.Set(ctx, r.key(testID), payload, r.ttlWithJitter()).Err()
		}
		if err != nil {
			log.Warn().Err(err).Str("testId", testID).Msg("paper cache write failed")
		}
		return paper, nil
	})
	if err != nil {
		return domain.TestPaper{}, err
	}
	return result.(domain.TestPaper), nil
}

func (r *PaperCache) cached(ctx context.Context, testID string) (domain.TestPaper, bool) {
	raw, err := r.client.Get(ctx, r.key(testID)).Bytes()
	if err != nil {
		return domain.TestPaper{}, false
	}
	var paper domain.TestPaper
	if err := json.Unmarshal(raw, &paper); err != nil {
		return domain.TestPaper{}, false
	}
	return paper, true
}

// Invalidate drops a cached paper, e.g. after its questions were edited.
func (r *PaperCache) Invalidate(ctx context.Context, testID string) error {
	return r.client.Del(ctx, r.key(testID)).Err()
}

func (r *PaperCache) key(testID string) string {
	return "paper:" + testID
}

func (r *PaperCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
