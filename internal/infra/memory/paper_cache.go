package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// PaperCache caches test papers with TTL to avoid repeated backend hits.
type PaperCache struct {
	loader app.PaperLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedPaper
}

type cachedPaper struct {
	paper     domain.TestPaper
	expiresAt time.Time
}

func NewPaperCache(loader app.PaperLoader, ttl time.Duration) *PaperCache {
	return &PaperCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedPaper),
	}
}

func (r *PaperCache) GetPaper(ctx context.Context, testID string) (domain.TestPaper, error) {
	if paper, ok := r.lookup(testID); ok {
		return paper, nil
	}

	result, err, _ := r.sf.Do(testID, func() (interface{}, error) {
		if paper, ok := r.lookup(testID); ok {
			return paper, nil
		}

		paper, err := r.loader.LoadPaper(ctx, testID)
		if err != nil {
			return domain.TestPaper{}, err
		}

		r.mu.Lock()
		r.cache[testID] = cachedPaper{
			paper:     paper,
			expiresAt: r.clock().Add(r.ttlWithJitterLocked()),
		}
		r.mu.Unlock()
		return paper, nil
	})
	if err != nil {
		return domain.TestPaper{}, err
	}
	return result.(domain.TestPaper), nil
}

func (r *PaperCache) lookup(testID string) (domain.TestPaper, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[testID]; ok && entry.expiresAt.After(now) {
		return entry.paper, true
	}
	return domain.TestPaper{}, false
}

// Invalidate drops a cached paper, e.g. after its questions were edited.
func (r *PaperCache) Invalidate(_ context.Context, testID string) error {
	r.mu.Lock()
	delete(r.cache, testID)
	r.mu.Unlock()
	return nil
}

func (r *PaperCache) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
