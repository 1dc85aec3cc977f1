package memory

import (
	"context"
	"sync"

	"exam-prep-service/internal/domain"
)

// ResultStore keeps results per user in insertion order.
type ResultStore struct {
	mu     sync.RWMutex
	byUser map[string][]domain.Result
}

func NewResultStore() *ResultStore {
	return &ResultStore{byUser: make(map[string][]domain.Result)}
}

func (s *ResultStore) SaveResult(_ context.Context, result domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[result.UserID] = append(s.byUser[result.UserID], result)
	return nil
}

func (s *ResultStore) LatestResult(_ context.Context, userID, testID string) (domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.byUser[userID]
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].TestID == testID {
			return results[i], nil
		}
	}
	return domain.Result{}, domain.ErrResultNotFound
}

func (s *ResultStore) ListResults(_ context.Context, userID string) ([]domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.byUser[userID]
	out := make([]domain.Result, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		out = append(out, results[i])
	}
	return out, nil
}
