package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"exam-prep-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ResultStore keeps each user's results as a Redis list, newest at the head:
// LPUSH results:{userID} {json}
type ResultStore struct {
	client *redis.Client
}

func NewResultStore(client *redis.Client) *ResultStore {
	return &ResultStore{client: client}
}

func (s *ResultStore) SaveResult(ctx context.Context, result domain.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.client.LPush(ctx, s.key(result.UserID), payload).Err()
}

func (s *ResultStore) LatestResult(ctx context.Context, userID, testID string) (domain.Result, error) {
	results, err := s.ListResults(ctx, userID)
	if err != nil {
		return domain.Result{}, err
	}
	for _, r := range results {
		if r.TestID == testID {
			return r, nil
		}
	}
	return domain.Result{}, domain.ErrResultNotFound
}

func (s *ResultStore) ListResults(ctx context.Context, userID string) ([]domain.Result, error) {
	raw, err := s.client.LRange(ctx, s.key(userID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]domain.Result, 0, len(raw))
	for _, item := range raw {
		var r domain.Result
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *ResultStore) key(userID string) string {
	return "results:" + userID
}
