package app

import (
	"context"
	"encoding/json"
	"fmt"

	"exam-prep-service/internal/domain"
	"github.com/rs/zerolog/log"
)

// KeyValueStore abstracts where drafts are kept (in-memory, Redis, etc).
// Get reports ok=false for an absent key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

// DraftKeys are the three keys holding one user's draft of one test.
type DraftKeys struct {
	Answers string
	Marked  string
	Elapsed string
}

// KeysFor scopes draft keys per user and test.
func KeysFor(userID, testID string) DraftKeys {
	prefix := "draft:" + userID + ":test-" + testID
	return DraftKeys{
		Answers: prefix + "-answers",
		Marked:  prefix + "-marked",
		Elapsed: prefix + "-time",
	}
}

// DraftStore mirrors attempt state into a KeyValueStore as JSON values.
type DraftStore struct {
	kv KeyValueStore
}

func NewDraftStore(kv KeyValueStore) *DraftStore {
	return &DraftStore{kv: kv}
}

// getOr returns the decoded value at key or def when the key is absent or undecodable.
func getOr[T any](ctx context.Context, kv KeyValueStore, key string, def T) (T, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return def, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding undecodable draft value")
		return def, nil
	}
	return v, nil
}

func set(ctx context.Context, kv KeyValueStore, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Load returns the persisted draft for n questions. resumed is true only when the
// stored draft has at least one answer and matches n; a mismatched draft is cleared.
func (s *DraftStore) Load(ctx context.Context, userID, testID string, n int) (draft domain.Draft, resumed bool, err error) {
	keys := KeysFor(userID, testID)
	fresh := domain.NewDraft(n)

	answers, err := getOr(ctx, s.kv, keys.Answers, fresh.Answers)
	if err != nil {
		return fresh, false, err
	}
	marked, err := getOr(ctx, s.kv, keys.Marked, fresh.Marked)
	if err != nil {
		return fresh, false, err
	}
	elapsed, err := getOr(ctx, s.kv, keys.Elapsed, 0)
	if err != nil {
		return fresh, false, err
	}

	draft = domain.Draft{Answers: answers, Marked: marked, ElapsedSeconds: elapsed}
	if !draft.HasAnswers() {
		return fresh, false, nil
	}
	if !draft.Fits(n) {
		log.Warn().
			Str("userID", userID).
			Str("testID", testID).
			Int("answers", len(answers)).
			Int("marked", len(marked)).
			Int("questions", n).
			Msg("persisted draft does not match question count, discarding")
		if err := s.Clear(ctx, userID, testID); err != nil {
			return fresh, false, err
		}
		return fresh, false, nil
	}
	for _, a := range draft.Answers {
		if a != nil && (*a < 0 || *a >= len(domain.OptionLetters)) {
			log.Warn().Str("userID", userID).Str("testID", testID).Msg("persisted draft holds invalid option, discarding")
			if err := s.Clear(ctx, userID, testID); err != nil {
				return fresh, false, err
			}
			return fresh, false, nil
		}
	}
	if draft.ElapsedSeconds < 0 {
		draft.ElapsedSeconds = 0
	}
	return draft, true, nil
}

func (s *DraftStore) SaveAnswers(ctx context.Context, userID, testID string, answers []*int) error {
	return set(ctx, s.kv, KeysFor(userID, testID).Answers, answers)
}

func (s *DraftStore) SaveMarked(ctx context.Context, userID, testID string, marked []bool) error {
	return set(ctx, s.kv, KeysFor(userID, testID).Marked, marked)
}

func (s *DraftStore) SaveElapsed(ctx context.Context, userID, testID string, elapsed int) error {
	return set(ctx, s.kv, KeysFor(userID, testID).Elapsed, elapsed)
}

// Clear removes all three draft keys so the next visit starts fresh.
func (s *DraftStore) Clear(ctx context.Context, userID, testID string) error {
	keys := KeysFor(userID, testID)
	if err := s.kv.Delete(ctx, keys.Answers, keys.Marked, keys.Elapsed); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}
