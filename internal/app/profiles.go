package app

import (
	"context"
	"time"

	"exam-prep-service/internal/domain"
	"github.com/rs/zerolog/log"
)

// ProfileSink records accounts for the admin roster.
type ProfileSink interface {
	UpsertProfile(ctx context.Context, u domain.UserAccount) error
}

// SyncProfiles copies every signed-in account into sink until ctx is done.
func SyncProfiles(ctx context.Context, provider IdentityProvider, sink ProfileSink) {
	changes, cancel := provider.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Event != domain.AuthSignedIn || change.Session == nil {
				continue
			}
			s := change.Session
			err := sink.UpsertProfile(ctx, domain.UserAccount{
				ID:        s.UserID,
				Email:     s.Email,
				Name:      s.Name,
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				log.Error().Err(err).Str("userID", s.UserID).Msg("sync profile")
			}
		}
	}
}
