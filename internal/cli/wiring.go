package cli

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/auth"
	"exam-prep-service/internal/config"
	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/infra/amqp"
	"exam-prep-service/internal/infra/memory"
	"exam-prep-service/internal/infra/postgres"
	redisstore "exam-prep-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// paperCache is satisfied by both the in-memory and the Redis paper caches.
type paperCache interface {
	app.PaperRepository
	Invalidate(ctx context.Context, testID string) error
}

// stack is the set of components every command builds from one config.
type stack struct {
	cfg      config.Config
	backend  app.Backend
	profiles app.ProfileSink
	papers   paperCache
	catalog  *app.Catalog
	attempts *app.AttemptService
	provider *auth.Provider

	closers []func() error
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close resource")
		}
	}
}

// buildStack wires storage, caches, publishers and the identity provider. Live mode
// needs Postgres; Redis and AMQP are optional in both modes.
func buildStack(ctx context.Context, cfg config.Config) (*stack, error) {
	s := &stack{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	var (
		results    app.ResultStore
		publishers []app.ResultPublisher
	)
	switch cfg.Data.Source {
	case config.SourceLive:
		if cfg.Postgres.URL == "" {
			return nil, fmt.Errorf("data source %q needs postgres.url", cfg.Data.Source)
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		s.closers = append(s.closers, db.Close)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })

		backend := postgres.NewBackend(db)
		s.backend, s.profiles = backend, backend
		results = postgres.NewResultStore(pool)
		log.Info().Msg("using live postgres backend")
	case config.SourceStatic:
		fixtures := memory.SampleFixtures()
		if cfg.Data.Fixtures != "" {
			loaded, err := memory.LoadFixtures(cfg.Data.Fixtures)
			if err != nil {
				return nil, err
			}
			fixtures = loaded
		}
		backend := memory.NewStaticBackend(fixtures)
		s.backend, s.profiles = backend, backend
		// the static backend keeps its own leaderboard current from published results
		publishers = append(publishers, backend)
		log.Info().Int("mockTests", len(fixtures.MockTests)).Msg("using static fixture backend")
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, redisClient.Close)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	paperTTL := config.TTLDuration(cfg.Exam.PaperTTL, 10*time.Minute)
	var kv app.KeyValueStore
	if redisClient != nil {
		kv = redisstore.NewKVStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 7*24*time.Hour))
		s.papers = redisstore.NewPaperCache(redisClient, s.backend, paperTTL)
		if results == nil {
			results = redisstore.NewResultStore(redisClient)
		}
	} else {
		kv = memory.NewKVStore()
		s.papers = memory.NewPaperCache(s.backend, paperTTL)
		if results == nil {
			results = memory.NewResultStore()
		}
	}

	publisher, err := amqp.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, publisher.Close)
	publishers = append(publishers, publisher)

	opts := []app.Option{
		app.WithTicker(config.TTLDuration(cfg.Exam.TickInterval, time.Second), nil),
	}
	for _, p := range publishers {
		opts = append(opts, app.WithPublisher(p))
	}
	s.attempts = app.NewAttemptService(s.papers, app.NewDraftStore(kv), results, opts...)
	s.catalog = app.NewCatalog(s.backend, cfg.Exam.BatchSize).WithPaperCache(s.papers)

	s.provider = auth.NewProvider(auth.NewIssuer(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour)))
	for _, admin := range cfg.Auth.Admins {
		if err := s.provider.EnsureAccount(ctx, admin.Email, admin.Password, admin.Name, domain.PermManageContent); err != nil {
			return nil, fmt.Errorf("seed admin %s: %w", admin.Email, err)
		}
		// admins exist before SyncProfiles subscribes, so record them directly
		for _, acc := range s.provider.Accounts() {
			if strings.EqualFold(acc.Email, strings.TrimSpace(admin.Email)) {
				if err := s.profiles.UpsertProfile(ctx, acc); err != nil {
					log.Warn().Err(err).Str("email", admin.Email).Msg("record admin profile")
				}
			}
		}
	}

	ok = true
	return s, nil
}
