package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/infra/postgres"
	pgmigrations "exam-prep-service/internal/infra/postgres/migrations"
	infraredis "exam-prep-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestSubmitAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openMigrated(t, ctx, pgURL)
	defer db.Close()
	backend := postgres.NewBackend(db)

	testID := seedPaper(t, ctx, backend)
	for _, u := range []domain.UserAccount{{ID: "u1", Email: "alice@example.com", Name: "Alice"}, {ID: "u2", Email: "bob@example.com", Name: "Bob"}} {
		if err := backend.UpsertProfile(ctx, u); err != nil {
			t.Fatalf("profile: %v", err)
		}
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	papers := infraredis.NewPaperCache(redisClient, backend, 5*time.Minute)
	drafts := app.NewDraftStore(infraredis.NewKVStore(redisClient, time.Hour))
	service := app.NewAttemptService(papers, drafts, postgres.NewResultStore(pool),
		app.WithTicker(time.Hour, nil))

	// Alice answers everything correctly, Bob gets one wrong and skips one.
	submit(t, ctx, service, "u1", testID, []int{1, 2, 0})
	submit(t, ctx, service, "u2", testID, []int{1, 3})

	catalog := app.NewCatalog(backend, 0)
	rows := catalog.FetchLeaderboard(ctx, domain.PeriodAllTime)
	if len(rows) != 2 {
		t.Fatalf("expected two leaderboard rows, got %+v", rows)
	}
	if rows[0].UserID != "u1" || rows[0].RankPosition != 1 || rows[0].TotalPoints != 3 || rows[0].Name != "Alice" {
		t.Fatalf("expected alice first with 3 points, got %+v", rows[0])
	}
	if rows[1].UserID != "u2" || rows[1].RankPosition != 2 || rows[1].TotalPoints != 1 {
		t.Fatalf("expected bob second with 1 point, got %+v", rows[1])
	}

	latest, err := service.Result(ctx, "u2", testID)
	if err != nil {
		t.Fatalf("latest result: %v", err)
	}
	if latest.Score.Correct != 1 || latest.Score.Incorrect != 1 || latest.Score.Unanswered != 1 || latest.Score.TotalMarks != 0.75 {
		t.Fatalf("unexpected stored score %+v", latest.Score)
	}

	var answers int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM user_answers`).Scan(&answers); err != nil {
		t.Fatalf("count answers: %v", err)
	}
	if answers != 6 {
		t.Fatalf("expected 6 answer rows, got %d", answers)
	}
}

func TestDraftSurvivesServiceRestart(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()
	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	paper := domain.TestPaper{
		Test: domain.MockTest{ID: "t1", Title: "Restart", DurationMins: 5},
		Questions: []domain.Question{
			{ID: "q1", Text: "one", Options: [4]string{"a", "b", "c", "d"}, CorrectOption: "A"},
			{ID: "q2", Text: "two", Options: [4]string{"a", "b", "c", "d"}, CorrectOption: "B"},
		},
	}
	newService := func() *app.AttemptService {
		return app.NewAttemptService(staticPapers{paper}, app.NewDraftStore(infraredis.NewKVStore(redisClient, time.Hour)),
			infraredis.NewResultStore(redisClient), app.WithTicker(time.Hour, nil))
	}

	first := newService()
	a, err := first.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.SelectOption(ctx, 1, 1); err != nil {
		t.Fatalf("select: %v", err)
	}
	a.Close()

	second := newService()
	b, err := second.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer b.Close()
	view := b.View()
	if !b.Resumed() || view.Answers[1] == nil || *view.Answers[1] != 1 {
		t.Fatalf("draft not resumed from redis: %+v", view)
	}
}

type staticPapers struct {
	paper domain.TestPaper
}

func (s staticPapers) GetPaper(_ context.Context, testID string) (domain.TestPaper, error) {
	if testID != s.paper.Test.ID {
		return domain.TestPaper{}, domain.ErrTestNotFound
	}
	return s.paper, nil
}

func submit(t *testing.T, ctx context.Context, service *app.AttemptService, userID, testID string, answers []int) {
	t.Helper()
	a, err := service.Start(ctx, userID, testID, nil)
	if err != nil {
		t.Fatalf("start %s: %v", userID, err)
	}
	defer a.Close()
	for q, opt := range answers {
		if err := a.SelectOption(ctx, q, opt); err != nil {
			t.Fatalf("select: %v", err)
		}
	}
	if _, err := a.Submit(ctx); err != nil {
		t.Fatalf("submit %s: %v", userID, err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "exam", "POSTGRES_PASSWORD": "exampass", "POSTGRES_DB": "examdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://exam:exampass@%s:%s/examdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func openMigrated(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// seedPaper creates a three-question mock test with correct options B, C, A.
func seedPaper(t *testing.T, ctx context.Context, backend *postgres.Backend) string {
	t.Helper()
	testID, err := backend.CreateMockTest(ctx, domain.MockTest{
		Title:          "Integration",
		Subject:        "Mathematics",
		DurationMins:   3,
		TotalQuestions: 3,
		TotalMarks:     3,
		CreatedBy:      "admin",
	})
	if err != nil {
		t.Fatalf("create mock test: %v", err)
	}
	var questions []domain.Question
	for i, correct := range []string{"B", "C", "A"} {
		questions = append(questions, domain.Question{
			Text:          fmt.Sprintf("question %d", i+1),
			Options:       [4]string{"1", "2", "3", "4"},
			CorrectOption: correct,
			Marks:         1,
			SourceType:    domain.SourceMockTest,
			SourceID:      testID,
			Subject:       "Mathematics",
			CreatedBy:     "admin",
		})
	}
	if n, err := backend.InsertQuestions(ctx, questions); err != nil || n != 3 {
		t.Fatalf("insert questions: n=%d err=%v", n, err)
	}
	return testID
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
