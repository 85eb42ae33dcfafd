package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"classroom-qa/internal/app"
	"classroom-qa/internal/domain"
	"classroom-qa/internal/identity"
	"classroom-qa/internal/infra/postgres"
	pgmigrations "classroom-qa/internal/infra/postgres/migrations"
	infraredis "classroom-qa/internal/infra/redis"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const pgPassword = "qapass"

func TestBoardEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := pgmigrations.Open(pgURL, pgPassword)
	if _, err := pgmigrations.Up(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_ = db.Close()

	pool, err := postgres.Connect(ctx, pgURL, pgPassword)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool, domain.DefaultPolicy, 5*time.Second, nil)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()
	rooms := infraredis.NewRoomDirectory(redisClient, store, 5*time.Minute)
	board := app.NewBoard(store, rooms, identity.NewTokens("it-secret", time.Hour), domain.DefaultPolicy, nil)

	teacher := signUp(t, board, "teacher@school.test", domain.RoleTeacher)
	alice := signUp(t, board, "alice@school.test", domain.RoleStudent)
	bob := signUp(t, board, "bob@school.test", domain.RoleStudent)

	room, err := board.CreateRoom(ctx, teacher, "Chemistry", "", "ta-key")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, _, err := board.JoinRoom(ctx, alice, room.Code, ""); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	// Second lookup is served from the redis cache.
	_, promoted, err := board.JoinRoom(ctx, bob, strings.ToLower(room.Code), "ta-key")
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if promoted.Role != domain.RoleTA {
		t.Fatalf("expected bob promoted to ta, got %s", promoted.Role)
	}
	if _, err := board.Authenticate(ctx, promoted.Token); err != nil {
		t.Fatalf("promoted token rejected: %v", err)
	}

	q, err := board.CreateQuestion(ctx, alice, room.ID, "Why is water polar?", true)
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	if q.Author != "" {
		t.Fatalf("anonymous question leaked author %q", q.Author)
	}
	if _, err := board.ToggleQuestionReaction(ctx, bob, q.ID, domain.ReactionLike); err != nil {
		t.Fatalf("react: %v", err)
	}
	a, err := board.CreateAnswer(ctx, promoted, q.ID, "Electronegativity difference")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if a.Role != domain.RoleTA {
		t.Fatalf("expected ta answer, got %s", a.Role)
	}
	if _, err := board.UpdateQuestionStatus(ctx, promoted, q.ID, domain.StatusResolved); err != nil {
		t.Fatalf("staff resolve: %v", err)
	}

	listed, err := board.ListQuestions(ctx, teacher, room.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Status != domain.StatusResolved || listed[0].Reactions.Like != 1 || len(listed[0].Answers) != 1 {
		t.Fatalf("unexpected listing %+v", listed)
	}

	profile, err := board.Profile(ctx, alice)
	if err != nil || profile.XP != 1 {
		t.Fatalf("expected alice to hold 1 xp, got %+v %v", profile, err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	snap := <-app.NewPoller(board, 50*time.Millisecond).Watch(pollCtx, alice, room.ID)
	if snap.Err != nil || len(snap.Questions) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func signUp(t *testing.T, b *app.Board, email string, role domain.Role) domain.Session {
	t.Helper()
	s, err := b.SignUp(context.Background(), app.SignUpInput{
		Email:       email,
		Password:    "password1",
		DisplayName: strings.Split(email, "@")[0],
		Role:        string(role),
	})
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return s
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "qa", "POSTGRES_PASSWORD": pgPassword, "POSTGRES_DB": "qadb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
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
	dsn := fmt.Sprintf("postgres://qa@%s:%s/qadb?sslmode=disable", host, port.Port())
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

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
