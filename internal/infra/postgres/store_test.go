package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/identity"
	"classroom-qa/internal/infra/postgres/migrations"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testPassword = "qapass"

func TestStoreAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	url, cleanup := startPostgres(t, ctx)
	defer cleanup()

	db := migrations.Open(url, testPassword)
	if _, err := migrations.Up(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_ = db.Close()

	pool, err := Connect(ctx, url, testPassword)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	store := NewStore(pool, domain.DefaultPolicy, 5*time.Second, nil)

	teacher := register(t, store, "teacher@school.test", "Ms. T", domain.RoleTeacher)
	student := register(t, store, "student@school.test", "Sam", domain.RoleStudent)
	other := register(t, store, "other@school.test", "Oli", domain.RoleStudent)

	t.Run("identity", func(t *testing.T) {
		hash, _ := identity.HashPassword("password1")
		if _, err := store.SignUp(ctx, domain.Registration{Email: "STUDENT@school.test", DisplayName: "dup", PasswordHash: hash}); !errors.Is(err, domain.ErrEmailTaken) {
			t.Fatalf("expected email taken, got %v", err)
		}
		if _, err := store.SignUp(ctx, domain.Registration{Email: "sneaky@school.test", DisplayName: "x", Role: domain.RoleTA, PasswordHash: hash}); !errors.Is(err, domain.ErrPermission) {
			t.Fatalf("self-assigned ta must be rejected by row policy, got %v", err)
		}
		if _, err := store.SignIn(ctx, "student@school.test", "wrong-password"); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
		user, err := store.SignIn(ctx, " Student@School.test ", "password1")
		if err != nil || user.ID != student.UserID {
			t.Fatalf("sign in: %+v %v", user, err)
		}
		name := "Samantha"
		updated, err := store.UpdateUser(ctx, student, domain.UserPatch{DisplayName: &name})
		if err != nil || updated.DisplayName != name {
			t.Fatalf("update user: %+v %v", updated, err)
		}
		if missing, err := store.GetUser(ctx, "nobody"); missing != nil || err != nil {
			t.Fatalf("expected nil user, got %v %v", missing, err)
		}
		if err := store.SignOut(ctx, other); err != nil {
			t.Fatalf("sign out: %v", err)
		}
		signedOut, err := store.GetUser(ctx, other.UserID)
		if err != nil || signedOut == nil || signedOut.SessionEpoch != other.Epoch+1 {
			t.Fatalf("expected session epoch %d after sign out, got %+v %v", other.Epoch+1, signedOut, err)
		}
	})

	t.Run("xp", func(t *testing.T) {
		p, err := store.AddXP(ctx, other.UserID, 3)
		if err != nil || p.XP != 3 || p.Level != 3 || p.AvatarStage != 1 {
			t.Fatalf("add xp: %+v %v", p, err)
		}
		p, err = store.AddXP(ctx, other.UserID, -10)
		if err != nil || p.XP != 0 || p.Level != 0 {
			t.Fatalf("xp must floor at zero: %+v %v", p, err)
		}
		if _, err := store.AddXP(ctx, "ghost", 1); !errors.Is(err, domain.ErrPermission) && !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("xp for an unknown user must fail, got %v", err)
		}
	})

	var room domain.Room
	t.Run("rooms", func(t *testing.T) {
		if _, err := store.CreateRoom(ctx, student, domain.NewRoom{Name: "nope"}); !errors.Is(err, domain.ErrPermission) {
			t.Fatalf("students must not create rooms, got %v", err)
		}
		var err error
		room, err = store.CreateRoom(ctx, teacher, domain.NewRoom{Name: "Chemistry", TAKey: "k"})
		if err != nil {
			t.Fatalf("create room: %v", err)
		}
		found, err := store.FindRoomByCode(ctx, strings.ToLower(room.Code))
		if err != nil || found == nil || found.ID != room.ID || found.TAKey != "k" {
			t.Fatalf("find by code: %+v %v", found, err)
		}
		if err := store.JoinRoom(ctx, student, room.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
		if err := store.JoinRoom(ctx, student, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found for missing room, got %v", err)
		}
		rooms, err := store.ListJoinedRooms(ctx, student)
		if err != nil || len(rooms) != 1 || rooms[0].ID != room.ID {
			t.Fatalf("joined rooms: %+v %v", rooms, err)
		}
		promoted, err := store.PromoteToTA(ctx, other.UserID)
		if err != nil || promoted.Role != domain.RoleTA {
			t.Fatalf("promote: %+v %v", promoted, err)
		}
		other = domain.SessionFor(promoted)
	})

	t.Run("questions", func(t *testing.T) {
		q, err := store.CreateQuestion(ctx, student, domain.NewQuestion{RoomID: room.ID, Text: "why?", Anonymous: true, Author: "Sam", OwnerID: student.UserID})
		if err != nil {
			t.Fatalf("create question: %v", err)
		}
		if q.Author != "" || q.Status != domain.StatusOpen || len(q.Answers) != 0 {
			t.Fatalf("unexpected question %+v", q)
		}
		if _, err := store.CreateQuestion(ctx, student, domain.NewQuestion{RoomID: room.ID, Text: "forged", OwnerID: teacher.UserID}); !errors.Is(err, domain.ErrPermission) {
			t.Fatalf("posting as someone else must be rejected, got %v", err)
		}

		stranger := register(t, store, "stranger@school.test", "Stan", domain.RoleStudent)
		if _, err := store.UpdateQuestionStatus(ctx, stranger, q.ID, domain.StatusResolved); !errors.Is(err, domain.ErrPermission) {
			t.Fatalf("expected permission error, got %v", err)
		}
		resolved, err := store.UpdateQuestionStatus(ctx, teacher, q.ID, domain.StatusResolved)
		if err != nil || resolved == nil || resolved.Status != domain.StatusResolved {
			t.Fatalf("resolve: %+v %v", resolved, err)
		}
		if missing, err := store.UpdateQuestionStatus(ctx, teacher, "missing", domain.StatusOpen); missing != nil || err != nil {
			t.Fatalf("expected nil, nil for missing question, got %v %v", missing, err)
		}

		liked, err := store.ToggleQuestionReaction(ctx, stranger, q.ID, domain.ReactionLike)
		if err != nil || liked.Reactions.Like != 1 {
			t.Fatalf("like: %+v %v", liked, err)
		}
		unliked, err := store.ToggleQuestionReaction(ctx, stranger, q.ID, domain.ReactionLike)
		if err != nil || unliked.Reactions.Like != 0 {
			t.Fatalf("unlike: %+v %v", unliked, err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, 6)
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.ToggleQuestionReaction(ctx, stranger, q.ID, domain.ReactionThanks); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent toggle: %v", err)
		}
		after, _ := store.GetQuestion(ctx, q.ID)
		if after.Reactions.Thanks > 1 {
			t.Fatalf("one user can hold at most one reaction per type, got %d", after.Reactions.Thanks)
		}

		a, err := store.CreateAnswer(ctx, other, domain.NewAnswer{QuestionID: q.ID, Text: "because", Author: "Oli", Role: domain.RoleTA, OwnerID: other.UserID})
		if err != nil {
			t.Fatalf("create answer: %v", err)
		}
		if _, err := store.CreateAnswer(ctx, other, domain.NewAnswer{QuestionID: "missing", Text: "x", OwnerID: other.UserID}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := store.UpdateAnswer(ctx, stranger, a.ID, "hijack"); !errors.Is(err, domain.ErrPermission) {
			t.Fatalf("expected permission error, got %v", err)
		}
		edited, err := store.UpdateAnswer(ctx, other, a.ID, "because of entropy")
		if err != nil || edited.Text != "because of entropy" {
			t.Fatalf("edit answer: %+v %v", edited, err)
		}
		thanked, err := store.ToggleAnswerReaction(ctx, student, a.ID, domain.ReactionThanks)
		if err != nil || thanked.Reactions.Thanks != 1 {
			t.Fatalf("thank answer: %+v %v", thanked, err)
		}

		listed, err := store.ListQuestions(ctx, room.ID)
		if err != nil || len(listed) != 1 || len(listed[0].Answers) != 1 || listed[0].Answers[0].Reactions.Thanks != 1 {
			t.Fatalf("list: %+v %v", listed, err)
		}

		if _, err := store.DeleteQuestion(ctx, stranger, q.ID); !errors.Is(err, domain.ErrPermission) {
			t.Fatalf("expected permission error, got %v", err)
		}
		deleted, err := store.DeleteQuestion(ctx, student, q.ID)
		if err != nil || !deleted {
			t.Fatalf("delete: %v %v", deleted, err)
		}
		if gone, err := store.GetAnswer(ctx, a.ID); gone != nil || err != nil {
			t.Fatalf("answers must cascade, got %v %v", gone, err)
		}
		if again, err := store.DeleteQuestion(ctx, student, q.ID); again || err != nil {
			t.Fatalf("second delete: %v %v", again, err)
		}
		if q, err := store.ToggleQuestionReaction(ctx, stranger, q.ID, domain.ReactionLike); q != nil || err != nil {
			t.Fatalf("toggle on deleted question: %v %v", q, err)
		}
	})
}

func register(t *testing.T, store *Store, email, name string, role domain.Role) domain.Session {
	t.Helper()
	hash, err := identity.HashPassword("password1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user, err := store.SignUp(context.Background(), domain.Registration{Email: email, DisplayName: name, Role: role, PasswordHash: hash})
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return domain.SessionFor(user)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "qa", "POSTGRES_PASSWORD": testPassword, "POSTGRES_DB": "qadb"},
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
	// The password travels separately, the way the remote key does.
	url := fmt.Sprintf("postgres://qa@%s:%s/qadb?sslmode=disable", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
