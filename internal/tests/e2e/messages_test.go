//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/racedesk/apiserver/config"
	"github.com/racedesk/apiserver/internal/auth"
	"github.com/racedesk/apiserver/internal/db"
	"github.com/racedesk/apiserver/internal/paging"
	"github.com/racedesk/apiserver/internal/server"
	"github.com/racedesk/apiserver/internal/services"
	"github.com/racedesk/apiserver/internal/store"
	"github.com/racedesk/apiserver/types"
)

const (
	serverPort = 18080
	jwtSecret  = "e2e-secret"
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d", "postgres"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	setEnv()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srvCtx, stop := context.WithCancel(context.Background())
	done, err := startServer(srvCtx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		stop()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		stop()
		<-done
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	stop()
	<-done
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestMessageLifecycle(t *testing.T) {
	director := bootstrapDirector(t)
	directorToken := issue(t, director)

	arek := createUser(t, directorToken, uniqueNick("Arek"), types.RolePilot)
	basia := createUser(t, directorToken, uniqueNick("Basia"), types.RolePilot)

	created := createMessage(t, directorToken, director.ID, "box this lap", arek.ID, basia.ID, arek.ID)
	if len(created.Recipients) != 2 {
		t.Fatalf("expected duplicate recipients to collapse, got %v", created.Recipients)
	}

	createMessage(t, directorToken, director.ID, "only basia", basia.ID)

	var pilotView types.MessageList
	status := doJSON(t, http.MethodGet, "/api/messages", issue(t, arek), nil, &pilotView)
	if status != http.StatusOK {
		t.Fatalf("list as pilot: status %d", status)
	}
	if pilotView.Total != 1 || pilotView.Messages[0].ID != created.ID {
		t.Fatalf("pilot should only see their message, got %+v", pilotView)
	}
	if pilotView.Messages[0].SenderNick != director.Nick {
		t.Fatalf("unexpected sender nick %q", pilotView.Messages[0].SenderNick)
	}

	status = doJSON(t, http.MethodPost, "/messages", issue(t, arek), map[string]any{
		"content":       "let me in",
		"sender_id":     arek.ID,
		"recipient_ids": []uuid.UUID{basia.ID},
	}, nil)
	if status != http.StatusForbidden {
		t.Fatalf("pilot create: expected 403, got %d", status)
	}

	status = doJSON(t, http.MethodDelete, "/users/"+basia.ID.String(), directorToken, nil, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete user: status %d", status)
	}

	var afterDelete types.MessageList
	doJSON(t, http.MethodGet, "/messages?recipient_id="+basia.ID.String(), directorToken, nil, &afterDelete)
	if afterDelete.Total != 0 {
		t.Fatalf("expected no messages for a deleted user, got %d", afterDelete.Total)
	}
	doJSON(t, http.MethodGet, "/messages?recipient_id="+arek.ID.String(), directorToken, nil, &afterDelete)
	if afterDelete.Total != 1 {
		t.Fatalf("message to arek must survive basia's deletion, got %d", afterDelete.Total)
	}
}

func TestReadStrategiesAgree(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer conn.Close()

	users := store.NewUserRepository(conn)
	messages := store.NewMessageRepository(conn)
	director := auth.Caller{ID: uuid.New(), Role: types.RoleRaceDirector}
	userService := services.NewUserService(users, messages)

	sender, err := userService.Create(ctx, director, types.CreateUserCommand{Nick: uniqueNick("Sender"), Roles: types.RoleRaceDirector})
	if err != nil {
		t.Fatalf("create sender: %v", err)
	}
	pilot, err := userService.Create(ctx, director, types.CreateUserCommand{Nick: uniqueNick("Pilot"), Roles: types.RolePilot})
	if err != nil {
		t.Fatalf("create pilot: %v", err)
	}

	compensating := services.NewMessageService(messages, users, services.WithAtomicCreate(false))
	for i := range 7 {
		_, err := compensating.Create(ctx, director, types.CreateMessageCommand{
			Content:      fmt.Sprintf("message %d", i),
			SenderID:     sender.ID.String(),
			RecipientIDs: []string{pilot.ID.String()},
		})
		if err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
	}

	prefilter := services.NewMessageService(messages, users, services.WithReadStrategy(services.StrategyPrefilter))
	join := services.NewMessageService(messages, users, services.WithReadStrategy(services.StrategyJoin))

	for _, sort := range []paging.Sort{{Field: "sent_at", Desc: true}, {Field: "content"}, {Field: "sender_id", Desc: true}} {
		for page := 1; page <= 3; page++ {
			q := services.MessageQuery{Page: paging.Params{Page: page, Limit: 3}, Sort: sort, RecipientID: &pilot.ID}
			a, err := prefilter.List(ctx, q)
			if err != nil {
				t.Fatalf("prefilter %s page %d: %v", sort, page, err)
			}
			b, err := join.List(ctx, q)
			if err != nil {
				t.Fatalf("join %s page %d: %v", sort, page, err)
			}
			if a.Total != 7 || b.Total != 7 {
				t.Fatalf("%s: totals %d and %d, want 7", sort, a.Total, b.Total)
			}
			if len(a.Messages) != len(b.Messages) {
				t.Fatalf("%s page %d: %d vs %d rows", sort, page, len(a.Messages), len(b.Messages))
			}
			for i := range a.Messages {
				if a.Messages[i].ID != b.Messages[i].ID {
					t.Fatalf("%s page %d row %d: %s vs %s", sort, page, i, a.Messages[i].ID, b.Messages[i].ID)
				}
			}
		}
	}

	if err := userService.Delete(ctx, director, sender.ID); err != nil {
		t.Fatalf("delete sender: %v", err)
	}
	list, err := join.List(ctx, services.MessageQuery{Page: paging.Params{Page: 1, Limit: 5}, RecipientID: &pilot.ID})
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if list.Total != 0 {
		t.Fatalf("expected sent messages to be deleted with the sender, got %d", list.Total)
	}
}

func TestDuplicateNick(t *testing.T) {
	token := issue(t, bootstrapDirector(t))
	nick := uniqueNick("Twin")
	createUser(t, token, nick, types.RolePilot)

	status := doJSON(t, http.MethodPost, "/users", token, map[string]any{"nick": nick, "roles": types.RolePilot}, nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
}

// bootstrapDirector creates a race director through the API using a token
// for a subject that does not exist yet.
func bootstrapDirector(t *testing.T) types.User {
	t.Helper()
	token := issue(t, types.User{ID: uuid.New(), Nick: "bootstrap", Roles: types.RoleRaceDirector})
	return createUser(t, token, uniqueNick("Director"), types.RoleRaceDirector)
}

func uniqueNick(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func issue(t *testing.T, user types.User) string {
	t.Helper()
	token, err := auth.IssueToken(auth.Caller{ID: user.ID, Nick: user.Nick, Role: user.Roles}, jwtSecret, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func createUser(t *testing.T, token, nick string, role types.Role) types.User {
	t.Helper()
	var user types.User
	status := doJSON(t, http.MethodPost, "/users", token, map[string]any{"nick": nick, "roles": role}, &user)
	if status != http.StatusCreated {
		t.Fatalf("create user %s: status %d", nick, status)
	}
	return user
}

func createMessage(t *testing.T, token string, sender uuid.UUID, content string, recipients ...uuid.UUID) types.Message {
	t.Helper()
	var msg types.Message
	status := doJSON(t, http.MethodPost, "/messages", token, map[string]any{
		"content":       content,
		"sender_id":     sender,
		"recipient_ids": recipients,
	}, &msg)
	if status != http.StatusCreated {
		t.Fatalf("create message: status %d", status)
	}
	return msg
}

func doJSON(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func setEnv() {
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("STORE_BACKEND", config.StoreBackendPostgres)
	_ = os.Setenv("AUTH_MODE", config.AuthModeJWT)
	_ = os.Setenv("AUTH_JWT_SECRET", jwtSecret)
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "racedesk")
	_ = os.Setenv("DB_PASSWORD", "racedesk")
	_ = os.Setenv("DB_NAME", "racedesk")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("MQ_BACKEND", config.MQBackendNone)
	_ = os.Setenv("STORAGE_BACKEND", config.StorageBackendNone)
}

func waitForPostgres(ctx context.Context, cfg config.Config) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := db.Open(pingCtx, cfg.Database)
		cancel()
		if err == nil {
			return conn.Close()
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func runMigrations(root string, cfg config.Config) error {
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")
	migrator, err := migrate.New(migrationsURL, db.URL(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer(ctx context.Context, cfg config.Config) (<-chan struct{}, error) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	return done, nil
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
