package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/webtalk-server/internal/attachment"
	"github.com/vovakirdan/webtalk-server/internal/auth"
	"github.com/vovakirdan/webtalk-server/internal/config"
	"github.com/vovakirdan/webtalk-server/internal/core"
	"github.com/vovakirdan/webtalk-server/internal/store/sqlite"
)

const testAdminPassword = "admin-secret"

type testEnv struct {
	cfg      *config.Config
	registry *core.Registry
	hub      *core.Hub
	auth     *auth.Service
	router   *gin.Engine
	server   *httptest.Server
	logger   *zerolog.Logger
}

// newTestEnv wires an in-memory store, a running hub and the full router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	root := t.TempDir()
	cfg := config.Default()
	cfg.ReadHeaderTimeout = time.Second
	cfg.UploadDir = filepath.Join(root, "uploads")
	cfg.TempDir = filepath.Join(root, "tmp")
	cfg.MaxUploadBytes = 1 << 20
	cfg.MaxMobileUploadBytes = 1 << 10
	cfg.AdminPassword = testAdminPassword
	cfg.JWTSecret = "test-secret"
	cfg.RateLimitPerMinute = 0

	disabledLogger := zerolog.Nop()

	registry := core.NewRegistry(st, core.RegistryConfig{
		UploadDir:        cfg.UploadDir,
		MaxRooms:         cfg.MaxRooms,
		RoomTimeoutHours: cfg.RoomTimeoutHours,
	}, &disabledLogger)

	hub := core.NewHub(registry, &disabledLogger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	pipeline := attachment.NewPipeline(registry, attachment.Config{
		UploadDir:      cfg.UploadDir,
		TempDir:        cfg.StagingDir(),
		MaxBytes:       cfg.MaxUploadBytes,
		MaxMobileBytes: cfg.MaxMobileUploadBytes,
	}, &disabledLogger)

	authService := auth.NewService(cfg.AdminPassword, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	router := NewRouter(hub, registry, pipeline, authService, &cfg, &disabledLogger)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{
		cfg:      &cfg,
		registry: registry,
		hub:      hub,
		auth:     authService,
		router:   router,
		server:   ts,
		logger:   &disabledLogger,
	}
}

// do sends a JSON request through the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()

	token, err := e.auth.Login(testAdminPassword)
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	return token
}

func (e *testEnv) mustCreateRoom(t *testing.T, name, password string) *core.Room {
	t.Helper()

	room, err := e.registry.CreateRoom(context.Background(), name, "alice", password)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(resp.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", resp.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, resp *httptest.ResponseRecorder, want int) {
	t.Helper()

	if resp.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.Code, resp.Body.String())
	}
}
