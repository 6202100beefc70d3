package authgoogle

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	errorsfeature "github.com/harmonyroom/harmonyroom/internal/app/features/errors"
	"github.com/harmonyroom/harmonyroom/internal/app/store/audit"
	"github.com/harmonyroom/harmonyroom/internal/app/store/oauthstate"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auditlog"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
	"github.com/harmonyroom/harmonyroom/internal/testutil"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*Handler, *mongo.Database, *oauthstate.Store) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	oauthStateStore := oauthstate.New(db)
	auditLogger := auditlog.New(audit.New(db), logger, auditlog.Config{Auth: "log"})

	sessionMgr, err := auth.NewSessionManager(
		"test-session-key-for-testing-1234567890",
		"test-session",
		"",
		24*time.Hour,
		false,
		logger,
	)
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}

	handler := NewHandler(
		db,
		sessionMgr,
		errorsfeature.NewErrorLogger(logger),
		auditLogger,
		oauthStateStore,
		"test-client-id",
		"test-client-secret",
		"http://localhost:8080",
		logger,
	)

	return handler, db, oauthStateStore
}

func TestNewHandler(t *testing.T) {
	h, _, _ := newTestHandler(t)
	if h == nil {
		t.Fatal("NewHandler() returned nil")
	}
}

func TestRoutes(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := Routes(h)
	if router == nil {
		t.Fatal("Routes() returned nil")
	}
}

func TestStartAuth_RedirectsToGoogle(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
	rec := httptest.NewRecorder()

	h.startAuth(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTemporaryRedirect)
	}

	location := rec.Header().Get("Location")
	if !strings.Contains(location, "accounts.google.com") {
		t.Errorf("Location = %q, want Google OAuth URL", location)
	}
	if !strings.Contains(location, "state=") {
		t.Errorf("Location = %q, want state parameter", location)
	}
}

func TestStartAuth_StoredStateVerifies(t *testing.T) {
	h, _, oauthStore := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
	rec := httptest.NewRecorder()

	h.startAuth(rec, req)

	loc, err := rec.Result().Location()
	if err != nil {
		t.Fatalf("no redirect location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("state parameter missing from redirect URL")
	}
	if !oauthStore.Verify(ctx, state) {
		t.Error("state from redirect URL should verify against the store")
	}
}

func TestCallback_InvalidState(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=invalid-state&code=test-code", nil)
	rec := httptest.NewRecorder()

	h.handleCallback(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}

	location := rec.Header().Get("Location")
	if !strings.Contains(location, "invalid_state") {
		t.Errorf("Location = %q, want to contain 'invalid_state'", location)
	}
}

func TestCallback_OAuthError(t *testing.T) {
	h, _, oauthStore := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	state := "test-valid-state-token"
	if err := oauthStore.Create(ctx, state); err != nil {
		t.Fatalf("failed to create state: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state="+state+"&error=access_denied", nil)
	rec := httptest.NewRecorder()

	h.handleCallback(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}

	location := rec.Header().Get("Location")
	if !strings.Contains(location, "access_denied") {
		t.Errorf("Location = %q, want to contain 'access_denied'", location)
	}
}

func TestCallback_NoCode(t *testing.T) {
	h, _, oauthStore := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	state := "test-valid-state-token"
	if err := oauthStore.Create(ctx, state); err != nil {
		t.Fatalf("failed to create state: %v", err)
	}

	// Valid state but no code: token exchange fails.
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state="+state, nil)
	rec := httptest.NewRecorder()

	h.handleCallback(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	location := rec.Header().Get("Location")
	if !strings.Contains(location, "auth_error=") {
		t.Errorf("Location = %q, want auth_error parameter", location)
	}
}

func TestGenerateState(t *testing.T) {
	state1, err := generateState()
	if err != nil {
		t.Fatalf("generateState() error: %v", err)
	}

	state2, err := generateState()
	if err != nil {
		t.Fatalf("generateState() error: %v", err)
	}

	if state1 == state2 {
		t.Error("generateState() should produce unique values")
	}

	// base64 URL encoding of 32 bytes is 44 chars
	if len(state1) != 44 {
		t.Errorf("len(state) = %d, want 44", len(state1))
	}
}
