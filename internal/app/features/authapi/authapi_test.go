package authapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harmonyroom/harmonyroom/internal/app/store/audit"
	"github.com/harmonyroom/harmonyroom/internal/app/store/ratelimit"
	userstore "github.com/harmonyroom/harmonyroom/internal/app/store/users"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auditlog"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
	"github.com/harmonyroom/harmonyroom/internal/app/system/authutil"
	"github.com/harmonyroom/harmonyroom/internal/app/system/status"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"github.com/harmonyroom/harmonyroom/internal/testutil"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const testPassword = "correct-horse-battery-staple"

func newTestHandler(t *testing.T, rateLimits *ratelimit.Store) (*Handler, http.Handler, *mongo.Database) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	sessionMgr, err := auth.NewSessionManager(
		"test-session-key-0123456789abcdef0123456789abcdef",
		"harmonyroom-session", "", time.Hour, false, logger)
	if err != nil {
		t.Fatalf("NewSessionManager() error: %v", err)
	}
	sessionMgr.SetUserFetcher(userstore.NewFetcher(db, logger))
	auditLogger := auditlog.New(audit.New(db), logger, auditlog.Config{Auth: "log"})
	h := NewHandler(db, sessionMgr, rateLimits, auditLogger, logger)
	return h, Routes(h), db
}

// seedPasswordUser creates an active password-auth user.
func seedPasswordUser(t *testing.T, db *mongo.Database, loginID string) models.User {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	hash, err := authutil.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	u, err := userstore.New(db).Create(ctx, models.User{
		FullName:     "Test Musician",
		LoginID:      &loginID,
		AuthMethod:   "password",
		PasswordHash: &hash,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return u
}

func postLogin(router http.Handler, loginID, password string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(loginRequest{LoginID: loginID, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLogin_Success(t *testing.T) {
	_, router, db := newTestHandler(t, nil)
	u := seedPasswordUser(t, db, "musician")

	rec := postLogin(router, "musician", testPassword)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp userResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != u.ID.Hex() || resp.LoginID != "musician" {
		t.Errorf("response = %+v", resp)
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Error("login should set a session cookie")
	}
}

func TestLogin_Failures(t *testing.T) {
	_, router, db := newTestHandler(t, nil)
	seedPasswordUser(t, db, "musician")

	// Unknown user and wrong password return the same message, so the
	// endpoint cannot be used to probe for accounts.
	unknown := postLogin(router, "nobody", testPassword)
	wrongPw := postLogin(router, "musician", "not-the-password")
	for name, rec := range map[string]*httptest.ResponseRecorder{"unknown user": unknown, "wrong password": wrongPw} {
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", name, rec.Code, http.StatusUnauthorized)
		}
	}
	if unknown.Body.String() != wrongPw.Body.String() {
		t.Errorf("failure bodies differ: %q vs %q", unknown.Body.String(), wrongPw.Body.String())
	}

	// Missing fields.
	if rec := postLogin(router, "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("empty credentials: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	_, router, db := newTestHandler(t, nil)
	u := seedPasswordUser(t, db, "musician")

	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := userstore.New(db).SetStatus(ctx, u.ID, status.Disabled); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}

	rec := postLogin(router, "musician", testPassword)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestLogin_GoogleAccountRejected(t *testing.T) {
	_, router, db := newTestHandler(t, nil)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	loginID := "g@example.com"
	if _, err := userstore.New(db).Create(ctx, models.User{
		FullName:   "Google Person",
		LoginID:    &loginID,
		Email:      &loginID,
		AuthMethod: "google",
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	rec := postLogin(router, loginID, testPassword)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	sessionMgr, err := auth.NewSessionManager(
		"test-session-key-0123456789abcdef0123456789abcdef",
		"harmonyroom-session", "", time.Hour, false, logger)
	if err != nil {
		t.Fatalf("NewSessionManager() error: %v", err)
	}
	auditLogger := auditlog.New(audit.New(db), logger, auditlog.Config{Auth: "log"})
	limits := ratelimit.New(db, 2, time.Minute, time.Minute)
	h := NewHandler(db, sessionMgr, limits, auditLogger, logger)
	router := Routes(h)

	seedPasswordUser(t, db, "musician")

	for i := 0; i < 2; i++ {
		if rec := postLogin(router, "musician", "bad-password"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d", i, rec.Code)
		}
	}
	if rec := postLogin(router, "musician", testPassword); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestMe(t *testing.T) {
	_, router, db := newTestHandler(t, nil)
	seedPasswordUser(t, db, "musician")

	// Unauthenticated.
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// Log in and replay the session cookie.
	login := postLogin(router, "musician", testPassword)
	if login.Code != http.StatusOK {
		t.Fatalf("login status = %d", login.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, c := range login.Result().Cookies() {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp userResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LoginID != "musician" {
		t.Errorf("login_id = %q, want %q", resp.LoginID, "musician")
	}
}

func TestLogout(t *testing.T) {
	_, router, db := newTestHandler(t, nil)
	seedPasswordUser(t, db, "musician")

	login := postLogin(router, "musician", testPassword)
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	for _, c := range login.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	// Logging out without a session is fine too.
	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("anonymous logout status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}
