package groupsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dalemusser/waffle/pantry/storage"
	"github.com/go-chi/chi/v5"
	"github.com/harmonyroom/harmonyroom/internal/app/store/audit"
	memberstore "github.com/harmonyroom/harmonyroom/internal/app/store/member"
	userstore "github.com/harmonyroom/harmonyroom/internal/app/store/users"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auditlog"
	"github.com/harmonyroom/harmonyroom/internal/app/system/userdir"
	"github.com/harmonyroom/harmonyroom/internal/app/workspace"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"github.com/harmonyroom/harmonyroom/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (m *memBlobStore) Put(_ context.Context, path string, r io.Reader, _ *storage.PutOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = data
	return nil
}

func (m *memBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return io.NopCloser(bytes.NewReader(m.blobs[path])), nil
}

func (m *memBlobStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, path)
	return nil
}

func (m *memBlobStore) URL(path string) string { return "/blobs/" + path }

func newTestHandler(t *testing.T) (*Handler, *mongo.Database) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	ws := workspace.New(db, newMemBlobStore(), logger)
	directory := userdir.New(userstore.New(db), logger)
	auditLogger := auditlog.New(audit.New(db), logger, auditlog.Config{Group: "log"})

	return NewHandler(db, ws, directory, auditLogger, logger), db
}

// newTestRouter wires the handler's endpoints without the session
// middleware; tests inject users via testutil.WithUser.
func newTestRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreateGroup)
	r.Get("/", h.handleListGroups)
	r.Route("/{groupID}", func(gr chi.Router) {
		gr.Get("/", h.handleGetGroup)
		gr.Patch("/", h.handleUpdateGroup)
		gr.Delete("/", h.handleDeleteGroup)
		gr.Route("/members", func(mr chi.Router) {
			mr.Get("/", h.handleListMembers)
			mr.Post("/", h.handleAddMember)
			mr.Patch("/{userID}", h.handleChangeRole)
			mr.Delete("/{userID}", h.handleRemoveMember)
		})
	})
	return r
}

func jsonRequest(method, target string, payload any, user testutil.TestUser) *http.Request {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return testutil.WithUser(req, user)
}

func mustObjectID(t *testing.T, hex string) primitive.ObjectID {
	t.Helper()
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		t.Fatalf("bad object ID %q: %v", hex, err)
	}
	return id
}

// createGroup drives the real create endpoint and returns the new group ID.
func createGroup(t *testing.T, router chi.Router, user testutil.TestUser, name string) primitive.ObjectID {
	t.Helper()
	req := jsonRequest(http.MethodPost, "/", map[string]string{"name": name}, user)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create group status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp groupResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return mustObjectID(t, resp.ID)
}

func TestCreateGroup(t *testing.T) {
	h, db := newTestHandler(t)
	router := newTestRouter(h)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	creator := testutil.MemberUser()
	req := jsonRequest(http.MethodPost, "/", map[string]string{
		"name":        "Jazz Ensemble",
		"description": `<p>Weekly</p><script>alert(1)</script>`,
	}, creator)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp groupResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Name != "Jazz Ensemble" || resp.MyRole != string(models.RoleTeacher) {
		t.Errorf("response = %+v", resp)
	}
	if strings.Contains(resp.Description, "<script") {
		t.Errorf("description not sanitized: %q", resp.Description)
	}
	if !strings.Contains(resp.Description, "<p>Weekly</p>") {
		t.Errorf("safe markup should survive: %q", resp.Description)
	}

	groupID := mustObjectID(t, resp.ID)
	creatorID := mustObjectID(t, creator.ID)

	// The creator is enrolled as teacher.
	role, err := memberstore.New(db).GetRole(ctx, groupID, creatorID)
	if err != nil || role != models.RoleTeacher {
		t.Errorf("creator role = %q, err %v", role, err)
	}

	// The system root folder is seeded.
	tree, err := h.workspace.Tree(ctx, groupID)
	if err != nil {
		t.Fatalf("Tree() error: %v", err)
	}
	if len(tree.Folders) != 1 || tree.Folders[0].Folder.Name != models.SystemRootName || !tree.Folders[0].Folder.IsSystem {
		t.Errorf("tree roots = %+v", tree.Folders)
	}
}

func TestCreateGroup_MissingName(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	req := jsonRequest(http.MethodPost, "/", map[string]string{"name": "   "}, testutil.MemberUser())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestListGroups(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	alice := testutil.MemberUser()
	bob := testutil.MemberUser()
	createGroup(t, router, alice, "Alice Studio")
	createGroup(t, router, bob, "Bob Studio")

	// A member only sees their own groups, with their role attached.
	req := testutil.NewAuthenticatedRequest(http.MethodGet, "/", alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var mine []groupResponse
	if err := json.NewDecoder(rec.Body).Decode(&mine); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(mine) != 1 || mine[0].Name != "Alice Studio" || mine[0].MyRole != string(models.RoleTeacher) {
		t.Errorf("alice's groups = %+v", mine)
	}

	// Platform admins see every group.
	req = testutil.NewAuthenticatedRequest(http.MethodGet, "/", testutil.AdminUser())
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var all []groupResponse
	if err := json.NewDecoder(rec.Body).Decode(&all); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("admin sees %d groups, want 2", len(all))
	}
}

func TestGetGroup_NonMemberForbidden(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	groupID := createGroup(t, router, testutil.MemberUser(), "Private Studio")

	req := testutil.NewAuthenticatedRequest(http.MethodGet, "/"+groupID.Hex(), testutil.MemberUser())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestUpdateGroup(t *testing.T) {
	h, db := newTestHandler(t)
	router := newTestRouter(h)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	teacher := testutil.MemberUser()
	groupID := createGroup(t, router, teacher, "Old Name")

	// Students may not update.
	student := testutil.MemberUser()
	if _, err := memberstore.New(db).Add(ctx, groupID, mustObjectID(t, student.ID), models.RoleStudent); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	req := jsonRequest(http.MethodPatch, "/"+groupID.Hex(), map[string]string{"name": "Hijacked"}, student)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("student update status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	// The teacher renames the group.
	req = jsonRequest(http.MethodPatch, "/"+groupID.Hex(), map[string]string{"name": "New Name"}, teacher)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp groupResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Name != "New Name" {
		t.Errorf("name = %q, want %q", resp.Name, "New Name")
	}

	// An empty patch is rejected.
	req = jsonRequest(http.MethodPatch, "/"+groupID.Hex(), map[string]string{}, teacher)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDeleteGroup(t *testing.T) {
	h, db := newTestHandler(t)
	router := newTestRouter(h)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	teacher := testutil.MemberUser()
	groupID := createGroup(t, router, teacher, "Doomed Studio")

	req := testutil.NewAuthenticatedRequest(http.MethodDelete, "/"+groupID.Hex(), teacher)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Group row, memberships, and workspace contents are gone.
	if _, err := h.groups.GetByID(ctx, groupID); err == nil {
		t.Error("group row should be deleted")
	}
	members, _ := memberstore.New(db).ListByGroup(ctx, groupID)
	if len(members) != 0 {
		t.Errorf("members = %d, want 0", len(members))
	}
	tree, err := h.workspace.Tree(ctx, groupID)
	if err != nil {
		t.Fatalf("Tree() error: %v", err)
	}
	if len(tree.Folders) != 0 || len(tree.Files) != 0 {
		t.Error("workspace contents should be deleted")
	}
}

func TestAddMember(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	teacher := testutil.MemberUser()
	groupID := createGroup(t, router, teacher, "Choir")
	newUserID := primitive.NewObjectID()

	req := jsonRequest(http.MethodPost, "/"+groupID.Hex()+"/members", map[string]string{
		"user_id": newUserID.Hex(),
		"role":    "student",
	}, teacher)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Enrolling the same user again conflicts.
	req = jsonRequest(http.MethodPost, "/"+groupID.Hex()+"/members", map[string]string{
		"user_id": newUserID.Hex(),
		"role":    "teacher",
	}, teacher)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want %d", rec.Code, http.StatusConflict)
	}

	// Unknown roles are rejected.
	req = jsonRequest(http.MethodPost, "/"+groupID.Hex()+"/members", map[string]string{
		"user_id": primitive.NewObjectID().Hex(),
		"role":    "webinar_presenter",
	}, teacher)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad role status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestChangeRole_NotAMember(t *testing.T) {
	h, _ := newTestHandler(t)
	router := newTestRouter(h)

	teacher := testutil.MemberUser()
	groupID := createGroup(t, router, teacher, "Band")

	req := jsonRequest(http.MethodPatch, "/"+groupID.Hex()+"/members/"+primitive.NewObjectID().Hex(),
		map[string]string{"role": "teacher"}, teacher)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRemoveMember(t *testing.T) {
	h, db := newTestHandler(t)
	router := newTestRouter(h)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	teacher := testutil.MemberUser()
	groupID := createGroup(t, router, teacher, "Orchestra")

	students := memberstore.New(db)
	alice := testutil.MemberUser()
	bob := testutil.MemberUser()
	for _, u := range []testutil.TestUser{alice, bob} {
		if _, err := students.Add(ctx, groupID, mustObjectID(t, u.ID), models.RoleStudent); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}

	// A student may not remove someone else.
	req := testutil.NewAuthenticatedRequest(http.MethodDelete, "/"+groupID.Hex()+"/members/"+bob.ID, alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("student removing other: status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	// A student may leave the group.
	req = testutil.NewAuthenticatedRequest(http.MethodDelete, "/"+groupID.Hex()+"/members/"+alice.ID, alice)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("self removal: status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	// A teacher removes anyone.
	req = testutil.NewAuthenticatedRequest(http.MethodDelete, "/"+groupID.Hex()+"/members/"+bob.ID, teacher)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("teacher removal: status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	if _, err := students.GetRole(ctx, groupID, mustObjectID(t, bob.ID)); err == nil {
		t.Error("bob should no longer be a member")
	}
}
