package member

import (
	"errors"
	"testing"

	"github.com/harmonyroom/harmonyroom/internal/domain/errs"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"github.com/harmonyroom/harmonyroom/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestAddAndGetRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	if _, err := store.Add(ctx, groupID, userID, models.RoleTeacher); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	role, err := store.GetRole(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("GetRole() error: %v", err)
	}
	if role != models.RoleTeacher {
		t.Errorf("role = %q, want %q", role, models.RoleTeacher)
	}
}

func TestAdd_Duplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	if _, err := store.Add(ctx, groupID, userID, models.RoleStudent); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := store.Add(ctx, groupID, userID, models.RoleTeacher); !errors.Is(err, errs.ErrDuplicateMember) {
		t.Errorf("second Add: err = %v, want ErrDuplicateMember", err)
	}

	// The original row is untouched.
	role, err := store.GetRole(ctx, groupID, userID)
	if err != nil {
		t.Fatalf("GetRole() error: %v", err)
	}
	if role != models.RoleStudent {
		t.Errorf("role = %q, want %q", role, models.RoleStudent)
	}
}

func TestGetRole_NotAMember(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.GetRole(ctx, primitive.NewObjectID(), primitive.NewObjectID()); !errors.Is(err, errs.ErrNotAMember) {
		t.Errorf("err = %v, want ErrNotAMember", err)
	}
}

func TestChangeRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	if _, err := store.Add(ctx, groupID, userID, models.RoleStudent); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if err := store.ChangeRole(ctx, groupID, userID, models.RoleTeacher); err != nil {
		t.Fatalf("ChangeRole() error: %v", err)
	}
	role, _ := store.GetRole(ctx, groupID, userID)
	if role != models.RoleTeacher {
		t.Errorf("role = %q, want %q", role, models.RoleTeacher)
	}

	// Idempotent: setting the same role again succeeds.
	if err := store.ChangeRole(ctx, groupID, userID, models.RoleTeacher); err != nil {
		t.Errorf("repeat ChangeRole() error: %v", err)
	}

	if err := store.ChangeRole(ctx, groupID, primitive.NewObjectID(), models.RoleTeacher); !errors.Is(err, errs.ErrNotAMember) {
		t.Errorf("ChangeRole for non-member: err = %v, want ErrNotAMember", err)
	}
}

func TestRemove(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	if _, err := store.Add(ctx, groupID, userID, models.RoleStudent); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := store.Remove(ctx, groupID, userID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := store.Remove(ctx, groupID, userID); !errors.Is(err, errs.ErrNotAMember) {
		t.Errorf("second Remove: err = %v, want ErrNotAMember", err)
	}
}

func TestListByGroupAndUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupA := primitive.NewObjectID()
	groupB := primitive.NewObjectID()
	user1 := primitive.NewObjectID()
	user2 := primitive.NewObjectID()

	if _, err := store.Add(ctx, groupA, user1, models.RoleTeacher); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := store.Add(ctx, groupA, user2, models.RoleStudent); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := store.Add(ctx, groupB, user1, models.RoleStudent); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	members, err := store.ListByGroup(ctx, groupA)
	if err != nil {
		t.Fatalf("ListByGroup() error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("group A members = %d, want 2", len(members))
	}
	// Insertion order.
	if members[0].UserID != user1 || members[1].UserID != user2 {
		t.Error("ListByGroup should be in insertion order")
	}

	mine, err := store.ListByUser(ctx, user1)
	if err != nil {
		t.Fatalf("ListByUser() error: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("user1 memberships = %d, want 2", len(mine))
	}
}

func TestRemoveByGroup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupA := primitive.NewObjectID()
	groupB := primitive.NewObjectID()
	user := primitive.NewObjectID()

	if _, err := store.Add(ctx, groupA, user, models.RoleTeacher); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := store.Add(ctx, groupB, user, models.RoleTeacher); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if err := store.RemoveByGroup(ctx, groupA); err != nil {
		t.Fatalf("RemoveByGroup() error: %v", err)
	}

	if _, err := store.GetRole(ctx, groupA, user); !errors.Is(err, errs.ErrNotAMember) {
		t.Errorf("group A membership should be gone")
	}
	if _, err := store.GetRole(ctx, groupB, user); err != nil {
		t.Errorf("group B membership should survive: %v", err)
	}
}
