package folder

import (
	"errors"
	"testing"

	"github.com/harmonyroom/harmonyroom/internal/domain/errs"
	"github.com/harmonyroom/harmonyroom/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCreate_SiblingUniqueness(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	creator := primitive.NewObjectID()

	if _, err := store.Create(ctx, CreateInput{Name: "Scales", GroupID: groupID, CreatedByID: creator}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Case variant of a sibling collides on the unique index.
	if _, err := store.Create(ctx, CreateInput{Name: "SCALES", GroupID: groupID, CreatedByID: creator}); !errors.Is(err, errs.ErrNameConflict) {
		t.Errorf("case-variant sibling: err = %v, want ErrNameConflict", err)
	}

	// Same name in another group is fine.
	if _, err := store.Create(ctx, CreateInput{Name: "Scales", GroupID: primitive.NewObjectID(), CreatedByID: creator}); err != nil {
		t.Errorf("same name in other group: err = %v, want nil", err)
	}
}

func TestRename_Conflict(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	creator := primitive.NewObjectID()

	if _, err := store.Create(ctx, CreateInput{Name: "a", GroupID: groupID, CreatedByID: creator}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	b, err := store.Create(ctx, CreateInput{Name: "b", GroupID: groupID, CreatedByID: creator})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := store.Rename(ctx, b.ID, "A"); !errors.Is(err, errs.ErrNameConflict) {
		t.Errorf("rename onto sibling: err = %v, want ErrNameConflict", err)
	}
	if err := store.Rename(ctx, b.ID, "c"); err != nil {
		t.Errorf("rename to fresh name: %v", err)
	}
	got, err := store.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Name != "c" {
		t.Errorf("name = %q, want %q", got.Name, "c")
	}
}

func TestSetParent_RootRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	creator := primitive.NewObjectID()

	parent, err := store.Create(ctx, CreateInput{Name: "parent", GroupID: groupID, CreatedByID: creator})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	child, err := store.Create(ctx, CreateInput{Name: "child", GroupID: groupID, ParentID: &parent.ID, CreatedByID: creator})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Move to root: parent_id is unset, not null, so the root filter
	// keeps matching.
	if err := store.SetParent(ctx, child.ID, nil); err != nil {
		t.Fatalf("SetParent(nil) error: %v", err)
	}
	roots, err := store.ListByParent(ctx, groupID, nil)
	if err != nil {
		t.Fatalf("ListByParent(nil) error: %v", err)
	}
	if len(roots) != 2 {
		t.Errorf("root folders = %d, want 2", len(roots))
	}

	// And back under the parent.
	if err := store.SetParent(ctx, child.ID, &parent.ID); err != nil {
		t.Fatalf("SetParent(parent) error: %v", err)
	}
	children, err := store.ListByParent(ctx, groupID, &parent.ID)
	if err != nil {
		t.Fatalf("ListByParent(parent) error: %v", err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Errorf("children = %+v", children)
	}
}

func TestNameExistsInParent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	creator := primitive.NewObjectID()

	f, err := store.Create(ctx, CreateInput{Name: "Études", GroupID: groupID, CreatedByID: creator})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Diacritic-insensitive match via text.Fold.
	exists, err := store.NameExistsInParent(ctx, groupID, nil, "etudes", nil)
	if err != nil {
		t.Fatalf("NameExistsInParent() error: %v", err)
	}
	if !exists {
		t.Error("folded name should match existing sibling")
	}

	// Excluding the folder itself (rename case).
	exists, err = store.NameExistsInParent(ctx, groupID, nil, "Études", &f.ID)
	if err != nil {
		t.Fatalf("NameExistsInParent() error: %v", err)
	}
	if exists {
		t.Error("folder should not conflict with itself")
	}
}

func TestCountAndDeleteByIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupID := primitive.NewObjectID()
	creator := primitive.NewObjectID()

	parent, err := store.Create(ctx, CreateInput{Name: "p", GroupID: groupID, CreatedByID: creator})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	c1, _ := store.Create(ctx, CreateInput{Name: "c1", GroupID: groupID, ParentID: &parent.ID, CreatedByID: creator})
	c2, _ := store.Create(ctx, CreateInput{Name: "c2", GroupID: groupID, ParentID: &parent.ID, CreatedByID: creator})

	n, err := store.CountByParent(ctx, groupID, &parent.ID)
	if err != nil {
		t.Fatalf("CountByParent() error: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	if err := store.DeleteByIDs(ctx, []primitive.ObjectID{c1.ID, c2.ID}); err != nil {
		t.Fatalf("DeleteByIDs() error: %v", err)
	}
	n, _ = store.CountByParent(ctx, groupID, &parent.ID)
	if n != 0 {
		t.Errorf("count after delete = %d, want 0", n)
	}
}

func TestDeleteByGroup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	groupA := primitive.NewObjectID()
	groupB := primitive.NewObjectID()
	creator := primitive.NewObjectID()

	if _, err := store.Create(ctx, CreateInput{Name: "a", GroupID: groupA, CreatedByID: creator}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := store.Create(ctx, CreateInput{Name: "b", GroupID: groupB, CreatedByID: creator}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := store.DeleteByGroup(ctx, groupA); err != nil {
		t.Fatalf("DeleteByGroup() error: %v", err)
	}

	remainingA, _ := store.ListByGroup(ctx, groupA)
	remainingB, _ := store.ListByGroup(ctx, groupB)
	if len(remainingA) != 0 {
		t.Errorf("group A folders = %d, want 0", len(remainingA))
	}
	if len(remainingB) != 1 {
		t.Errorf("group B folders = %d, want 1", len(remainingB))
	}
}
