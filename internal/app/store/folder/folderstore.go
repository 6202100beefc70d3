// Package folder provides storage for workspace folders.
package folder

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/waffle/pantry/text"
	"github.com/harmonyroom/harmonyroom/internal/domain/errs"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store provides access to the folders collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new folder store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection("folders"),
	}
}

// CreateInput contains the input for creating a folder.
type CreateInput struct {
	Name        string
	GroupID     primitive.ObjectID
	ParentID    *primitive.ObjectID
	IsSystem    bool
	CreatedByID primitive.ObjectID
}

// Create inserts a new folder row.
//
// The unique (group_id, parent_id, name_ci) index is the authority on
// sibling-name uniqueness: when two concurrent creates race, exactly one
// insert wins and the other returns errs.ErrNameConflict.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.Folder, error) {
	now := time.Now()
	f := models.Folder{
		ID:          primitive.NewObjectID(),
		Name:        input.Name,
		NameCI:      text.Fold(input.Name),
		GroupID:     input.GroupID,
		ParentID:    input.ParentID,
		IsSystem:    input.IsSystem,
		CreatedByID: input.CreatedByID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.c.InsertOne(ctx, f); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrNameConflict
		}
		return nil, err
	}

	return &f, nil
}

// GetByID retrieves a folder by ID. Returns errs.ErrNotFound if absent.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Folder, error) {
	var f models.Folder
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&f); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// Rename updates a folder's name. The unique sibling index surfaces
// conflicts as errs.ErrNameConflict.
func (s *Store) Rename(ctx context.Context, id primitive.ObjectID, name string) error {
	set := bson.M{
		"name":       name,
		"name_ci":    text.Fold(name),
		"updated_at": time.Now(),
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if mongo.IsDuplicateKeyError(err) {
		return errs.ErrNameConflict
	}
	return err
}

// SetParent reparents a folder. Hierarchy validation (cycle detection,
// cross-group, depth) is the caller's job; this is the raw row update.
func (s *Store) SetParent(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error {
	if parentID == nil {
		// Unset rather than store an explicit null so the sibling filter
		// treats roots consistently.
		_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
			"$set":   bson.M{"updated_at": time.Now()},
			"$unset": bson.M{"parent_id": ""},
		})
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrNameConflict
		}
		return err
	}

	set := bson.M{
		"parent_id":  *parentID,
		"updated_at": time.Now(),
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if mongo.IsDuplicateKeyError(err) {
		return errs.ErrNameConflict
	}
	return err
}

// Delete deletes a folder row.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// DeleteByIDs deletes many folder rows at once (recursive subtree delete).
func (s *Store) DeleteByIDs(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.c.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

// DeleteByGroup deletes every folder row of a group (group teardown).
func (s *Store) DeleteByGroup(ctx context.Context, groupID primitive.ObjectID) error {
	_, err := s.c.DeleteMany(ctx, bson.M{"group_id": groupID})
	return err
}

// ListByGroup returns every folder of a group in one query, sorted by
// name. Tree building runs off this single pass rather than repeated
// per-parent lookups.
func (s *Store) ListByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.Folder, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "name_ci", Value: 1}})
	cursor, err := s.c.Find(ctx, bson.M{"group_id": groupID}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var folders []models.Folder
	if err := cursor.All(ctx, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// ListByParent returns the folders directly under a parent within a group.
// Pass nil for parentID to list the group's root folders.
func (s *Store) ListByParent(ctx context.Context, groupID primitive.ObjectID, parentID *primitive.ObjectID) ([]models.Folder, error) {
	filter := parentFilter(groupID, parentID)
	findOpts := options.Find().SetSort(bson.D{{Key: "name_ci", Value: 1}})

	cursor, err := s.c.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var folders []models.Folder
	if err := cursor.All(ctx, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// CountByParent returns the number of folders directly under a parent.
func (s *Store) CountByParent(ctx context.Context, groupID primitive.ObjectID, parentID *primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, parentFilter(groupID, parentID))
}

// NameExistsInParent checks if a sibling with the given name exists.
// Pass excludeID to exclude a specific folder (useful for renames).
func (s *Store) NameExistsInParent(ctx context.Context, groupID primitive.ObjectID, parentID *primitive.ObjectID, name string, excludeID *primitive.ObjectID) (bool, error) {
	filter := parentFilter(groupID, parentID)
	filter["name_ci"] = text.Fold(name)
	if excludeID != nil {
		filter["_id"] = bson.M{"$ne": *excludeID}
	}

	count, err := s.c.CountDocuments(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func parentFilter(groupID primitive.ObjectID, parentID *primitive.ObjectID) bson.M {
	filter := bson.M{"group_id": groupID}
	if parentID == nil {
		filter["parent_id"] = bson.M{"$exists": false}
	} else {
		filter["parent_id"] = *parentID
	}
	return filter
}
