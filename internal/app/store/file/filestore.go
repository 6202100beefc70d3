// Package file provides storage for file metadata.
package file

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

// Store provides access to the files collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new file store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection("files"),
	}
}

// CreateInput contains the input for creating a file record.
type CreateInput struct {
	Name         string
	ContentType  string
	Size         int64
	StoragePath  string
	GroupID      primitive.ObjectID
	FolderID     *primitive.ObjectID
	UploadedByID primitive.ObjectID
	IsEditable   bool
}

// Create inserts a file metadata row. This is the authoritative commit of
// an upload: the blob must already be durably stored under StoragePath.
// Sibling-name collisions surface as errs.ErrNameConflict via the unique
// (group_id, folder_id, name_ci) index.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.File, error) {
	now := time.Now()
	f := models.File{
		ID:           primitive.NewObjectID(),
		Name:         input.Name,
		NameCI:       text.Fold(input.Name),
		ContentType:  input.ContentType,
		Size:         input.Size,
		StoragePath:  input.StoragePath,
		GroupID:      input.GroupID,
		FolderID:     input.FolderID,
		UploadedByID: input.UploadedByID,
		IsEditable:   input.IsEditable,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.c.InsertOne(ctx, f); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrNameConflict
		}
		return nil, err
	}

	return &f, nil
}

// GetByID retrieves a file by ID. Returns errs.ErrNotFound if absent.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.File, error) {
	var f models.File
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&f); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// Rename updates a file's name; conflicts surface as errs.ErrNameConflict.
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

// SetFolder moves a file to another folder (nil = group root). Group
// validation is the caller's job.
func (s *Store) SetFolder(ctx context.Context, id primitive.ObjectID, folderID *primitive.ObjectID) error {
	if folderID == nil {
		_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
			"$set":   bson.M{"updated_at": time.Now()},
			"$unset": bson.M{"folder_id": ""},
		})
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrNameConflict
		}
		return err
	}

	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"folder_id":  *folderID,
		"updated_at": time.Now(),
	}})
	if mongo.IsDuplicateKeyError(err) {
		return errs.ErrNameConflict
	}
	return err
}

// Delete deletes a file metadata row. This is the authoritative step of
// file deletion; blob cleanup is best-effort and happens after.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// DeleteByFolderIDs deletes all files contained in the given folders.
func (s *Store) DeleteByFolderIDs(ctx context.Context, groupID primitive.ObjectID, folderIDs []primitive.ObjectID) error {
	if len(folderIDs) == 0 {
		return nil
	}
	_, err := s.c.DeleteMany(ctx, bson.M{
		"group_id":  groupID,
		"folder_id": bson.M{"$in": folderIDs},
	})
	return err
}

// DeleteByGroup deletes every file row of a group (group teardown).
func (s *Store) DeleteByGroup(ctx context.Context, groupID primitive.ObjectID) error {
	_, err := s.c.DeleteMany(ctx, bson.M{"group_id": groupID})
	return err
}

// ListByFolder returns the files directly under a folder (non-recursive).
// Pass nil for folderID to list the group's root-level files.
func (s *Store) ListByFolder(ctx context.Context, groupID primitive.ObjectID, folderID *primitive.ObjectID) ([]models.File, error) {
	filter := folderFilter(groupID, folderID)
	findOpts := options.Find().SetSort(bson.D{{Key: "name_ci", Value: 1}})

	cursor, err := s.c.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var files []models.File
	if err := cursor.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// ListByGroup returns every file of a group in one query (tree building).
func (s *Store) ListByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.File, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "name_ci", Value: 1}})
	cursor, err := s.c.Find(ctx, bson.M{"group_id": groupID}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var files []models.File
	if err := cursor.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// CountByFolder returns the number of files directly under a folder.
func (s *Store) CountByFolder(ctx context.Context, groupID primitive.ObjectID, folderID *primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, folderFilter(groupID, folderID))
}

func folderFilter(groupID primitive.ObjectID, folderID *primitive.ObjectID) bson.M {
	filter := bson.M{"group_id": groupID}
	if folderID == nil {
		filter["folder_id"] = bson.M{"$exists": false}
	} else {
		filter["folder_id"] = *folderID
	}
	return filter
}
