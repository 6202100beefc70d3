// Package member provides storage for group memberships.
package member

import (
	"context"
	"errors"
	"time"

	"github.com/harmonyroom/harmonyroom/internal/domain/errs"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store provides access to the group_members collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new membership store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection("group_members"),
	}
}

// Add inserts a membership row. The unique (group_id, user_id) index
// guarantees at most one row per pair; a second insert — including one
// racing a concurrent request — returns errs.ErrDuplicateMember.
func (s *Store) Add(ctx context.Context, groupID, userID primitive.ObjectID, role models.Role) (*models.GroupMember, error) {
	m := models.GroupMember{
		ID:        primitive.NewObjectID(),
		GroupID:   groupID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now(),
	}

	if _, err := s.c.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrDuplicateMember
		}
		return nil, err
	}
	return &m, nil
}

// GetRole looks up the unique membership row for (group, user).
// Returns errs.ErrNotAMember when no row exists.
func (s *Store) GetRole(ctx context.Context, groupID, userID primitive.ObjectID) (models.Role, error) {
	var m models.GroupMember
	err := s.c.FindOne(ctx, bson.M{"group_id": groupID, "user_id": userID}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", errs.ErrNotAMember
		}
		return "", err
	}
	return m.Role, nil
}

// ListByGroup returns all members of a group in insertion order
// (created_at ascending).
func (s *Store) ListByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.GroupMember, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.c.Find(ctx, bson.M{"group_id": groupID}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var members []models.GroupMember
	if err := cursor.All(ctx, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// ListByUser returns all memberships of a user across groups.
func (s *Store) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.GroupMember, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.c.Find(ctx, bson.M{"user_id": userID}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var members []models.GroupMember
	if err := cursor.All(ctx, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// ChangeRole sets a member's role. Idempotent: setting the role a member
// already has is a no-op. Returns errs.ErrNotAMember when no row exists.
func (s *Store) ChangeRole(ctx context.Context, groupID, userID primitive.ObjectID, newRole models.Role) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"group_id": groupID, "user_id": userID},
		bson.M{"$set": bson.M{"role": newRole}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotAMember
	}
	return nil
}

// Remove deletes a membership row. Returns errs.ErrNotAMember when no
// row exists.
func (s *Store) Remove(ctx context.Context, groupID, userID primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"group_id": groupID, "user_id": userID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return errs.ErrNotAMember
	}
	return nil
}

// RemoveByGroup deletes every membership row of a group (group teardown).
func (s *Store) RemoveByGroup(ctx context.Context, groupID primitive.ObjectID) error {
	_, err := s.c.DeleteMany(ctx, bson.M{"group_id": groupID})
	return err
}
