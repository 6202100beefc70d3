// Package recording provides storage for lesson session recordings.
package recording

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

// Store provides access to the recordings collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new recording store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection("recordings"),
	}
}

// CreateInput contains the input for registering a completed recording.
type CreateInput struct {
	Name         string
	MeetingName  string
	GroupID      primitive.ObjectID
	Size         int64
	Duration     int64
	StoragePath  string
	LastModified time.Time
}

// Create registers a completed recording's metadata.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.Recording, error) {
	rec := models.Recording{
		ID:           primitive.NewObjectID(),
		Name:         input.Name,
		MeetingName:  input.MeetingName,
		GroupID:      input.GroupID,
		Size:         input.Size,
		Duration:     input.Duration,
		StoragePath:  input.StoragePath,
		LastModified: input.LastModified,
		CreatedAt:    time.Now(),
	}

	if _, err := s.c.InsertOne(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByID retrieves a recording by ID. Returns errs.ErrNotFound if absent.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Recording, error) {
	var rec models.Recording
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListByMeeting returns the recordings of one meeting, newest first.
func (s *Store) ListByMeeting(ctx context.Context, meetingName string) ([]models.Recording, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "last_modified", Value: -1}})
	cursor, err := s.c.Find(ctx, bson.M{"meeting_name": meetingName}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []models.Recording
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// DeleteByGroup deletes every recording row of a group (group teardown).
func (s *Store) DeleteByGroup(ctx context.Context, groupID primitive.ObjectID) error {
	_, err := s.c.DeleteMany(ctx, bson.M{"group_id": groupID})
	return err
}
