package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Recording is the media artifact of a completed lesson session.
//
// Recordings are listed per meeting and are not part of the folder
// hierarchy. StoragePath is the opaque blob handle; RecordingView is the
// flattened read shape returned to callers with a URL resolved per read.
type Recording struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Name         string             `bson:"name"`
	MeetingName  string             `bson:"meeting_name"`
	GroupID      primitive.ObjectID `bson:"group_id"`
	Size         int64              `bson:"size"`
	Duration     int64              `bson:"duration"` // Seconds
	StoragePath  string             `bson:"storage_path"`
	LastModified time.Time          `bson:"last_modified"`
	CreatedAt    time.Time          `bson:"created_at"`
}

// RecordingView is the read-only shape handed to API callers.
type RecordingView struct {
	ID           primitive.ObjectID `json:"id"`
	Name         string             `json:"name"`
	MeetingName  string             `json:"meeting_name"`
	Size         int64              `json:"size"`
	Duration     int64              `json:"duration"`
	LastModified time.Time          `json:"last_modified"`
	URL          string             `json:"url"`
}
