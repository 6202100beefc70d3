package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// File represents file metadata in a group's shared workspace.
//
// StoragePath is an opaque handle into the blob storage backend and is
// never exposed to clients; callers receive a resolved URL instead
// (see FileWithURL). FolderID, when set, must reference a folder in the
// same group; nil means the file sits at the root of the group.
type File struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name         string              `bson:"name" json:"name"`  // Original filename
	NameCI       string              `bson:"name_ci" json:"-"`  // Case-insensitive for sibling uniqueness and sorting
	ContentType  string              `bson:"content_type" json:"content_type"`
	Size         int64               `bson:"size" json:"size"` // File size in bytes
	StoragePath  string              `bson:"storage_path" json:"-"`
	GroupID      primitive.ObjectID  `bson:"group_id" json:"group_id"`
	FolderID     *primitive.ObjectID `bson:"folder_id,omitempty" json:"folder_id,omitempty"` // nil = root of the group
	UploadedByID primitive.ObjectID  `bson:"uploaded_by_id" json:"uploaded_by_id"`
	IsEditable   bool                `bson:"is_editable" json:"is_editable"`
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `bson:"updated_at" json:"updated_at"`
}

// IsInRoot returns true if the file is at the root level (not in any folder).
func (f *File) IsInRoot() bool {
	return f.FolderID == nil
}

// FileWithURL is a File plus an access URL resolved at read time. The URL
// is computed per read from the blob storage backend and never persisted.
type FileWithURL struct {
	File
	URL string `json:"url"`
}
