package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Folder represents a folder in a group's shared workspace.
//
// Folders within one group form an acyclic rooted forest: ParentID is nil
// for roots and otherwise references a folder in the same group. System
// folders (the platform-created group root) are never renamed, moved, or
// deleted by ordinary operations.
type Folder struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name        string              `bson:"name" json:"name"`
	NameCI      string              `bson:"name_ci" json:"-"` // Case-insensitive for sibling uniqueness and sorting
	GroupID     primitive.ObjectID  `bson:"group_id" json:"group_id"`
	ParentID    *primitive.ObjectID `bson:"parent_id,omitempty" json:"parent_id,omitempty"` // nil = root of the group
	IsSystem    bool                `bson:"is_system" json:"is_system"`
	CreatedByID primitive.ObjectID  `bson:"created_by_id" json:"created_by_id"`
	CreatedAt   time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `bson:"updated_at" json:"updated_at"`
}

// IsRoot returns true if the folder is at the root level of its group.
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}

// SystemRootName is the name of the system folder created with every group.
const SystemRootName = "Library"
