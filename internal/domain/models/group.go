package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Group is a classroom: the tenancy boundary that owns members, folders,
// and files. Nothing in the data model crosses group boundaries.
type Group struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"name"`
	NameCI      string             `bson:"name_ci"` // Case-insensitive for sorting/search
	Description string             `bson:"description,omitempty"`
	CreatedByID primitive.ObjectID `bson:"created_by_id"`
	CreatedAt   time.Time          `bson:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at"`
}

// GroupMember is one user's membership in one group. A user has at most
// one membership row per group; the role is authoritative for that group
// only — the same user may be teacher in one group and student in another.
type GroupMember struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	GroupID   primitive.ObjectID `bson:"group_id"`
	UserID    primitive.ObjectID `bson:"user_id"`
	Role      Role               `bson:"role"`
	CreatedAt time.Time          `bson:"created_at"`
}

// MemberView is a membership row enriched with identity fields from the
// user directory. When the directory cannot be reached, Name and Email
// are empty and the bare UserID is all a caller gets.
type MemberView struct {
	ID        primitive.ObjectID `json:"id"`
	UserID    primitive.ObjectID `json:"user_id"`
	Role      Role               `json:"role"`
	Name      string             `json:"name,omitempty"`
	Email     string             `json:"email,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// GroupWithMembers is the read view of a group plus its members in
// insertion order (created_at ascending).
type GroupWithMembers struct {
	Group   Group
	Members []MemberView
}
