// internal/domain/models/user.go
package models

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - LoginID / loginID / login_id: The human-readable string users type to log in

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents a platform account.
//
// PlatformRole gates platform administration only (creating groups,
// seeding). It is unrelated to group roles: whether a user is teacher or
// student is decided per group by their GroupMember row, or per live
// session by the room preset.
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName   string             `bson:"full_name" json:"full_name"`
	FullNameCI string             `bson:"full_name_ci" json:"full_name_ci"` // lowercase, diacritics-stripped

	// Authentication fields
	LoginID   *string `bson:"login_id" json:"login_id"`       // User identifier (lowercase)
	LoginIDCI *string `bson:"login_id_ci" json:"login_id_ci"` // Folded for case/diacritic-insensitive matching
	Email     *string `bson:"email" json:"email"`             // Contact email (lowercase, optional)
	AuthMethod string `bson:"auth_method" json:"auth_method"` // password, google

	// Password auth fields
	PasswordHash *string `bson:"password_hash,omitempty" json:"-"` // bcrypt hash (never in JSON)

	// Platform role and status
	PlatformRole string `bson:"platform_role" json:"platform_role"`       // admin, member
	Status       string `bson:"status,omitempty" json:"status,omitempty"` // active, disabled

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Platform roles
const (
	PlatformAdmin  = "admin"
	PlatformMember = "member"
)

// IsValidPlatformRole checks if a platform role is valid.
func IsValidPlatformRole(role string) bool {
	return role == PlatformAdmin || role == PlatformMember
}
