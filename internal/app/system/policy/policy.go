// Package policy is the single access gate for workspace mutations.
//
// Every mutation path in the workspace service calls through these
// predicates before taking effect; no handler or store mutates files or
// folders without them. The rules are deliberately small and total: a
// caller always gets a definitive yes or no.
package policy

import (
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CanEdit reports whether an actor with the given group role may mutate
// (rename, move, delete) a file.
//
// Teachers may edit any file in their group. Students may edit a file
// only when it is flagged editable AND they uploaded it themselves — the
// ownership rule applies uniformly to every file mutation endpoint.
func CanEdit(role models.Role, f *models.File, actorID primitive.ObjectID) bool {
	if role.IsTeacher() {
		return true
	}
	return f.IsEditable && f.UploadedByID == actorID
}

// CanUpload reports whether an actor may add a file to the group
// workspace. Both roles may upload; students' uploads remain governed by
// CanEdit afterwards.
func CanUpload(role models.Role) bool {
	return role.IsValid()
}

// CanOrganize reports whether an actor may create, rename, move, or
// delete a folder. Only teachers organize folders, and nobody mutates
// system folders.
func CanOrganize(role models.Role, f *models.Folder) bool {
	if f != nil && f.IsSystem {
		return false
	}
	return role.IsTeacher()
}
