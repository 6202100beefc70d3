// Package errs defines the error taxonomy shared by the membership,
// hierarchy, and registry operations.
//
// Operations return one of these sentinels (possibly wrapped with
// context via fmt.Errorf and %w); callers classify with errors.Is and
// must never coerce an error into a default value.
package errs

import "errors"

// Entity lookups.
var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotAMember means the user has no membership row in the group.
	ErrNotAMember = errors.New("not a member of this group")

	// ErrDuplicateMember means a membership row for (group, user) already exists.
	ErrDuplicateMember = errors.New("user is already a member of this group")
)

// Policy gate.
var (
	// ErrPermissionDenied means the access policy rejected the operation.
	ErrPermissionDenied = errors.New("permission denied")
)

// Hierarchy invariants.
var (
	// ErrInvalidParent means the requested parent folder is missing,
	// belongs to a different group, or the placement would exceed the
	// maximum folder depth.
	ErrInvalidParent = errors.New("invalid parent folder")

	// ErrInvalidFolder means the requested folder is missing or belongs
	// to a different group.
	ErrInvalidFolder = errors.New("invalid folder")

	// ErrCycleDetected means a move would make a folder its own ancestor.
	ErrCycleDetected = errors.New("move would create a cycle")

	// ErrCrossGroupMove means a move would cross a group boundary.
	ErrCrossGroupMove = errors.New("cannot move across groups")

	// ErrHierarchyCorrupt means an ancestor walk failed to reach a root
	// within the depth bound. The operation fails closed rather than
	// silently repairing.
	ErrHierarchyCorrupt = errors.New("folder hierarchy is corrupt")

	// ErrFolderNotEmpty means a non-recursive delete hit a folder that
	// still contains sub-folders or files.
	ErrFolderNotEmpty = errors.New("folder is not empty")

	// ErrSystemFolderImmutable means the operation targeted a system
	// folder, which cannot be renamed, moved, or deleted.
	ErrSystemFolderImmutable = errors.New("system folders cannot be modified")
)

// Naming.
var (
	// ErrNameConflict means a sibling with the same (case-insensitive)
	// name already exists under the target parent.
	ErrNameConflict = errors.New("an item with this name already exists here")
)

// Collaborators.
var (
	// ErrExternalDependency means a blob-storage, user-directory, or
	// provider call failed or timed out.
	ErrExternalDependency = errors.New("external dependency failure")
)

// IsInvalidHierarchy reports whether err is any of the hierarchy
// invariant violations (cycle, cross-group, bad parent, depth/corruption).
func IsInvalidHierarchy(err error) bool {
	return errors.Is(err, ErrInvalidParent) ||
		errors.Is(err, ErrInvalidFolder) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrCrossGroupMove) ||
		errors.Is(err, ErrHierarchyCorrupt)
}
