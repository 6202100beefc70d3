// Package workspace implements the shared file/folder workspace of a
// group: hierarchy invariants, the file registry, and access gating.
//
// All mutations pass through the policy gate (system/policy) before
// taking effect; handlers never reach around this service to the stores.
// Operations that touch blob storage are two-phase: the blob write
// happens first, the metadata commit second, so an interruption leaves
// at worst an orphaned blob (reconciled by an out-of-band sweep) and
// never a dangling metadata reference.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dalemusser/waffle/pantry/storage"
	"github.com/google/uuid"
	"github.com/harmonyroom/harmonyroom/internal/app/store/file"
	"github.com/harmonyroom/harmonyroom/internal/app/store/folder"
	"github.com/harmonyroom/harmonyroom/internal/app/system/policy"
	"github.com/harmonyroom/harmonyroom/internal/app/system/timeouts"
	"github.com/harmonyroom/harmonyroom/internal/app/system/txn"
	"github.com/harmonyroom/harmonyroom/internal/domain/errs"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// MaxFolderDepth bounds the folder hierarchy. Ancestor walks use it as
// their visited guard: a chain that fails to reach a root within the
// bound indicates corruption and the operation fails closed.
const MaxFolderDepth = 32

// BlobStore is the blob storage collaborator. waffle's
// pantry/storage.Store (local or S3/CloudFront) satisfies it; tests use
// an in-memory fake. Paths are opaque handles.
type BlobStore interface {
	Put(ctx context.Context, path string, r io.Reader, opts *storage.PutOptions) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	URL(path string) string
}

// Actor is the acting user with their effective role for the group the
// operation targets. The role comes from the membership row (async
// workspace) or the room preset (live session); deriving it is the
// caller's job.
type Actor struct {
	UserID primitive.ObjectID
	Role   models.Role
}

// Service composes the folder and file stores with blob storage and the
// access policy gate.
type Service struct {
	db      *mongo.Database
	folders *folder.Store
	files   *file.Store
	blobs   BlobStore
	logger  *zap.Logger
}

// New creates a workspace service.
func New(db *mongo.Database, blobs BlobStore, logger *zap.Logger) *Service {
	return &Service{
		db:      db,
		folders: folder.New(db),
		files:   file.New(db),
		blobs:   blobs,
		logger:  logger,
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Folder hierarchy                                                            |
*─────────────────────────────────────────────────────────────────────────────*/

// CreateSystemRoot creates the platform-owned root folder of a new
// group. It bypasses the policy gate: system folders are created by the
// platform, not by members.
func (s *Service) CreateSystemRoot(ctx context.Context, groupID, createdByID primitive.ObjectID) (*models.Folder, error) {
	return s.folders.Create(ctx, folder.CreateInput{
		Name:        models.SystemRootName,
		GroupID:     groupID,
		IsSystem:    true,
		CreatedByID: createdByID,
	})
}

// CreateFolder creates a folder under parentID (nil = group root).
func (s *Service) CreateFolder(ctx context.Context, actor Actor, groupID primitive.ObjectID, parentID *primitive.ObjectID, name string) (*models.Folder, error) {
	if !policy.CanOrganize(actor.Role, nil) {
		return nil, errs.ErrPermissionDenied
	}

	if parentID != nil {
		parent, err := s.folders.GetByID(ctx, *parentID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, errs.ErrInvalidParent
			}
			return nil, err
		}
		if parent.GroupID != groupID {
			return nil, errs.ErrInvalidParent
		}
		depth, err := s.ancestorDepth(ctx, parent)
		if err != nil {
			return nil, err
		}
		// depth of the new folder = parent's ancestors + parent itself.
		if depth+1 >= MaxFolderDepth {
			return nil, errs.ErrInvalidParent
		}
	}

	exists, err := s.folders.NameExistsInParent(ctx, groupID, parentID, name, nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.ErrNameConflict
	}

	// The unique sibling index is the authority under concurrent creates;
	// the pre-check above only gives the common case a cleaner path.
	return s.folders.Create(ctx, folder.CreateInput{
		Name:        name,
		GroupID:     groupID,
		ParentID:    parentID,
		CreatedByID: actor.UserID,
	})
}

// RenameFolder renames a non-system folder.
func (s *Service) RenameFolder(ctx context.Context, actor Actor, folderID primitive.ObjectID, newName string) (*models.Folder, error) {
	f, err := s.folders.GetByID(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if f.IsSystem {
		return nil, errs.ErrSystemFolderImmutable
	}
	if !policy.CanOrganize(actor.Role, f) {
		return nil, errs.ErrPermissionDenied
	}

	exists, err := s.folders.NameExistsInParent(ctx, f.GroupID, f.ParentID, newName, &f.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.ErrNameConflict
	}

	if err := s.folders.Rename(ctx, folderID, newName); err != nil {
		return nil, err
	}
	return s.folders.GetByID(ctx, folderID)
}

// MoveFolder reparents a folder (nil newParentID = group root).
//
// The cycle check walks upward from the proposed new parent with a
// visited guard of MaxFolderDepth; encountering the moved folder rejects
// the move, and failing to reach a root within the bound fails closed.
func (s *Service) MoveFolder(ctx context.Context, actor Actor, folderID primitive.ObjectID, newParentID *primitive.ObjectID) error {
	f, err := s.folders.GetByID(ctx, folderID)
	if err != nil {
		return err
	}
	if f.IsSystem {
		return errs.ErrSystemFolderImmutable
	}
	if f.ParentID != nil {
		cur, err := s.folders.GetByID(ctx, *f.ParentID)
		if err == nil && cur.IsSystem {
			// Folders filed directly under a system root stay put.
			return errs.ErrSystemFolderImmutable
		}
	}
	if !policy.CanOrganize(actor.Role, f) {
		return errs.ErrPermissionDenied
	}

	if newParentID != nil {
		if *newParentID == f.ID {
			return errs.ErrCycleDetected
		}
		newParent, err := s.folders.GetByID(ctx, *newParentID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.ErrInvalidParent
			}
			return err
		}
		if newParent.GroupID != f.GroupID {
			return errs.ErrCrossGroupMove
		}
		if err := s.checkNoCycle(ctx, f.ID, newParent); err != nil {
			return err
		}
	}

	exists, err := s.folders.NameExistsInParent(ctx, f.GroupID, newParentID, f.Name, &f.ID)
	if err != nil {
		return err
	}
	if exists {
		return errs.ErrNameConflict
	}

	return s.folders.SetParent(ctx, folderID, newParentID)
}

// DeleteFolder deletes a folder. With recursive=false the folder must be
// empty; with recursive=true the whole subtree and its files are removed
// in one transaction so concurrent readers see either the full pre-state
// or the full post-state. Blob cleanup runs best-effort afterwards.
func (s *Service) DeleteFolder(ctx context.Context, actor Actor, folderID primitive.ObjectID, recursive bool) error {
	f, err := s.folders.GetByID(ctx, folderID)
	if err != nil {
		return err
	}
	if f.IsSystem {
		return errs.ErrSystemFolderImmutable
	}
	if !policy.CanOrganize(actor.Role, f) {
		return errs.ErrPermissionDenied
	}

	subfolderCount, err := s.folders.CountByParent(ctx, f.GroupID, &f.ID)
	if err != nil {
		return err
	}
	fileCount, err := s.files.CountByFolder(ctx, f.GroupID, &f.ID)
	if err != nil {
		return err
	}

	if !recursive {
		if subfolderCount+fileCount > 0 {
			return errs.ErrFolderNotEmpty
		}
		return s.folders.Delete(ctx, folderID)
	}

	folderIDs, blobPaths, err := s.collectSubtree(ctx, f)
	if err != nil {
		return err
	}

	err = txn.Run(ctx, s.db, s.logger, func(tc context.Context) error {
		if err := s.files.DeleteByFolderIDs(tc, f.GroupID, folderIDs); err != nil {
			return err
		}
		return s.folders.DeleteByIDs(tc, folderIDs)
	})
	if err != nil {
		return err
	}

	s.deleteBlobs(ctx, blobPaths)
	return nil
}

// ancestorDepth returns the number of ancestors above a folder, failing
// closed with ErrHierarchyCorrupt when the chain exceeds MaxFolderDepth
// or dangles.
func (s *Service) ancestorDepth(ctx context.Context, f *models.Folder) (int, error) {
	depth := 0
	cur := f
	for cur.ParentID != nil {
		depth++
		if depth > MaxFolderDepth {
			return 0, errs.ErrHierarchyCorrupt
		}
		parent, err := s.folders.GetByID(ctx, *cur.ParentID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return 0, errs.ErrHierarchyCorrupt
			}
			return 0, err
		}
		cur = parent
	}
	return depth, nil
}

// checkNoCycle walks from newParent toward the root, rejecting the move
// if movedID appears on the chain.
func (s *Service) checkNoCycle(ctx context.Context, movedID primitive.ObjectID, newParent *models.Folder) error {
	steps := 0
	cur := newParent
	for {
		if cur.ID == movedID {
			return errs.ErrCycleDetected
		}
		if cur.ParentID == nil {
			return nil
		}
		steps++
		if steps > MaxFolderDepth {
			return errs.ErrHierarchyCorrupt
		}
		parent, err := s.folders.GetByID(ctx, *cur.ParentID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.ErrHierarchyCorrupt
			}
			return err
		}
		cur = parent
	}
}

// collectSubtree gathers the folder IDs of a subtree (including the root
// folder itself) and the storage paths of every contained file.
func (s *Service) collectSubtree(ctx context.Context, root *models.Folder) ([]primitive.ObjectID, []string, error) {
	folderIDs := []primitive.ObjectID{root.ID}
	var blobPaths []string

	queue := []primitive.ObjectID{root.ID}
	seen := map[primitive.ObjectID]bool{root.ID: true}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		contained, err := s.files.ListByFolder(ctx, root.GroupID, &id)
		if err != nil {
			return nil, nil, err
		}
		for _, cf := range contained {
			blobPaths = append(blobPaths, cf.StoragePath)
		}

		children, err := s.folders.ListByParent(ctx, root.GroupID, &id)
		if err != nil {
			return nil, nil, err
		}
		for _, child := range children {
			if seen[child.ID] {
				return nil, nil, errs.ErrHierarchyCorrupt
			}
			seen[child.ID] = true
			folderIDs = append(folderIDs, child.ID)
			queue = append(queue, child.ID)
		}
		if len(folderIDs) > (MaxFolderDepth+1)*4096 {
			return nil, nil, errs.ErrHierarchyCorrupt
		}
	}

	return folderIDs, blobPaths, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| File registry                                                               |
*─────────────────────────────────────────────────────────────────────────────*/

// UploadInput contains the input for uploading a file.
type UploadInput struct {
	GroupID     primitive.ObjectID
	FolderID    *primitive.ObjectID
	Name        string
	ContentType string
	Size        int64
	IsEditable  bool
	Content     io.Reader
}

// UploadFile stores a file's bytes and registers its metadata.
//
// Two-phase: the blob Put happens first under a bounded timeout; only
// after the blob is durably stored does the metadata insert run. A blob
// failure aborts with ErrExternalDependency and no metadata row; a
// metadata failure compensates by deleting the just-written blob.
func (s *Service) UploadFile(ctx context.Context, actor Actor, input UploadInput) (*models.File, error) {
	if !policy.CanUpload(actor.Role) {
		return nil, errs.ErrPermissionDenied
	}
	if input.Size < 0 {
		return nil, fmt.Errorf("negative file size %d", input.Size)
	}

	if input.FolderID != nil {
		target, err := s.folders.GetByID(ctx, *input.FolderID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, errs.ErrInvalidFolder
			}
			return nil, err
		}
		if target.GroupID != input.GroupID {
			return nil, errs.ErrInvalidFolder
		}
	}

	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	storagePath := s.newStoragePath(input.GroupID, input.Name)

	putCtx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()
	if err := s.blobs.Put(putCtx, storagePath, input.Content, &storage.PutOptions{ContentType: contentType}); err != nil {
		return nil, fmt.Errorf("%w: blob write: %v", errs.ErrExternalDependency, err)
	}

	created, err := s.files.Create(ctx, file.CreateInput{
		Name:         input.Name,
		ContentType:  contentType,
		Size:         input.Size,
		StoragePath:  storagePath,
		GroupID:      input.GroupID,
		FolderID:     input.FolderID,
		UploadedByID: actor.UserID,
		IsEditable:   input.IsEditable,
	})
	if err != nil {
		// Compensate: the metadata commit failed, so the blob must go.
		s.deleteBlobs(ctx, []string{storagePath})
		return nil, err
	}

	return created, nil
}

// ResolveURL computes the access URL for a file at read time. URLs are
// never persisted; callers must not cache them beyond their own request.
func (s *Service) ResolveURL(f *models.File) models.FileWithURL {
	return models.FileWithURL{
		File: *f,
		URL:  s.blobs.URL(f.StoragePath),
	}
}

// Open returns a reader over a file's bytes, bounded by a timeout.
func (s *Service) Open(ctx context.Context, f *models.File) (io.ReadCloser, error) {
	getCtx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()
	rc, err := s.blobs.Get(getCtx, f.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%w: blob read: %v", errs.ErrExternalDependency, err)
	}
	return rc, nil
}

// GetFile loads file metadata by ID.
func (s *Service) GetFile(ctx context.Context, fileID primitive.ObjectID) (*models.File, error) {
	return s.files.GetByID(ctx, fileID)
}

// GetFolder loads folder metadata by ID.
func (s *Service) GetFolder(ctx context.Context, folderID primitive.ObjectID) (*models.Folder, error) {
	return s.folders.GetByID(ctx, folderID)
}

// RenameFile renames a file, gated by CanEdit.
func (s *Service) RenameFile(ctx context.Context, actor Actor, fileID primitive.ObjectID, newName string) (*models.File, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !policy.CanEdit(actor.Role, f, actor.UserID) {
		return nil, errs.ErrPermissionDenied
	}

	if err := s.files.Rename(ctx, fileID, newName); err != nil {
		return nil, err
	}
	return s.files.GetByID(ctx, fileID)
}

// MoveFile moves a file to another folder (nil = group root), gated by
// CanEdit. The destination must belong to the file's group.
func (s *Service) MoveFile(ctx context.Context, actor Actor, fileID primitive.ObjectID, newFolderID *primitive.ObjectID) error {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if !policy.CanEdit(actor.Role, f, actor.UserID) {
		return errs.ErrPermissionDenied
	}

	if newFolderID != nil {
		target, err := s.folders.GetByID(ctx, *newFolderID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.ErrInvalidFolder
			}
			return err
		}
		if target.GroupID != f.GroupID {
			return errs.ErrCrossGroupMove
		}
	}

	return s.files.SetFolder(ctx, fileID, newFolderID)
}

// DeleteFile removes file metadata (the authoritative, atomic step) and
// then schedules best-effort blob deletion.
func (s *Service) DeleteFile(ctx context.Context, actor Actor, fileID primitive.ObjectID) error {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if !policy.CanEdit(actor.Role, f, actor.UserID) {
		return errs.ErrPermissionDenied
	}

	if err := s.files.Delete(ctx, fileID); err != nil {
		return err
	}
	s.deleteBlobs(ctx, []string{f.StoragePath})
	return nil
}

// ListFiles returns the files directly under folderID (non-recursive;
// nil = group root). Recursive aggregation composes Tree with this.
func (s *Service) ListFiles(ctx context.Context, groupID primitive.ObjectID, folderID *primitive.ObjectID) ([]models.File, error) {
	if folderID != nil {
		target, err := s.folders.GetByID(ctx, *folderID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, errs.ErrInvalidFolder
			}
			return nil, err
		}
		if target.GroupID != groupID {
			return nil, errs.ErrInvalidFolder
		}
	}
	return s.files.ListByFolder(ctx, groupID, folderID)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Group teardown                                                              |
*─────────────────────────────────────────────────────────────────────────────*/

// TeardownGroup removes every folder and file row of a group in one
// transaction, then best-effort deletes the blobs. Membership and the
// group row itself are the caller's responsibility (deleted after the
// workspace so a half-torn-down group is still addressable).
func (s *Service) TeardownGroup(ctx context.Context, groupID primitive.ObjectID) error {
	allFiles, err := s.files.ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	blobPaths := make([]string, 0, len(allFiles))
	for _, f := range allFiles {
		blobPaths = append(blobPaths, f.StoragePath)
	}

	err = txn.Run(ctx, s.db, s.logger, func(tc context.Context) error {
		if err := s.files.DeleteByGroup(tc, groupID); err != nil {
			return err
		}
		return s.folders.DeleteByGroup(tc, groupID)
	})
	if err != nil {
		return err
	}

	s.deleteBlobs(ctx, blobPaths)
	return nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Blob helpers                                                                |
*─────────────────────────────────────────────────────────────────────────────*/

// newStoragePath generates an opaque blob path: groups/<id>/YYYY/MM/<uuid8><ext>.
func (s *Service) newStoragePath(groupID primitive.ObjectID, name string) string {
	now := time.Now().UTC()
	ext := filepath.Ext(name)
	unique := uuid.New().String()[:8]
	return fmt.Sprintf("groups/%s/%04d/%02d/%s%s", groupID.Hex(), now.Year(), int(now.Month()), unique, ext)
}

// deleteBlobs removes blobs best-effort: failures are logged and left to
// the out-of-band orphan sweep, never propagated.
func (s *Service) deleteBlobs(ctx context.Context, paths []string) {
	for _, p := range paths {
		delCtx, cancel := context.WithTimeout(ctx, timeouts.Medium())
		if err := s.blobs.Delete(delCtx, p); err != nil {
			s.logger.Warn("failed to delete blob; leaving for orphan sweep",
				zap.String("path", p),
				zap.Error(err))
		}
		cancel()
	}
}
