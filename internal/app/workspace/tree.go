package workspace

import (
	"context"

	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Tree is the full browsable forest of one group's workspace.
type Tree struct {
	Folders []*FolderNode `json:"folders"`
	Files   []models.File `json:"files"`
}

// FolderNode is one folder with its nested children.
type FolderNode struct {
	Folder  models.Folder `json:"folder"`
	Folders []*FolderNode `json:"folders"`
	Files   []models.File `json:"files"`
}

// Tree produces the full folder/file forest for a group.
//
// It runs in time proportional to the group's row count: one query for
// folders, one for files, then map-based grouping — no per-parent
// lookups. Files whose folder row is missing (should not happen; the
// hierarchy is maintained atomically) are surfaced at the root rather
// than dropped.
func (s *Service) Tree(ctx context.Context, groupID primitive.ObjectID) (*Tree, error) {
	allFolders, err := s.folders.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	allFiles, err := s.files.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	// First pass: one node per folder.
	nodes := make(map[primitive.ObjectID]*FolderNode, len(allFolders))
	for _, f := range allFolders {
		nodes[f.ID] = &FolderNode{
			Folder:  f,
			Folders: []*FolderNode{},
			Files:   []models.File{},
		}
	}

	// Second pass: connect children to parents, collect roots.
	tree := &Tree{Folders: []*FolderNode{}, Files: []models.File{}}
	for _, f := range allFolders {
		node := nodes[f.ID]
		if f.ParentID == nil {
			tree.Folders = append(tree.Folders, node)
			continue
		}
		if parent, ok := nodes[*f.ParentID]; ok {
			parent.Folders = append(parent.Folders, node)
		} else {
			// Orphaned parent reference; keep the subtree reachable.
			tree.Folders = append(tree.Folders, node)
		}
	}

	// Third pass: attach files.
	for _, f := range allFiles {
		if f.FolderID == nil {
			tree.Files = append(tree.Files, f)
			continue
		}
		if parent, ok := nodes[*f.FolderID]; ok {
			parent.Files = append(parent.Files, f)
		} else {
			tree.Files = append(tree.Files, f)
		}
	}

	return tree, nil
}
