package folders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"gorm.io/gorm"
)

// ErrNotFound covers both a missing folder and a folder owned by another
// user; callers cannot distinguish the two.
var ErrNotFound = errors.New("folder not found")

// maxDepth caps ancestor walks so a corrupted parent chain cannot loop.
const maxDepth = 255

// Resolver materializes folder chains from slash-delimited logical paths.
type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Split breaks a logical path into its segments, discarding empty ones.
func Split(logicalPath string) []string {
	var segments []string
	for _, seg := range strings.Split(logicalPath, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// Normalize returns the canonical form of a logical path: "/" for root,
// "/a/b" otherwise.
func Normalize(logicalPath string) string {
	segments := Split(logicalPath)
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

// Resolve finds or creates the folder chain for logicalPath and returns the
// deepest folder's ID. Nil means the user's root. Lookup precedes creation
// at every segment, so re-resolving an existing path finds the chain rather
// than duplicating it. Partially created chains are left in place if a later
// step of the calling operation fails.
func (r *Resolver) Resolve(ctx context.Context, userID uint, logicalPath string) (*uint, error) {
	segments := Split(logicalPath)
	if len(segments) == 0 {
		return nil, nil
	}

	db := r.db.WithContext(ctx)
	var parentID *uint

	for _, name := range segments {
		var folder models.Folder

		query := db.Where("user_id = ? AND name = ?", userID, name)
		if parentID == nil {
			query = query.Where("parent_id IS NULL")
		} else {
			query = query.Where("parent_id = ?", *parentID)
		}

		err := query.First(&folder).Error
		switch {
		case err == nil:
			// Segment already exists; descend into it.
		case errors.Is(err, gorm.ErrRecordNotFound):
			folder = models.Folder{
				UserID:   userID,
				ParentID: parentID,
				Name:     name,
			}
			if err := db.Create(&folder).Error; err != nil {
				return nil, fmt.Errorf("failed to create folder %q: %w", name, err)
			}
		default:
			return nil, fmt.Errorf("failed to look up folder %q: %w", name, err)
		}

		id := folder.ID
		parentID = &id
	}

	return parentID, nil
}

// PathOf returns the ordered ancestor chain of a folder, root first, the
// folder itself last. Used to rebuild the remote path and for display.
func (r *Resolver) PathOf(ctx context.Context, folderID, userID uint) ([]models.Folder, error) {
	db := r.db.WithContext(ctx)

	var chain []models.Folder
	current := &folderID

	for depth := 0; current != nil; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("folder chain deeper than %d levels", maxDepth)
		}

		var folder models.Folder
		if err := db.Where("id = ? AND user_id = ?", *current, userID).First(&folder).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to load folder %d: %w", *current, err)
		}

		chain = append([]models.Folder{folder}, chain...)
		current = folder.ParentID
	}

	return chain, nil
}

// RemotePath joins the ancestor names of folderID with "/". A nil folderID
// is the root and maps to the empty remote path.
func (r *Resolver) RemotePath(ctx context.Context, folderID *uint, userID uint) (string, error) {
	if folderID == nil {
		return "", nil
	}

	chain, err := r.PathOf(ctx, *folderID, userID)
	if err != nil {
		return "", err
	}

	names := make([]string, len(chain))
	for i, folder := range chain {
		names[i] = folder.Name
	}
	return strings.Join(names, "/"), nil
}
