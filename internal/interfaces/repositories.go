package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storybook-server/internal/models"
)

// StoryRepository defines the interface for story persistence.
//
//go:generate mockery --name StoryRepository --output ./mocks --outpkg mocks --case=underscore
type StoryRepository interface {
	// Create inserts a new story row.
	Create(ctx context.Context, story *models.Story) error

	// GetByID retrieves a story owned by userID.
	// Returns models.ErrStoryNotFound if the story does not exist or belongs to another user.
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Story, error)

	// ListByUserID retrieves all stories of a user, newest first.
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Story, error)

	// UpdateWithVersion writes the full mutable state of a story using an
	// optimistic version check. Returns models.ErrVersionConflict when the
	// row's version no longer matches story.Version; on success the version
	// is incremented both in the row and in the passed struct.
	UpdateWithVersion(ctx context.Context, story *models.Story) error

	// SetStatus updates only the lifecycle status of a story.
	SetStatus(ctx context.Context, id, userID uuid.UUID, status models.StoryStatus) error

	// SetBookmarked toggles the bookmark flag.
	SetBookmarked(ctx context.Context, id, userID uuid.UUID, bookmarked bool) error
}

// RevisionRepository defines the interface for the append-only revision log.
//
//go:generate mockery --name RevisionRepository --output ./mocks --outpkg mocks --case=underscore
type RevisionRepository interface {
	// Create persists an immutable revision snapshot.
	// Returns models.ErrVersionConflict when (story_id, revision_number)
	// already exists, so the caller can recompute the number and retry.
	Create(ctx context.Context, revision *models.Revision) error

	// GetByNumber retrieves a single revision of a story.
	// Returns models.ErrRevisionNotFound if it does not exist.
	GetByNumber(ctx context.Context, storyID uuid.UUID, revisionNumber int) (*models.Revision, error)

	// ListByStory returns revision metadata for a story ordered by revision number.
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.RevisionInfo, error)

	// MaxRevisionNumber returns the highest revision number recorded for a
	// story, or 0 when the story has no revisions yet.
	MaxRevisionNumber(ctx context.Context, storyID uuid.UUID) (int, error)
}

// TemplateRepository defines the interface for per-(user, model) templates.
//
//go:generate mockery --name TemplateRepository --output ./mocks --outpkg mocks --case=underscore
type TemplateRepository interface {
	// Get retrieves the template for a model learned for the given user.
	// Returns models.ErrTemplateNotFound when no template exists yet.
	Get(ctx context.Context, userID uuid.UUID, modelID string) (*models.ModelTemplate, error)

	// Upsert inserts or fully replaces the template for (user, model).
	Upsert(ctx context.Context, template *models.ModelTemplate) error

	// SaveUserValues persists the user's configuration values for a template.
	SaveUserValues(ctx context.Context, userID uuid.UUID, modelID string, values map[string]any) error
}

// GenerationGuard serializes bulk generation per story: at most one active
// bulk generation may run for a story at a time.
//
//go:generate mockery --name GenerationGuard --output ./mocks --outpkg mocks --case=underscore
type GenerationGuard interface {
	// Acquire marks the story as having an active generation. Returns
	// models.ErrUserHasActiveGeneration when another generation holds the mark.
	Acquire(ctx context.Context, storyID uuid.UUID, ttl time.Duration) error

	// Release clears the active-generation mark.
	Release(ctx context.Context, storyID uuid.UUID) error
}

// FileStore owns binary image assets. Files are immutable and identified by
// globally unique ids; owner ids only partition the underlying storage.
//
//go:generate mockery --name FileStore --output ./mocks --outpkg mocks --case=underscore
type FileStore interface {
	// Store persists data and returns the new file's metadata.
	Store(ctx context.Context, data []byte, filename, mimeType string, ownerID uuid.UUID, role models.FileRole) (*models.FileMetadata, error)

	// Retrieve returns the file with its content, or models.ErrFileNotFound.
	// Works by id alone even when the owner is unknown.
	Retrieve(ctx context.Context, fileID uuid.UUID) (*models.StoredFile, error)

	// Exists reports whether the file id is known to the store.
	Exists(ctx context.Context, fileID uuid.UUID) (bool, error)

	// Delete removes a file. Deleting an unknown id returns models.ErrFileNotFound.
	Delete(ctx context.Context, fileID uuid.UUID) error

	// GetMetadata returns metadata without reading the content.
	GetMetadata(ctx context.Context, fileID uuid.UUID) (*models.FileMetadata, error)
}
