package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
)

// Mock StoryRepository
type StoryRepository struct {
	mock.Mock
}

func (m *StoryRepository) Create(ctx context.Context, story *models.Story) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}
func (m *StoryRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Story, error) {
	args := m.Called(ctx, id, userID)
	story, _ := args.Get(0).(*models.Story)
	return story, args.Error(1)
}
func (m *StoryRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Story, error) {
	args := m.Called(ctx, userID)
	stories, _ := args.Get(0).([]*models.Story)
	return stories, args.Error(1)
}
func (m *StoryRepository) UpdateWithVersion(ctx context.Context, story *models.Story) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}
func (m *StoryRepository) SetStatus(ctx context.Context, id, userID uuid.UUID, status models.StoryStatus) error {
	args := m.Called(ctx, id, userID, status)
	return args.Error(0)
}
func (m *StoryRepository) SetBookmarked(ctx context.Context, id, userID uuid.UUID, bookmarked bool) error {
	args := m.Called(ctx, id, userID, bookmarked)
	return args.Error(0)
}

// Mock RevisionRepository
type RevisionRepository struct {
	mock.Mock
}

func (m *RevisionRepository) Create(ctx context.Context, revision *models.Revision) error {
	args := m.Called(ctx, revision)
	return args.Error(0)
}
func (m *RevisionRepository) GetByNumber(ctx context.Context, storyID uuid.UUID, revisionNumber int) (*models.Revision, error) {
	args := m.Called(ctx, storyID, revisionNumber)
	rev, _ := args.Get(0).(*models.Revision)
	return rev, args.Error(1)
}
func (m *RevisionRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.RevisionInfo, error) {
	args := m.Called(ctx, storyID)
	infos, _ := args.Get(0).([]models.RevisionInfo)
	return infos, args.Error(1)
}
func (m *RevisionRepository) MaxRevisionNumber(ctx context.Context, storyID uuid.UUID) (int, error) {
	args := m.Called(ctx, storyID)
	return args.Int(0), args.Error(1)
}

// Mock TemplateRepository
type TemplateRepository struct {
	mock.Mock
}

func (m *TemplateRepository) Get(ctx context.Context, userID uuid.UUID, modelID string) (*models.ModelTemplate, error) {
	args := m.Called(ctx, userID, modelID)
	tpl, _ := args.Get(0).(*models.ModelTemplate)
	return tpl, args.Error(1)
}
func (m *TemplateRepository) Upsert(ctx context.Context, template *models.ModelTemplate) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}
func (m *TemplateRepository) SaveUserValues(ctx context.Context, userID uuid.UUID, modelID string, values map[string]any) error {
	args := m.Called(ctx, userID, modelID, values)
	return args.Error(0)
}

// Mock GenerationGuard
type GenerationGuard struct {
	mock.Mock
}

func (m *GenerationGuard) Acquire(ctx context.Context, storyID uuid.UUID, ttl time.Duration) error {
	args := m.Called(ctx, storyID, ttl)
	return args.Error(0)
}
func (m *GenerationGuard) Release(ctx context.Context, storyID uuid.UUID) error {
	args := m.Called(ctx, storyID)
	return args.Error(0)
}
