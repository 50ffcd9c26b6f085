package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
	"storybook-server/internal/taskrunner"
)

// Границы количества страниц книги.
const (
	minTotalPages = 1
	maxTotalPages = 30
)

// CreateStoryInput - данные для создания новой истории.
type CreateStoryInput struct {
	Title         string `json:"title"`
	Setting       string `json:"setting"`
	Characters    string `json:"characters"`
	Plot          string `json:"plot"`
	AgeGroup      string `json:"age_group"`
	TotalPages    int    `json:"total_pages"`
	StoryGuidance string `json:"story_guidance"`
}

// StoryService ведет жизненный цикл истории: создание, расширение сеттинга,
// извлечение персонажей, генерация текстов страниц и запуск иллюстрирования.
// Статус гейтит операции; этапы данных ведет RevisionService.
type StoryService struct {
	stories    interfaces.StoryRepository
	textgen    interfaces.TextGenerator
	generation *GenerationService
	publisher  messaging.StoryEventPublisher
	logger     *zap.Logger
}

// NewStoryService создает StoryService.
func NewStoryService(
	stories interfaces.StoryRepository,
	textgen interfaces.TextGenerator,
	generation *GenerationService,
	publisher messaging.StoryEventPublisher,
	logger *zap.Logger,
) *StoryService {
	return &StoryService{
		stories:    stories,
		textgen:    textgen,
		generation: generation,
		publisher:  publisher,
		logger:     logger.Named("StoryService"),
	}
}

// CreateStory валидирует данные и создает историю в статусе draft.
func (s *StoryService) CreateStory(ctx context.Context, userID uuid.UUID, input CreateStoryInput) (*models.Story, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	story := &models.Story{
		ID:            uuid.New(),
		UserID:        userID,
		Title:         strings.TrimSpace(input.Title),
		Setting:       strings.TrimSpace(input.Setting),
		Characters:    strings.TrimSpace(input.Characters),
		Plot:          strings.TrimSpace(input.Plot),
		AgeGroup:      strings.TrimSpace(input.AgeGroup),
		TotalPages:    input.TotalPages,
		StoryGuidance: strings.TrimSpace(input.StoryGuidance),
		Status:        models.StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.stories.Create(ctx, story); err != nil {
		return nil, err
	}
	s.logger.Info("Story created",
		zap.String("storyID", story.ID.String()),
		zap.String("userID", userID.String()),
		zap.Int("totalPages", story.TotalPages),
	)
	return story, nil
}

// GetStory возвращает историю пользователя.
func (s *StoryService) GetStory(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error) {
	return s.stories.GetByID(ctx, storyID, userID)
}

// ListStories возвращает все истории пользователя, новые первыми.
func (s *StoryService) ListStories(ctx context.Context, userID uuid.UUID) ([]*models.Story, error) {
	return s.stories.ListByUserID(ctx, userID)
}

// SetBookmarked переключает закладку истории.
func (s *StoryService) SetBookmarked(ctx context.Context, storyID, userID uuid.UUID, bookmarked bool) error {
	return s.stories.SetBookmarked(ctx, storyID, userID, bookmarked)
}

// ExpandSetting превращает короткое описание сеттинга в развернутую сцену.
func (s *StoryService) ExpandSetting(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error) {
	story, err := s.stories.GetByID(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}
	if story.Status != models.StatusDraft && story.Status != models.StatusSettingExpansion {
		return nil, fmt.Errorf("%w: setting expansion is not allowed in status %s", models.ErrInvalidStatus, story.Status)
	}

	expanded, err := s.textgen.ExpandSetting(ctx, story)
	if err != nil {
		return nil, err
	}

	updated, err := mutateStoryWithRetry(ctx, s.stories, storyID, userID, func(live *models.Story) error {
		live.ExpandedSetting = &expanded
		live.Status = models.StatusSettingExpansion
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, updated)
	return updated, nil
}

// ExtractCharacters извлекает структурированный список персонажей.
func (s *StoryService) ExtractCharacters(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error) {
	story, err := s.stories.GetByID(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}
	if story.Status != models.StatusSettingExpansion && story.Status != models.StatusCharactersExtracted {
		return nil, fmt.Errorf("%w: character extraction requires an expanded setting, story is %s",
			models.ErrInvalidStatus, story.Status)
	}

	characters, err := s.textgen.ExtractCharacters(ctx, story)
	if err != nil {
		return nil, err
	}

	updated, err := mutateStoryWithRetry(ctx, s.stories, storyID, userID, func(live *models.Story) error {
		live.ExtractedCharacters = characters
		live.Status = models.StatusCharactersExtracted
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, updated)
	return updated, nil
}

// ApproveCharacters подтверждает персонажей и генерирует тексты всех
// страниц. После успеха pages содержит ровно totalPages страниц и история
// переходит в text_approved.
func (s *StoryService) ApproveCharacters(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error) {
	story, err := s.stories.GetByID(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}
	if story.Status != models.StatusCharactersExtracted {
		return nil, fmt.Errorf("%w: approving characters requires status %s, story is %s",
			models.ErrInvalidStatus, models.StatusCharactersExtracted, story.Status)
	}

	pages, err := s.textgen.GeneratePageTexts(ctx, story)
	if err != nil {
		return nil, err
	}
	if len(pages) != story.TotalPages {
		return nil, fmt.Errorf("%w: generated %d pages, expected %d", models.ErrInternalServer, len(pages), story.TotalPages)
	}

	updated, err := mutateStoryWithRetry(ctx, s.stories, storyID, userID, func(live *models.Story) error {
		live.Pages = pages
		live.Status = models.StatusTextApproved
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Page texts generated",
		zap.String("storyID", storyID.String()), zap.Int("pages", len(pages)))
	s.publishUpdated(ctx, updated)
	return updated, nil
}

// ApproveStory подтверждает тексты и запускает единую генерацию обложки
// и всех страниц в фоне.
func (s *StoryService) ApproveStory(ctx context.Context, storyID, userID uuid.UUID) error {
	return s.generation.StartBatchGeneration(ctx, storyID, userID)
}

// GenerationTasks возвращает статусы задач пакетной генерации истории.
func (s *StoryService) GenerationTasks(ctx context.Context, storyID, userID uuid.UUID) ([]taskrunner.Task, error) {
	return s.generation.BatchTasks(ctx, storyID, userID)
}

// RegenerateCoreImage перегенерирует обложку готовой или подтвержденной истории.
func (s *StoryService) RegenerateCoreImage(ctx context.Context, storyID, userID uuid.UUID, opts GenerateOptions) (uuid.UUID, error) {
	story, err := s.requireRegenerable(ctx, storyID, userID)
	if err != nil {
		return uuid.Nil, err
	}
	fileID, err := s.generation.GenerateCoreImage(ctx, story, opts)
	if err != nil {
		return uuid.Nil, err
	}
	s.publishUpdated(ctx, story)
	return fileID, nil
}

// RegeneratePageImage перегенерирует иллюстрацию одной страницы.
func (s *StoryService) RegeneratePageImage(ctx context.Context, storyID, userID uuid.UUID, pageNumber int, opts GenerateOptions) (uuid.UUID, error) {
	story, err := s.requireRegenerable(ctx, storyID, userID)
	if err != nil {
		return uuid.Nil, err
	}
	fileID, err := s.generation.GeneratePageImage(ctx, story, pageNumber, opts)
	if err != nil {
		return uuid.Nil, err
	}
	s.publishUpdated(ctx, story)
	return fileID, nil
}

// requireRegenerable проверяет, что одиночная перегенерация сейчас допустима.
func (s *StoryService) requireRegenerable(ctx context.Context, storyID, userID uuid.UUID) (*models.Story, error) {
	story, err := s.stories.GetByID(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}
	if story.Status != models.StatusTextApproved && story.Status != models.StatusComplete {
		return nil, fmt.Errorf("%w: image regeneration requires status %s or %s, story is %s",
			models.ErrInvalidStatus, models.StatusTextApproved, models.StatusComplete, story.Status)
	}
	return story, nil
}

func (s *StoryService) publishUpdated(ctx context.Context, story *models.Story) {
	if s.publisher == nil {
		return
	}
	payload := messaging.StoryEventPayload{
		EventType:  messaging.EventStoryUpdated,
		StoryID:    story.ID.String(),
		UserID:     story.UserID.String(),
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishStoryEvent(ctx, payload); err != nil {
		s.logger.Warn("Failed to publish story_updated event", zap.Error(err))
	}
}

func validateCreateInput(input CreateStoryInput) error {
	switch {
	case strings.TrimSpace(input.Title) == "":
		return fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	case strings.TrimSpace(input.Setting) == "":
		return fmt.Errorf("%w: setting is required", models.ErrInvalidInput)
	case strings.TrimSpace(input.Characters) == "":
		return fmt.Errorf("%w: characters are required", models.ErrInvalidInput)
	case strings.TrimSpace(input.Plot) == "":
		return fmt.Errorf("%w: plot is required", models.ErrInvalidInput)
	case strings.TrimSpace(input.AgeGroup) == "":
		return fmt.Errorf("%w: age group is required", models.ErrInvalidInput)
	case input.TotalPages < minTotalPages || input.TotalPages > maxTotalPages:
		return fmt.Errorf("%w: total pages must be between %d and %d", models.ErrInvalidInput, minTotalPages, maxTotalPages)
	}
	return nil
}
