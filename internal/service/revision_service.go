package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
	"storybook-server/internal/taskrunner"
)

// maxRevisionRetries ограничивает повторы при гонке за номер ревизии.
const maxRevisionRetries = 3

// StepUpdate - частичное обновление истории при сохранении этапа.
// Nil-поля не трогаются; слайсы заменяют содержимое целиком.
type StepUpdate struct {
	Title               *string            `json:"title,omitempty"`
	Setting             *string            `json:"setting,omitempty"`
	Characters          *string            `json:"characters,omitempty"`
	Plot                *string            `json:"plot,omitempty"`
	AgeGroup            *string            `json:"age_group,omitempty"`
	TotalPages          *int               `json:"total_pages,omitempty"`
	StoryGuidance       *string            `json:"story_guidance,omitempty"`
	ExpandedSetting     *string            `json:"expanded_setting,omitempty"`
	ExtractedCharacters []models.Character `json:"extracted_characters,omitempty"`
	Pages               []models.StoryPage `json:"pages,omitempty"`
}

// RevisionService реализует журнал ревизий: снимок состояния при
// редактировании раннего этапа, инвалидация производных полей,
// деструктивное восстановление ревизии на живую запись.
type RevisionService struct {
	stories   interfaces.StoryRepository
	revisions interfaces.RevisionRepository
	publisher messaging.StoryEventPublisher
	locks     *taskrunner.KeyedMutex
	logger    *zap.Logger
}

// NewRevisionService создает RevisionService.
func NewRevisionService(
	stories interfaces.StoryRepository,
	revisions interfaces.RevisionRepository,
	publisher messaging.StoryEventPublisher,
	logger *zap.Logger,
) *RevisionService {
	return &RevisionService{
		stories:   stories,
		revisions: revisions,
		publisher: publisher,
		locks:     taskrunner.NewKeyedMutex(),
		logger:    logger.Named("RevisionService"),
	}
}

// SaveStep сохраняет этап workflow. Без clearFutureSteps обновление
// применяется к живой записи напрямую, без снимка. С clearFutureSteps
// сначала снимается ревизия ТЕКУЩЕГО (до обновления) состояния, затем
// инвалидируются производные поля по позиции этапа, затем применяется
// обновление и CurrentRevision переводится на новый номер.
func (s *RevisionService) SaveStep(
	ctx context.Context,
	storyID, userID uuid.UUID,
	step models.WorkflowStep,
	update StepUpdate,
	clearFutureSteps bool,
) (*models.Story, error) {
	if !step.IsValid() {
		return nil, fmt.Errorf("%w: unknown workflow step %q", models.ErrInvalidInput, step)
	}

	unlock := s.locks.Lock(storyID.String())
	defer unlock()

	if !clearFutureSteps {
		story, err := mutateStoryWithRetry(ctx, s.stories, storyID, userID, func(story *models.Story) error {
			applyStepUpdate(story, update)
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.publishUpdated(ctx, story)
		return story, nil
	}

	story, err := s.stories.GetByID(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}

	// Снимок до мутации: неудачная мутация все равно оставляет
	// пригодную предыдущую ревизию.
	revision, err := s.createRevision(ctx, story, step)
	if err != nil {
		return nil, err
	}

	updated, err := mutateStoryWithRetry(ctx, s.stories, storyID, userID, func(live *models.Story) error {
		clearDownstream(live, step)
		applyStepUpdate(live, update)
		live.CurrentRevision = revision.RevisionNumber
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Step saved with snapshot",
		zap.String("storyID", storyID.String()),
		zap.String("step", string(step)),
		zap.Int("revisionNumber", revision.RevisionNumber),
	)
	s.publishUpdated(ctx, updated)
	return updated, nil
}

// createRevision пишет снимок с номером max+1. Уникальное ограничение
// на (story_id, revision_number) закрывает гонку между процессами,
// конфликт разрешается перечитыванием максимума.
func (s *RevisionService) createRevision(ctx context.Context, story *models.Story, step models.WorkflowStep) (*models.Revision, error) {
	var parent *int
	if story.CurrentRevision > 0 {
		cur := story.CurrentRevision
		parent = &cur
	}

	for attempt := 0; attempt < maxRevisionRetries; attempt++ {
		maxNumber, err := s.revisions.MaxRevisionNumber(ctx, story.ID)
		if err != nil {
			return nil, err
		}
		revision := &models.Revision{
			ID:             uuid.New(),
			StoryID:        story.ID,
			RevisionNumber: maxNumber + 1,
			Snapshot:       models.SnapshotOf(story),
			StepCompleted:  step,
			ParentRevision: parent,
			CreatedAt:      time.Now().UTC(),
		}
		err = s.revisions.Create(ctx, revision)
		if err == nil {
			return revision, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, err
		}
		s.logger.Warn("Revision number conflict, retrying",
			zap.String("storyID", story.ID.String()),
			zap.Int("revisionNumber", revision.RevisionNumber),
		)
	}
	return nil, fmt.Errorf("ошибка выделения номера ревизии после %d попыток: %w", maxRevisionRetries, models.ErrVersionConflict)
}

// LoadRevision восстанавливает ревизию на живую запись истории.
// Восстановление деструктивно и не создает новой ревизии: повторная
// загрузка того же номера дает идентичное состояние.
func (s *RevisionService) LoadRevision(ctx context.Context, storyID, userID uuid.UUID, revisionNumber int) (*models.Story, error) {
	unlock := s.locks.Lock(storyID.String())
	defer unlock()

	// Проверка владения до чтения ревизии.
	if _, err := s.stories.GetByID(ctx, storyID, userID); err != nil {
		return nil, err
	}
	revision, err := s.revisions.GetByNumber(ctx, storyID, revisionNumber)
	if err != nil {
		return nil, err
	}

	story, err := mutateStoryWithRetry(ctx, s.stories, storyID, userID, func(live *models.Story) error {
		models.ApplySnapshot(live, revision.Snapshot)
		live.CurrentRevision = revision.RevisionNumber
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Revision restored onto live story",
		zap.String("storyID", storyID.String()),
		zap.Int("revisionNumber", revisionNumber),
	)
	s.publishUpdated(ctx, story)
	return story, nil
}

// ListRevisions возвращает метаданные ревизий истории по возрастанию номера.
func (s *RevisionService) ListRevisions(ctx context.Context, storyID, userID uuid.UUID) ([]models.RevisionInfo, error) {
	if _, err := s.stories.GetByID(ctx, storyID, userID); err != nil {
		return nil, err
	}
	return s.revisions.ListByStory(ctx, storyID)
}

func (s *RevisionService) publishUpdated(ctx context.Context, story *models.Story) {
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

// applyStepUpdate накладывает частичное обновление на историю.
func applyStepUpdate(story *models.Story, update StepUpdate) {
	if update.Title != nil {
		story.Title = *update.Title
	}
	if update.Setting != nil {
		story.Setting = *update.Setting
	}
	if update.Characters != nil {
		story.Characters = *update.Characters
	}
	if update.Plot != nil {
		story.Plot = *update.Plot
	}
	if update.AgeGroup != nil {
		story.AgeGroup = *update.AgeGroup
	}
	if update.TotalPages != nil {
		story.TotalPages = *update.TotalPages
	}
	if update.StoryGuidance != nil {
		story.StoryGuidance = *update.StoryGuidance
	}
	if update.ExpandedSetting != nil {
		story.ExpandedSetting = update.ExpandedSetting
	}
	if update.ExtractedCharacters != nil {
		story.ExtractedCharacters = update.ExtractedCharacters
	}
	if update.Pages != nil {
		story.Pages = update.Pages
	}
}

// clearDownstream инвалидирует производные поля по позиции
// редактируемого этапа. Редактирование на этапе X или раньше обнуляет
// все, что порождается после X.
func clearDownstream(story *models.Story, step models.WorkflowStep) {
	if step.AtOrBefore(models.StepSetting) {
		story.ExpandedSetting = nil
	}
	if step.AtOrBefore(models.StepCharacters) {
		story.ExtractedCharacters = nil
	}
	if step.AtOrBefore(models.StepReview) {
		story.Pages = nil
	}
	if step.AtOrBefore(models.StepImages) {
		story.CoreImageFileID = nil
		for i := range story.Pages {
			story.Pages[i].ImageFileID = nil
			story.Pages[i].ImageHistory = nil
		}
		for i := range story.ExtractedCharacters {
			story.ExtractedCharacters[i].ImageFileID = nil
		}
	}
}
