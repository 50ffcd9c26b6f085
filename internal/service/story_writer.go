package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/models"
)

// maxWriteRetries ограничивает перечитывания при конфликте версий.
const maxWriteRetries = 5

// mutateStoryWithRetry выполняет read-modify-write истории с оптимистичной
// проверкой версии: при конфликте история перечитывается и мутация
// применяется заново к свежему состоянию. Мутация обязана быть
// идемпотентной относительно своего входа. Возвращает записанное состояние.
func mutateStoryWithRetry(
	ctx context.Context,
	repo interfaces.StoryRepository,
	storyID, userID uuid.UUID,
	mutate func(story *models.Story) error,
) (*models.Story, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		story, err := repo.GetByID(ctx, storyID, userID)
		if err != nil {
			return nil, err
		}
		if err := mutate(story); err != nil {
			return nil, err
		}
		err = repo.UpdateWithVersion(ctx, story)
		if err == nil {
			return story, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("ошибка записи story %s после %d попыток: %w", storyID, maxWriteRetries, lastErr)
}
