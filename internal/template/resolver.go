package template

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/models"
)

// Resolver выдает шаблон модели для пары (пользователь, модель).
// Сохраненный шаблон читается заново при каждом вызове (без in-process
// кеша); отсутствующий шаблон выучивается классификатором и сохраняется.
type Resolver struct {
	repo       interfaces.TemplateRepository
	classifier Classifier
	logger     *zap.Logger
}

// NewResolver создает Resolver.
func NewResolver(repo interfaces.TemplateRepository, classifier Classifier, logger *zap.Logger) *Resolver {
	return &Resolver{
		repo:       repo,
		classifier: classifier,
		logger:     logger.Named("TemplateResolver"),
	}
}

// Lookup возвращает сохраненный шаблон для (userID, modelID) без обращения
// к схеме модели. Отсутствие шаблона отдается как ErrTemplateNotFound.
func (r *Resolver) Lookup(ctx context.Context, userID uuid.UUID, modelID string) (*models.ModelTemplate, error) {
	return r.repo.Get(ctx, userID, modelID)
}

// Resolve возвращает шаблон для (userID, modelID): сохраненный, если есть,
// иначе классифицирует схему, сохраняет и возвращает новый.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, schema models.ModelSchema) (*models.ModelTemplate, error) {
	existing, err := r.repo.Get(ctx, userID, schema.ModelID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrTemplateNotFound) {
		return nil, fmt.Errorf("ошибка чтения шаблона модели %s: %w", schema.ModelID, err)
	}

	cls, err := r.classifier.Classify(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("ошибка классификации схемы модели %s: %w", schema.ModelID, err)
	}

	now := time.Now().UTC()
	tmpl := &models.ModelTemplate{
		ID:               uuid.New(),
		UserID:           userID,
		ModelID:          schema.ModelID,
		PromptField:      cls.PromptField,
		ImageFields:      cls.ImageFields,
		ImageFieldTypes:  cls.ImageFieldTypes,
		ImageArrayFields: cls.ImageArrayFields,
		UserValues:       defaultUserValues(schema, cls),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.repo.Upsert(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("ошибка сохранения шаблона модели %s: %w", schema.ModelID, err)
	}
	r.logger.Info("Model template learned",
		zap.String("userID", userID.String()),
		zap.String("modelID", schema.ModelID),
		zap.String("promptField", tmpl.PromptField),
		zap.Int("imageFields", len(tmpl.ImageFields)),
	)
	return tmpl, nil
}

// SaveUserValues автосохраняет отредактированные пользователем значения
// конфигурации. Ключи, занятые промптом или изображениями, отклоняются:
// сохраненная конфигурация не может перезаписать инжектируемые поля.
func (r *Resolver) SaveUserValues(ctx context.Context, userID uuid.UUID, modelID string, values map[string]any) error {
	tmpl, err := r.repo.Get(ctx, userID, modelID)
	if err != nil {
		return err
	}
	for key := range values {
		if tmpl.IsReservedField(key) {
			return fmt.Errorf("%w: field %q is reserved for prompt or image injection", models.ErrInvalidInput, key)
		}
	}
	merged := make(map[string]any, len(tmpl.UserValues)+len(values))
	for k, v := range tmpl.UserValues {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return r.repo.SaveUserValues(ctx, userID, modelID, merged)
}
