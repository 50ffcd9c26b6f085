package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/models"
)

// Compile-time check
var _ interfaces.TemplateRepository = (*pgTemplateRepository)(nil)

type pgTemplateRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgTemplateRepository создает репозиторий шаблонов моделей поверх PostgreSQL.
func NewPgTemplateRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.TemplateRepository {
	return &pgTemplateRepository{
		db:     db,
		logger: logger.Named("PgTemplateRepo"),
	}
}

type templateRow struct {
	ID               uuid.UUID `db:"id"`
	UserID           uuid.UUID `db:"user_id"`
	ModelID          string    `db:"model_id"`
	PromptField      string    `db:"prompt_field"`
	ImageFields      []string  `db:"image_fields"`
	ImageFieldTypes  []byte    `db:"image_field_types"`
	ImageArrayFields []string  `db:"image_array_fields"`
	UserValues       []byte    `db:"user_values"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r templateRow) toModel() (*models.ModelTemplate, error) {
	tpl := &models.ModelTemplate{
		ID:               r.ID,
		UserID:           r.UserID,
		ModelID:          r.ModelID,
		PromptField:      r.PromptField,
		ImageFields:      r.ImageFields,
		ImageArrayFields: r.ImageArrayFields,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if len(r.ImageFieldTypes) > 0 {
		if err := json.Unmarshal(r.ImageFieldTypes, &tpl.ImageFieldTypes); err != nil {
			return nil, fmt.Errorf("ошибка разбора image_field_types: %w", err)
		}
	}
	if len(r.UserValues) > 0 {
		if err := json.Unmarshal(r.UserValues, &tpl.UserValues); err != nil {
			return nil, fmt.Errorf("ошибка разбора user_values: %w", err)
		}
	}
	return tpl, nil
}

// Get - реализация метода Get
func (r *pgTemplateRepository) Get(ctx context.Context, userID uuid.UUID, modelID string) (*models.ModelTemplate, error) {
	query := `
        SELECT id, user_id, model_id, prompt_field, image_fields, image_field_types,
               image_array_fields, user_values, created_at, updated_at
        FROM model_templates
        WHERE user_id = $1 AND model_id = $2
    `
	var row templateRow
	err := pgxscan.Get(ctx, r.db, &row, query, userID, modelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTemplateNotFound
		}
		r.logger.Error("Failed to get template",
			zap.String("userID", userID.String()), zap.String("modelID", modelID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения шаблона модели %s: %w", modelID, err)
	}
	return row.toModel()
}

// Upsert - реализация метода Upsert
func (r *pgTemplateRepository) Upsert(ctx context.Context, template *models.ModelTemplate) error {
	query := `
        INSERT INTO model_templates
            (id, user_id, model_id, prompt_field, image_fields, image_field_types,
             image_array_fields, user_values, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
        ON CONFLICT (user_id, model_id) DO UPDATE SET
            prompt_field = EXCLUDED.prompt_field,
            image_fields = EXCLUDED.image_fields,
            image_field_types = EXCLUDED.image_field_types,
            image_array_fields = EXCLUDED.image_array_fields,
            user_values = EXCLUDED.user_values,
            updated_at = NOW()
    `
	typesJSON, err := json.Marshal(template.ImageFieldTypes)
	if err != nil {
		return fmt.Errorf("ошибка маршалинга image_field_types: %w", err)
	}
	values := template.UserValues
	if values == nil {
		values = map[string]any{}
	}
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("ошибка маршалинга user_values: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		template.ID, template.UserID, template.ModelID, template.PromptField,
		template.ImageFields, typesJSON, template.ImageArrayFields, valuesJSON,
	)
	if err != nil {
		r.logger.Error("Failed to upsert template",
			zap.String("modelID", template.ModelID), zap.Error(err))
		return fmt.Errorf("ошибка сохранения шаблона модели %s: %w", template.ModelID, err)
	}
	return nil
}

// SaveUserValues - реализация метода SaveUserValues
func (r *pgTemplateRepository) SaveUserValues(ctx context.Context, userID uuid.UUID, modelID string, values map[string]any) error {
	query := `
        UPDATE model_templates SET user_values = $3, updated_at = NOW()
        WHERE user_id = $1 AND model_id = $2
    `
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("ошибка маршалинга user_values: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, userID, modelID, valuesJSON)
	if err != nil {
		return fmt.Errorf("ошибка сохранения значений шаблона %s: %w", modelID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTemplateNotFound
	}
	return nil
}
