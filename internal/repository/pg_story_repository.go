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
var _ interfaces.StoryRepository = (*pgStoryRepository)(nil)

type pgStoryRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgStoryRepository создает репозиторий историй поверх PostgreSQL.
func NewPgStoryRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.StoryRepository {
	return &pgStoryRepository{
		db:     db,
		logger: logger.Named("PgStoryRepo"),
	}
}

// storyRow - строка таблицы stories; встроенные документы хранятся как JSONB.
type storyRow struct {
	ID                  uuid.UUID          `db:"id"`
	UserID              uuid.UUID          `db:"user_id"`
	Title               string             `db:"title"`
	Setting             string             `db:"setting"`
	Characters          string             `db:"characters"`
	Plot                string             `db:"plot"`
	AgeGroup            string             `db:"age_group"`
	TotalPages          int                `db:"total_pages"`
	StoryGuidance       string             `db:"story_guidance"`
	ExpandedSetting     *string            `db:"expanded_setting"`
	ExtractedCharacters []byte             `db:"extracted_characters"`
	Pages               []byte             `db:"pages"`
	CoreImageFileID     *uuid.UUID         `db:"core_image_file_id"`
	Status              models.StoryStatus `db:"status"`
	CurrentRevision     int                `db:"current_revision"`
	IsBookmarked        bool               `db:"is_bookmarked"`
	Version             int                `db:"version"`
	CreatedAt           time.Time          `db:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at"`
}

func (r storyRow) toModel() (*models.Story, error) {
	story := &models.Story{
		ID:              r.ID,
		UserID:          r.UserID,
		Title:           r.Title,
		Setting:         r.Setting,
		Characters:      r.Characters,
		Plot:            r.Plot,
		AgeGroup:        r.AgeGroup,
		TotalPages:      r.TotalPages,
		StoryGuidance:   r.StoryGuidance,
		ExpandedSetting: r.ExpandedSetting,
		CoreImageFileID: r.CoreImageFileID,
		Status:          r.Status,
		CurrentRevision: r.CurrentRevision,
		IsBookmarked:    r.IsBookmarked,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if len(r.ExtractedCharacters) > 0 {
		if err := json.Unmarshal(r.ExtractedCharacters, &story.ExtractedCharacters); err != nil {
			return nil, fmt.Errorf("ошибка разбора extracted_characters: %w", err)
		}
	}
	if len(r.Pages) > 0 {
		if err := json.Unmarshal(r.Pages, &story.Pages); err != nil {
			return nil, fmt.Errorf("ошибка разбора pages: %w", err)
		}
	}
	return story, nil
}

func marshalEmbedded(story *models.Story) (charsJSON, pagesJSON []byte, err error) {
	chars := story.ExtractedCharacters
	if chars == nil {
		chars = []models.Character{}
	}
	charsJSON, err = json.Marshal(chars)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка маршалинга extracted_characters: %w", err)
	}
	pages := story.Pages
	if pages == nil {
		pages = []models.StoryPage{}
	}
	pagesJSON, err = json.Marshal(pages)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка маршалинга pages: %w", err)
	}
	return charsJSON, pagesJSON, nil
}

const storyColumns = `
        id, user_id, title, setting, characters, plot, age_group, total_pages,
        story_guidance, expanded_setting, extracted_characters, pages,
        core_image_file_id, status, current_revision, is_bookmarked, version,
        created_at, updated_at`

// Create - реализация метода Create
func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	query := `
        INSERT INTO stories
            (id, user_id, title, setting, characters, plot, age_group, total_pages,
             story_guidance, expanded_setting, extracted_characters, pages,
             core_image_file_id, status, current_revision, is_bookmarked, version,
             created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
    `
	logFields := []zap.Field{zap.String("storyID", story.ID.String()), zap.String("userID", story.UserID.String())}
	r.logger.Debug("Creating story", logFields...)

	charsJSON, pagesJSON, err := marshalEmbedded(story)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query,
		story.ID, story.UserID, story.Title, story.Setting, story.Characters,
		story.Plot, story.AgeGroup, story.TotalPages, story.StoryGuidance,
		story.ExpandedSetting, charsJSON, pagesJSON, story.CoreImageFileID,
		story.Status, story.CurrentRevision, story.IsBookmarked, story.Version,
		story.CreatedAt, story.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка создания story: %w", err)
	}
	r.logger.Info("Story created successfully", logFields...)
	return nil
}

// GetByID - реализация метода GetByID
func (r *pgStoryRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE id = $1 AND user_id = $2`
	logFields := []zap.Field{zap.String("storyID", id.String()), zap.String("userID", userID.String())}

	var row storyRow
	err := pgxscan.Get(ctx, r.db, &row, query, id, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("Story not found by ID for user", logFields...)
			return nil, models.ErrStoryNotFound
		}
		r.logger.Error("Failed to get story by ID", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("ошибка получения story %s: %w", id, err)
	}
	return row.toModel()
}

// ListByUserID - реализация метода ListByUserID
func (r *pgStoryRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE user_id = $1 ORDER BY updated_at DESC`

	var rows []storyRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, userID); err != nil {
		r.logger.Error("Failed to list stories", zap.String("userID", userID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка stories: %w", err)
	}

	stories := make([]*models.Story, 0, len(rows))
	for _, row := range rows {
		story, err := row.toModel()
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// UpdateWithVersion - запись полного изменяемого состояния истории с
// оптимистичной проверкой версии. Нулевое число затронутых строк при
// существующей истории означает конкурентное изменение.
func (r *pgStoryRepository) UpdateWithVersion(ctx context.Context, story *models.Story) error {
	query := `
        UPDATE stories SET
            title = $3, setting = $4, characters = $5, plot = $6, age_group = $7,
            total_pages = $8, story_guidance = $9, expanded_setting = $10,
            extracted_characters = $11, pages = $12, core_image_file_id = $13,
            status = $14, current_revision = $15, is_bookmarked = $16,
            version = version + 1, updated_at = NOW()
        WHERE id = $1 AND user_id = $2 AND version = $17
    `
	logFields := []zap.Field{
		zap.String("storyID", story.ID.String()),
		zap.String("userID", story.UserID.String()),
		zap.Int("version", story.Version),
	}

	charsJSON, pagesJSON, err := marshalEmbedded(story)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, query,
		story.ID, story.UserID, story.Title, story.Setting, story.Characters,
		story.Plot, story.AgeGroup, story.TotalPages, story.StoryGuidance,
		story.ExpandedSetting, charsJSON, pagesJSON, story.CoreImageFileID,
		story.Status, story.CurrentRevision, story.IsBookmarked, story.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка обновления story %s: %w", story.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		checkErr := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM stories WHERE id = $1 AND user_id = $2)`,
			story.ID, story.UserID,
		).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("ошибка проверки существования story %s: %w", story.ID, checkErr)
		}
		if !exists {
			return models.ErrStoryNotFound
		}
		r.logger.Warn("Optimistic version check failed", logFields...)
		return models.ErrVersionConflict
	}

	story.Version++
	return nil
}

// SetStatus - реализация метода SetStatus
func (r *pgStoryRepository) SetStatus(ctx context.Context, id, userID uuid.UUID, status models.StoryStatus) error {
	// Инкремент версии заставляет параллельные CAS-записи перечитать строку.
	query := `UPDATE stories SET status = $3, version = version + 1, updated_at = NOW() WHERE id = $1 AND user_id = $2`
	tag, err := r.db.Exec(ctx, query, id, userID, status)
	if err != nil {
		r.logger.Error("Failed to set story status",
			zap.String("storyID", id.String()), zap.String("status", string(status)), zap.Error(err))
		return fmt.Errorf("ошибка обновления статуса story %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	return nil
}

// SetBookmarked - реализация метода SetBookmarked
func (r *pgStoryRepository) SetBookmarked(ctx context.Context, id, userID uuid.UUID, bookmarked bool) error {
	query := `UPDATE stories SET is_bookmarked = $3, version = version + 1, updated_at = NOW() WHERE id = $1 AND user_id = $2`
	tag, err := r.db.Exec(ctx, query, id, userID, bookmarked)
	if err != nil {
		return fmt.Errorf("ошибка обновления закладки story %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	return nil
}
