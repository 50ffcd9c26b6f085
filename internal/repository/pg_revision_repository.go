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
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/models"
)

// pgUniqueViolation - код ошибки PostgreSQL при нарушении уникального ограничения.
const pgUniqueViolation = "23505"

// Compile-time check
var _ interfaces.RevisionRepository = (*pgRevisionRepository)(nil)

type pgRevisionRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgRevisionRepository создает репозиторий журнала ревизий поверх PostgreSQL.
func NewPgRevisionRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.RevisionRepository {
	return &pgRevisionRepository{
		db:     db,
		logger: logger.Named("PgRevisionRepo"),
	}
}

type revisionRow struct {
	ID             uuid.UUID           `db:"id"`
	StoryID        uuid.UUID           `db:"story_id"`
	RevisionNumber int                 `db:"revision_number"`
	ParentRevision *int                `db:"parent_revision"`
	StepCompleted  models.WorkflowStep `db:"step_completed"`
	Description    *string             `db:"description"`
	Snapshot       []byte              `db:"snapshot"`
	CreatedAt      time.Time           `db:"created_at"`
}

func (r revisionRow) toModel() (*models.Revision, error) {
	rev := &models.Revision{
		ID:             r.ID,
		StoryID:        r.StoryID,
		RevisionNumber: r.RevisionNumber,
		ParentRevision: r.ParentRevision,
		StepCompleted:  r.StepCompleted,
		Description:    r.Description,
		CreatedAt:      r.CreatedAt,
	}
	if err := json.Unmarshal(r.Snapshot, &rev.Snapshot); err != nil {
		return nil, fmt.Errorf("ошибка разбора snapshot ревизии %d: %w", r.RevisionNumber, err)
	}
	return rev, nil
}

// Create - реализация метода Create. Уникальное ограничение на
// (story_id, revision_number) транслируется в ErrVersionConflict, чтобы
// сервисный слой мог перечитать номер и повторить запись.
func (r *pgRevisionRepository) Create(ctx context.Context, revision *models.Revision) error {
	query := `
        INSERT INTO story_revisions
            (id, story_id, revision_number, parent_revision, step_completed, description, snapshot, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	logFields := []zap.Field{
		zap.String("storyID", revision.StoryID.String()),
		zap.Int("revisionNumber", revision.RevisionNumber),
		zap.String("step", string(revision.StepCompleted)),
	}

	snapshotJSON, err := json.Marshal(revision.Snapshot)
	if err != nil {
		return fmt.Errorf("ошибка маршалинга snapshot: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		revision.ID, revision.StoryID, revision.RevisionNumber,
		revision.ParentRevision, revision.StepCompleted, revision.Description,
		snapshotJSON, revision.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			r.logger.Warn("Revision number already taken", logFields...)
			return models.ErrVersionConflict
		}
		r.logger.Error("Failed to create revision", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка создания ревизии: %w", err)
	}
	r.logger.Debug("Revision created", logFields...)
	return nil
}

// GetByNumber - реализация метода GetByNumber
func (r *pgRevisionRepository) GetByNumber(ctx context.Context, storyID uuid.UUID, number int) (*models.Revision, error) {
	query := `
        SELECT id, story_id, revision_number, parent_revision, step_completed, description, snapshot, created_at
        FROM story_revisions
        WHERE story_id = $1 AND revision_number = $2
    `
	var row revisionRow
	err := pgxscan.Get(ctx, r.db, &row, query, storyID, number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrRevisionNotFound
		}
		return nil, fmt.Errorf("ошибка получения ревизии %d: %w", number, err)
	}
	return row.toModel()
}

// ListByStory - реализация метода ListByStory. Снимки не загружаются,
// список предназначен для навигации по журналу.
func (r *pgRevisionRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.RevisionInfo, error) {
	query := `
        SELECT revision_number, parent_revision, step_completed, description, created_at
        FROM story_revisions
        WHERE story_id = $1
        ORDER BY revision_number ASC
    `
	var infos []models.RevisionInfo
	if err := pgxscan.Select(ctx, r.db, &infos, query, storyID); err != nil {
		r.logger.Error("Failed to list revisions", zap.String("storyID", storyID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка ревизий: %w", err)
	}
	return infos, nil
}

// MaxRevisionNumber - реализация метода MaxRevisionNumber. Для истории без
// ревизий возвращает 0.
func (r *pgRevisionRepository) MaxRevisionNumber(ctx context.Context, storyID uuid.UUID) (int, error) {
	query := `SELECT COALESCE(MAX(revision_number), 0) FROM story_revisions WHERE story_id = $1`
	var maxNumber int
	if err := r.db.QueryRow(ctx, query, storyID).Scan(&maxNumber); err != nil {
		return 0, fmt.Errorf("ошибка получения максимального номера ревизии: %w", err)
	}
	return maxNumber, nil
}
