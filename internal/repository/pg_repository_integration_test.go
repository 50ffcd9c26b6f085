package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/models"
	"storybook-server/internal/repository"
	"storybook-server/migrations"
	"storybook-server/pkg/migration"
)

// RepositoryIntegrationSuite поднимает реальный PostgreSQL в контейнере
// и проверяет семантику репозиториев, которую не покрыть фейками:
// уникальные ограничения и конкурентную проверку версий на уровне SQL.
type RepositoryIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	stories     interfaces.StoryRepository
	revisions   interfaces.RevisionRepository
	templates   interfaces.TemplateRepository
}

func TestRepositoryIntegrationSuite(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration tests: set INTEGRATION_TESTS=true to run")
	}
	suite.Run(t, new(RepositoryIntegrationSuite))
}

func (s *RepositoryIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	var err error
	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("storybook_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.pool, err = pgxpool.New(s.ctx, dsn)
	require.NoError(s.T(), err)

	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, s.pool)
	require.NoError(s.T(), migrator.Up(s.ctx), "Failed to run migrations")

	logger := zap.NewNop()
	s.stories = repository.NewPgStoryRepository(s.pool, logger)
	s.revisions = repository.NewPgRevisionRepository(s.pool, logger)
	s.templates = repository.NewPgTemplateRepository(s.pool, logger)
}

func (s *RepositoryIntegrationSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *RepositoryIntegrationSuite) createStory(userID uuid.UUID) *models.Story {
	now := time.Now().UTC()
	story := &models.Story{
		ID:         uuid.New(),
		UserID:     userID,
		Title:      "Лиса и луна",
		Setting:    "ночной лес",
		Characters: "лисенок Тим",
		Plot:       "Тим ищет луну",
		AgeGroup:   "3-5",
		TotalPages: 3,
		Status:     models.StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(s.T(), s.stories.Create(s.ctx, story))
	return story
}

func (s *RepositoryIntegrationSuite) TestStoryRoundTrip() {
	userID := uuid.New()
	story := s.createStory(userID)

	got, err := s.stories.GetByID(s.ctx, story.ID, userID)
	s.Require().NoError(err)
	s.Equal(story.Title, got.Title)
	s.Equal(models.StatusDraft, got.Status)
	s.Empty(got.Pages)

	// Чужой пользователь историю не видит.
	_, err = s.stories.GetByID(s.ctx, story.ID, uuid.New())
	s.ErrorIs(err, models.ErrStoryNotFound)
}

func (s *RepositoryIntegrationSuite) TestStoryOptimisticVersioning() {
	userID := uuid.New()
	story := s.createStory(userID)

	first, err := s.stories.GetByID(s.ctx, story.ID, userID)
	s.Require().NoError(err)
	second, err := s.stories.GetByID(s.ctx, story.ID, userID)
	s.Require().NoError(err)

	first.Title = "победитель гонки"
	s.Require().NoError(s.stories.UpdateWithVersion(s.ctx, first))

	// Запись с устаревшей версией отклоняется.
	second.Title = "проигравший"
	err = s.stories.UpdateWithVersion(s.ctx, second)
	s.ErrorIs(err, models.ErrVersionConflict)

	got, err := s.stories.GetByID(s.ctx, story.ID, userID)
	s.Require().NoError(err)
	s.Equal("победитель гонки", got.Title)
}

func (s *RepositoryIntegrationSuite) TestSetStatusInvalidatesStaleWriters() {
	userID := uuid.New()
	story := s.createStory(userID)

	stale, err := s.stories.GetByID(s.ctx, story.ID, userID)
	s.Require().NoError(err)

	// Частичное обновление тоже двигает версию строки.
	s.Require().NoError(s.stories.SetStatus(s.ctx, story.ID, userID, models.StatusSettingExpansion))

	stale.Title = "писал поверх смены статуса"
	err = s.stories.UpdateWithVersion(s.ctx, stale)
	s.ErrorIs(err, models.ErrVersionConflict)
}

func (s *RepositoryIntegrationSuite) TestStoryEmbeddedJSONFields() {
	userID := uuid.New()
	story := s.createStory(userID)

	live, err := s.stories.GetByID(s.ctx, story.ID, userID)
	s.Require().NoError(err)
	fileID := uuid.New()
	live.ExtractedCharacters = []models.Character{{Name: "Тим", Description: "лисенок"}}
	live.Pages = []models.StoryPage{
		{PageNumber: 1, Text: "один", ImageFileID: &fileID, ImageHistory: []models.ImageVersion{
			{FileID: fileID, Prompt: "p", CreatedAt: time.Now().UTC(), IsActive: true},
		}},
		{PageNumber: 2, Text: "два"},
	}
	s.Require().NoError(s.stories.UpdateWithVersion(s.ctx, live))

	got, err := s.stories.GetByID(s.ctx, story.ID, userID)
	s.Require().NoError(err)
	s.Require().Len(got.Pages, 2)
	s.Require().NotNil(got.Pages[0].ImageFileID)
	s.Equal(fileID, *got.Pages[0].ImageFileID)
	s.Require().Len(got.Pages[0].ImageHistory, 1)
	s.True(got.Pages[0].ImageHistory[0].IsActive)
	s.Len(got.ExtractedCharacters, 1)
}

func (s *RepositoryIntegrationSuite) TestRevisionNumberUniquePerStory() {
	userID := uuid.New()
	story := s.createStory(userID)

	makeRevision := func(number int) *models.Revision {
		return &models.Revision{
			ID:             uuid.New(),
			StoryID:        story.ID,
			RevisionNumber: number,
			Snapshot:       models.SnapshotOf(story),
			StepCompleted:  models.StepSetting,
			CreatedAt:      time.Now().UTC(),
		}
	}

	s.Require().NoError(s.revisions.Create(s.ctx, makeRevision(1)))

	// Повторный номер в той же истории отклоняется ограничением БД.
	err := s.revisions.Create(s.ctx, makeRevision(1))
	s.ErrorIs(err, models.ErrVersionConflict)

	// Тот же номер в другой истории допустим.
	other := s.createStory(userID)
	otherRevision := makeRevision(1)
	otherRevision.StoryID = other.ID
	s.Require().NoError(s.revisions.Create(s.ctx, otherRevision))

	max, err := s.revisions.MaxRevisionNumber(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal(1, max)

	list, err := s.revisions.ListByStory(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *RepositoryIntegrationSuite) TestTemplateUpsertAndUserValues() {
	userID := uuid.New()
	now := time.Now().UTC()
	tmpl := &models.ModelTemplate{
		ID:          uuid.New(),
		UserID:      userID,
		ModelID:     "stability-ai/sdxl",
		PromptField: "prompt",
		ImageFields: []string{"image"},
		ImageFieldTypes: map[string]models.ImageRole{
			"image": models.ImageRolePrimary,
		},
		UserValues: map[string]any{"width": float64(1024)},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.Require().NoError(s.templates.Upsert(s.ctx, tmpl))

	got, err := s.templates.Get(s.ctx, userID, "stability-ai/sdxl")
	s.Require().NoError(err)
	s.Equal("prompt", got.PromptField)
	s.Equal(models.ImageRolePrimary, got.ImageFieldTypes["image"])

	s.Require().NoError(s.templates.SaveUserValues(s.ctx, userID, "stability-ai/sdxl",
		map[string]any{"width": float64(768), "scheduler": "K_EULER"}))

	got, err = s.templates.Get(s.ctx, userID, "stability-ai/sdxl")
	s.Require().NoError(err)
	s.Equal(float64(768), got.UserValues["width"])
	s.Equal("K_EULER", got.UserValues["scheduler"])

	// Шаблон другого пользователя не виден.
	_, err = s.templates.Get(s.ctx, uuid.New(), "stability-ai/sdxl")
	s.ErrorIs(err, models.ErrTemplateNotFound)
}
