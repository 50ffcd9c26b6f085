package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/filestore"
	"storybook-server/internal/interfaces"
	"storybook-server/internal/interfaces/mocks"
	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
	"storybook-server/internal/provider"
	"storybook-server/internal/taskrunner"
	"storybook-server/internal/template"
)

// testDataURI - валидный inline-результат генерации, не требующий сети.
const testDataURI = "data:image/png;base64,cG5n"

// scriptedProvider - провайдер с программируемым ответом, записывающий
// все полученные запросы.
type scriptedProvider struct {
	name string
	fn   func(req provider.ImageRequest) (any, error)

	mu       sync.Mutex
	requests []provider.ImageRequest
}

var _ provider.ImageProvider = (*scriptedProvider)(nil)

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Generate(_ context.Context, req provider.ImageRequest) (any, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(req)
	}
	return testDataURI, nil
}

func (p *scriptedProvider) recorded() []provider.ImageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.ImageRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// fakeSchemaSource выдает фиксированную схему для любого modelID.
type fakeSchemaSource struct {
	schema models.ModelSchema
	err    error
}

func (s *fakeSchemaSource) GetModelSchema(_ context.Context, modelID string) (models.ModelSchema, error) {
	if s.err != nil {
		return models.ModelSchema{}, s.err
	}
	schema := s.schema
	schema.ModelID = modelID
	return schema, nil
}

type generationEnv struct {
	stories   *fakeStoryRepo
	guard     *fakeGuard
	direct    *scriptedProvider
	publisher *fakePublisher
	svc       *GenerationService
}

func newGenerationEnv(t *testing.T, stories *fakeStoryRepo, direct *scriptedProvider) *generationEnv {
	t.Helper()
	files, err := filestore.NewLocalFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return newGenerationEnvWith(t, stories, direct, files, config.ProviderDirect, nil, nil)
}

func newGenerationEnvWith(
	t *testing.T,
	stories *fakeStoryRepo,
	direct *scriptedProvider,
	files interfaces.FileStore,
	kind config.ProviderKind,
	resolver *template.Resolver,
	schemas SchemaSource,
) *generationEnv {
	t.Helper()
	guard := newFakeGuard()
	publisher := &fakePublisher{}
	svc := NewGenerationService(
		stories, files, guard, resolver, schemas,
		direct, direct, publisher,
		taskrunner.New(taskrunner.Config{MaxConcurrent: 2}),
		GenerationConfig{ProviderKind: kind, DefaultModel: "stability-ai/sdxl"},
		zap.NewNop(),
	)
	return &generationEnv{stories: stories, guard: guard, direct: direct, publisher: publisher, svc: svc}
}

func TestGenerateCoreImage_StoresFileAndLinksStory(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	story.CoreImageFileID = nil
	stories := newFakeStoryRepo(story)
	env := newGenerationEnv(t, stories, &scriptedProvider{name: "direct"})

	fileID, err := env.svc.GenerateCoreImage(context.Background(), story, GenerateOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, fileID)

	live := stories.mustGet(story.ID)
	require.NotNil(t, live.CoreImageFileID)
	assert.Equal(t, fileID, *live.CoreImageFileID)
}

func TestGenerateCoreImage_CustomPromptIsAdditive(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	direct := &scriptedProvider{name: "direct"}
	env := newGenerationEnv(t, newFakeStoryRepo(story), direct)

	_, err := env.svc.GenerateCoreImage(context.Background(), story, GenerateOptions{CustomPrompt: "make it snowy"})
	require.NoError(t, err)

	reqs := direct.recorded()
	require.Len(t, reqs, 1)
	// Нарративный контекст сохранен, пользовательская инструкция дописана.
	assert.Contains(t, reqs[0].Prompt, "Лиса и луна")
	assert.True(t, strings.HasSuffix(reqs[0].Prompt, "Modification request: make it snowy"))
}

func TestGeneratePageImage_UnknownPage(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	env := newGenerationEnv(t, newFakeStoryRepo(story), &scriptedProvider{name: "direct"})

	_, err := env.svc.GeneratePageImage(context.Background(), story, 99, GenerateOptions{})
	assert.ErrorIs(t, err, models.ErrPageNotFound)
}

func TestGeneratePageImage_HistoryKeepsSingleActiveVersion(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	stories := newFakeStoryRepo(story)
	env := newGenerationEnv(t, stories, &scriptedProvider{name: "direct"})
	ctx := context.Background()

	var fileIDs []uuid.UUID
	for i := 0; i < 3; i++ {
		live := stories.mustGet(story.ID)
		fileID, err := env.svc.GeneratePageImage(ctx, live, 2, GenerateOptions{})
		require.NoError(t, err)
		fileIDs = append(fileIDs, fileID)
	}

	page := stories.mustGet(story.ID).FindPage(2)
	require.NotNil(t, page)
	require.Len(t, page.ImageHistory, 3)

	// Записи идут в порядке создания; активна только последняя.
	for i, version := range page.ImageHistory {
		assert.Equal(t, fileIDs[i], version.FileID)
		assert.Equal(t, i == 2, version.IsActive)
	}
	active := page.ActiveImage()
	require.NotNil(t, active)
	require.NotNil(t, page.ImageFileID)
	assert.Equal(t, active.FileID, *page.ImageFileID)
	assert.Equal(t, fileIDs[2], *page.ImageFileID)
}

func TestGeneratePageImage_CoreImageUsedAsReference(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	coreID := uuid.New()
	story.CoreImageFileID = &coreID
	direct := &scriptedProvider{name: "direct"}
	env := newGenerationEnv(t, newFakeStoryRepo(story), direct)

	_, err := env.svc.GeneratePageImage(context.Background(), story, 1, GenerateOptions{})
	require.NoError(t, err)

	reqs := direct.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/files/"+coreID.String(), reqs[0].ReferenceImage)
}

func TestGeneratePageImage_NoCoreImageNoReference(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	story.CoreImageFileID = nil
	direct := &scriptedProvider{name: "direct"}
	env := newGenerationEnv(t, newFakeStoryRepo(story), direct)

	_, err := env.svc.GeneratePageImage(context.Background(), story, 1, GenerateOptions{})
	require.NoError(t, err)

	reqs := direct.recorded()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].ReferenceImage)
}

func TestGenerate_CredentialMissingFailsFast(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	direct := &scriptedProvider{name: "direct", fn: func(provider.ImageRequest) (any, error) {
		return nil, models.ErrCredentialMissing
	}}
	env := newGenerationEnv(t, newFakeStoryRepo(story), direct)

	_, err := env.svc.GenerateCoreImage(context.Background(), story, GenerateOptions{})
	assert.ErrorIs(t, err, models.ErrCredentialMissing)
}

func TestGenerate_UnrecognizedResponse(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	direct := &scriptedProvider{name: "direct", fn: func(provider.ImageRequest) (any, error) {
		return map[string]any{"status": "ok"}, nil
	}}
	env := newGenerationEnv(t, newFakeStoryRepo(story), direct)

	_, err := env.svc.GenerateCoreImage(context.Background(), story, GenerateOptions{})
	var unrec *models.UnrecognizedResponseError
	assert.True(t, errors.As(err, &unrec))
}

func TestStartBatchGeneration_Gating(t *testing.T) {
	userID := uuid.New()
	ctx := context.Background()

	t.Run("wrong status", func(t *testing.T) {
		story := storyWithPages(userID)
		story.Status = models.StatusDraft
		env := newGenerationEnv(t, newFakeStoryRepo(story), &scriptedProvider{name: "direct"})

		err := env.svc.StartBatchGeneration(ctx, story.ID, userID)
		assert.ErrorIs(t, err, models.ErrInvalidStatus)
	})

	t.Run("no pages", func(t *testing.T) {
		story := storyWithPages(userID)
		story.Pages = nil
		env := newGenerationEnv(t, newFakeStoryRepo(story), &scriptedProvider{name: "direct"})

		err := env.svc.StartBatchGeneration(ctx, story.ID, userID)
		assert.ErrorIs(t, err, models.ErrInvalidStatus)
	})

	t.Run("active generation held", func(t *testing.T) {
		story := storyWithPages(userID)
		env := newGenerationEnv(t, newFakeStoryRepo(story), &scriptedProvider{name: "direct"})
		require.NoError(t, env.guard.Acquire(ctx, story.ID, time.Minute))

		err := env.svc.StartBatchGeneration(ctx, story.ID, userID)
		assert.ErrorIs(t, err, models.ErrUserHasActiveGeneration)
		// Статус не переведен в generating_images.
		assert.Equal(t, models.StatusTextApproved, env.stories.mustGet(story.ID).Status)
	})
}

func TestStartBatchGeneration_CompletesStory(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	stories := newFakeStoryRepo(story)
	env := newGenerationEnv(t, stories, &scriptedProvider{name: "direct"})

	require.NoError(t, env.svc.StartBatchGeneration(context.Background(), story.ID, userID))

	require.Eventually(t, func() bool {
		return stories.mustGet(story.ID).Status == models.StatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	live := stories.mustGet(story.ID)
	assert.NotNil(t, live.CoreImageFileID)
	for _, page := range live.Pages {
		assert.NotNil(t, page.ImageFileID, "page %d", page.PageNumber)
	}
	assert.False(t, env.guard.isHeld(story.ID))
	assert.Contains(t, env.publisher.eventTypes(), messaging.EventGenerationStarted)
	assert.Contains(t, env.publisher.eventTypes(), messaging.EventGenerationCompleted)
}

func TestRunBatch_PartialFailureKeepsFinishedPages(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	story.TotalPages = 3
	story.Pages = []models.StoryPage{
		{PageNumber: 1, Text: "один"},
		{PageNumber: 2, Text: "два"},
		{PageNumber: 3, Text: "три"},
	}
	story.CoreImageFileID = nil
	stories := newFakeStoryRepo(story)

	// Страница 3 падает, остальные задачи успешны.
	direct := &scriptedProvider{name: "direct", fn: func(req provider.ImageRequest) (any, error) {
		if strings.Contains(req.Prompt, "page 3 of") {
			return nil, models.NewProviderError("direct", errors.New("model overloaded"))
		}
		return testDataURI, nil
	}}
	env := newGenerationEnv(t, stories, direct)
	ctx := context.Background()

	require.NoError(t, env.guard.Acquire(ctx, story.ID, time.Minute))
	require.NoError(t, stories.SetStatus(ctx, story.ID, userID, models.StatusGeneratingImages))

	env.svc.runBatch(stories.mustGet(story.ID))

	live := stories.mustGet(story.ID)
	// Откат в text_approved, но успевшие изображения не выбрасываются.
	assert.Equal(t, models.StatusTextApproved, live.Status)
	assert.NotNil(t, live.CoreImageFileID)
	assert.NotNil(t, live.FindPage(1).ImageFileID)
	assert.NotNil(t, live.FindPage(2).ImageFileID)
	assert.Nil(t, live.FindPage(3).ImageFileID)

	assert.False(t, env.guard.isHeld(story.ID))
	assert.Contains(t, env.publisher.eventTypes(), messaging.EventGenerationError)
	assert.NotContains(t, env.publisher.eventTypes(), messaging.EventGenerationCompleted)
}

func TestRunBatch_RollbackOutlivesBatchDeadline(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	stories := newFakeStoryRepo(story)

	// Задачи не успевают до дедлайна пакета.
	direct := &scriptedProvider{name: "direct", fn: func(provider.ImageRequest) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, errors.New("hub timeout")
	}}
	guard := newFakeGuard()
	files, err := filestore.NewLocalFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	publisher := &fakePublisher{}
	svc := NewGenerationService(
		stories, files, guard, nil, nil,
		direct, direct, publisher,
		taskrunner.New(taskrunner.Config{MaxConcurrent: 2}),
		GenerationConfig{
			ProviderKind: config.ProviderDirect,
			DefaultModel: "stability-ai/sdxl",
			BatchTimeout: time.Millisecond,
		},
		zap.NewNop(),
	)
	ctx := context.Background()

	require.NoError(t, guard.Acquire(ctx, story.ID, time.Minute))
	require.NoError(t, stories.SetStatus(ctx, story.ID, userID, models.StatusGeneratingImages))

	svc.runBatch(stories.mustGet(story.ID))

	// Контекст пакета истек, но откат статуса и освобождение стража прошли.
	assert.Equal(t, models.StatusTextApproved, stories.mustGet(story.ID).Status)
	assert.False(t, guard.isHeld(story.ID))
	assert.Contains(t, publisher.eventTypes(), messaging.EventGenerationError)
}

func TestBatchTasks_ReportStatusesAndOwnership(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	stories := newFakeStoryRepo(story)
	env := newGenerationEnv(t, stories, &scriptedProvider{name: "direct"})
	ctx := context.Background()

	require.NoError(t, env.svc.StartBatchGeneration(ctx, story.ID, userID))
	require.Eventually(t, func() bool {
		return stories.mustGet(story.ID).Status == models.StatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	tasks, err := env.svc.BatchTasks(ctx, story.ID, userID)
	require.NoError(t, err)
	require.Len(t, tasks, len(story.Pages)+1)
	for _, task := range tasks {
		assert.Equal(t, taskrunner.TaskStatusCompleted, task.Status)
	}

	// Чужой пользователь не видит задач истории.
	_, err = env.svc.BatchTasks(ctx, story.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrStoryNotFound)
}

func TestBuildRequest_TemplatePath(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	coreID := uuid.New()
	story.CoreImageFileID = &coreID
	stories := newFakeStoryRepo(story)

	repo := new(mocks.TemplateRepository)
	repo.On("Get", mock.Anything, userID, "stability-ai/sdxl").Return(&models.ModelTemplate{
		UserID:      userID,
		ModelID:     "stability-ai/sdxl",
		PromptField: "prompt",
		ImageFields: []string{"image"},
		ImageFieldTypes: map[string]models.ImageRole{
			"image": models.ImageRoleReference,
		},
		UserValues: map[string]any{"width": 768},
	}, nil)
	resolver := template.NewResolver(repo, template.NewRuleClassifier(), zap.NewNop())
	schemas := &fakeSchemaSource{schema: models.ModelSchema{Fields: []models.SchemaField{
		{Name: "prompt", Type: "string"},
		{Name: "image", Type: "string", Description: "reference image"},
	}}}

	files, err := filestore.NewLocalFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	tmplProvider := &scriptedProvider{name: "hub"}
	env := newGenerationEnvWith(t, stories, tmplProvider, files, config.ProviderTemplate, resolver, schemas)

	_, err = env.svc.GeneratePageImage(context.Background(), story, 1, GenerateOptions{
		CustomInput: map[string]any{"seed": 42, "prompt": "injected"},
	})
	require.NoError(t, err)

	reqs := tmplProvider.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "stability-ai/sdxl", reqs[0].ModelID)
	// Placeholder обложки разрешен в ссылку на файл.
	assert.Equal(t, "/files/"+coreID.String(), reqs[0].Input["image"])
	assert.Equal(t, 768, reqs[0].Input["width"])
	// CustomInput дополняет вход, но не может подменить промпт.
	assert.Equal(t, 42, reqs[0].Input["seed"])
	assert.Contains(t, reqs[0].Input["prompt"], "Illustration for page 1")
}

func TestBuildRequest_StoredTemplateSurvivesSchemaOutage(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	stories := newFakeStoryRepo(story)

	repo := new(mocks.TemplateRepository)
	repo.On("Get", mock.Anything, userID, "stability-ai/sdxl").Return(&models.ModelTemplate{
		UserID:      userID,
		ModelID:     "stability-ai/sdxl",
		PromptField: "scene_description",
		UserValues:  map[string]any{"steps": 50},
	}, nil)
	resolver := template.NewResolver(repo, template.NewRuleClassifier(), zap.NewNop())
	// Эндпоинт схем лежит; выученный шаблон существует независимо от него
	// и продолжает вести запрос.
	schemas := &fakeSchemaSource{err: errors.New("schema endpoint down")}

	files, err := filestore.NewLocalFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	tmplProvider := &scriptedProvider{name: "hub"}
	env := newGenerationEnvWith(t, stories, tmplProvider, files, config.ProviderTemplate, resolver, schemas)

	_, err = env.svc.GenerateCoreImage(context.Background(), story, GenerateOptions{})
	require.NoError(t, err)

	reqs := tmplProvider.recorded()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Input["scene_description"], "Лиса и луна")
	assert.Equal(t, 50, reqs[0].Input["steps"])
	_, hasDefaultWidth := reqs[0].Input["width"]
	assert.False(t, hasDefaultWidth, "фиксированные параметры не должны подменять шаблон")
}

func TestBuildRequest_BrokenModelRemappedToDefault(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	stories := newFakeStoryRepo(story)

	files, err := filestore.NewLocalFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	tmplProvider := &scriptedProvider{name: "hub"}
	// Шаблона еще нет и схема недоступна: вход собирается из параметров
	// по умолчанию.
	repo := new(mocks.TemplateRepository)
	repo.On("Get", mock.Anything, userID, "stability-ai/sdxl").Return(nil, models.ErrTemplateNotFound)
	resolver := template.NewResolver(repo, template.NewRuleClassifier(), zap.NewNop())
	schemas := &fakeSchemaSource{err: errors.New("schema endpoint down")}
	env := newGenerationEnvWith(t, stories, tmplProvider, files, config.ProviderTemplate, resolver, schemas)

	_, err = env.svc.GenerateCoreImage(context.Background(), story, GenerateOptions{
		CustomModel: "cjwbw/anything-v3",
	})
	require.NoError(t, err)

	reqs := tmplProvider.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "stability-ai/sdxl", reqs[0].ModelID)
	assert.Equal(t, 1024, reqs[0].Input["width"])
	assert.Equal(t, 30, reqs[0].Input["num_inference_steps"])
}
