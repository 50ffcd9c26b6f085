package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/interfaces"
	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
	"storybook-server/internal/provider"
	"storybook-server/internal/taskrunner"
	"storybook-server/internal/template"
)

var (
	imageGenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storybook_image_generations_total",
		Help: "Количество запросов генерации изображений",
	}, []string{"provider", "target", "status"})

	imageGenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storybook_image_generation_duration_seconds",
		Help:    "Длительность генерации одного изображения",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"provider", "target"})
)

// defaultBatchTimeout ограничивает фоновую пакетную генерацию целиком.
const defaultBatchTimeout = 30 * time.Minute

// brokenModels - модели, известные как неработающие на хабе; сохраненное
// предпочтение пользователя на такую модель заменяется моделью по умолчанию.
var brokenModels = map[string]bool{
	"stability-ai/stable-diffusion": true,
	"cjwbw/anything-v3":             true,
}

// SchemaSource выдает входную схему модели по ее идентификатору.
type SchemaSource interface {
	GetModelSchema(ctx context.Context, modelID string) (models.ModelSchema, error)
}

// GenerateOptions - опции одиночной генерации изображения.
type GenerateOptions struct {
	// CustomPrompt дописывается к производному промпту как аддитивная
	// инструкция, а не заменяет его.
	CustomPrompt string
	// UseCurrentImageAsReference передает текущее изображение цели
	// как референс консистентности.
	UseCurrentImageAsReference bool
	// CustomModel переопределяет модель template-driven провайдера.
	CustomModel string
	// CustomInput - дополнительные значения входа модели; зарезервированные
	// шаблоном поля (промпт, изображения) не перезаписываются.
	CustomInput map[string]any
}

// GenerationService - оркестратор генерации изображений: выбор провайдера,
// сборка запроса по шаблону, нормализация ответа, скачивание, сохранение
// в файловое хранилище и запись ссылки на историю.
type GenerationService struct {
	stories        interfaces.StoryRepository
	files          interfaces.FileStore
	guard          interfaces.GenerationGuard
	resolver       *template.Resolver
	schemas        SchemaSource
	direct         provider.ImageProvider
	templateDriven provider.ImageProvider
	publisher      messaging.StoryEventPublisher
	runner         *taskrunner.Runner
	httpClient     *http.Client

	providerKind config.ProviderKind
	defaultModel string
	guardTTL     time.Duration
	batchTimeout time.Duration
	logger       *zap.Logger
}

// GenerationConfig - статические настройки оркестратора.
type GenerationConfig struct {
	ProviderKind config.ProviderKind
	DefaultModel string
	GuardTTL     time.Duration
	BatchTimeout time.Duration
}

// NewGenerationService создает GenerationService.
func NewGenerationService(
	stories interfaces.StoryRepository,
	files interfaces.FileStore,
	guard interfaces.GenerationGuard,
	resolver *template.Resolver,
	schemas SchemaSource,
	direct provider.ImageProvider,
	templateDriven provider.ImageProvider,
	publisher messaging.StoryEventPublisher,
	runner *taskrunner.Runner,
	cfg GenerationConfig,
	logger *zap.Logger,
) *GenerationService {
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = 15 * time.Minute
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	return &GenerationService{
		stories:        stories,
		files:          files,
		guard:          guard,
		resolver:       resolver,
		schemas:        schemas,
		direct:         direct,
		templateDriven: templateDriven,
		publisher:      publisher,
		runner:         runner,
		httpClient:     &http.Client{Timeout: 2 * time.Minute},
		providerKind:   cfg.ProviderKind,
		defaultModel:   cfg.DefaultModel,
		guardTTL:       cfg.GuardTTL,
		batchTimeout:   cfg.BatchTimeout,
		logger:         logger.Named("GenerationService"),
	}
}

// GenerateCoreImage генерирует обложку истории и возвращает ID локального
// файла. Ссылка записывается на историю с оптимистичным повтором.
func (s *GenerationService) GenerateCoreImage(ctx context.Context, story *models.Story, opts GenerateOptions) (uuid.UUID, error) {
	prompt := applyCustomPrompt(buildCoreImagePrompt(story), opts.CustomPrompt)

	images := template.ImageSet{}
	if opts.UseCurrentImageAsReference && story.CoreImageFileID != nil {
		images.Reference = fileURL(*story.CoreImageFileID)
	}

	fileID, err := s.generateAndStore(ctx, story, models.FileRoleCore, prompt, images, opts)
	if err != nil {
		return uuid.Nil, err
	}

	_, err = mutateStoryWithRetry(ctx, s.stories, story.ID, story.UserID, func(live *models.Story) error {
		live.CoreImageFileID = &fileID
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: ошибка записи ссылки на обложку: %v", models.ErrStorageFailure, err)
	}
	return fileID, nil
}

// GeneratePageImage генерирует иллюстрацию страницы. Предыдущее активное
// изображение уходит в историю страницы неактивным, новое становится активным.
func (s *GenerationService) GeneratePageImage(ctx context.Context, story *models.Story, pageNumber int, opts GenerateOptions) (uuid.UUID, error) {
	page := story.FindPage(pageNumber)
	if page == nil {
		return uuid.Nil, fmt.Errorf("%w: page %d", models.ErrPageNotFound, pageNumber)
	}

	prompt := applyCustomPrompt(buildPageImagePrompt(story, page), opts.CustomPrompt)

	// Обложка как референс консистентности персонажей. Placeholder
	// разрешается при сборке запроса, так что свежая перегенерация
	// обложки автоматически видна последующим страницам.
	images := template.ImageSet{Reference: template.PlaceholderCoreImage}
	if opts.UseCurrentImageAsReference && page.ImageFileID != nil {
		images.Primary = fileURL(*page.ImageFileID)
	}

	fileID, err := s.generateAndStore(ctx, story, models.FileRolePage(pageNumber), prompt, images, opts)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.persistPageImage(ctx, story.ID, story.UserID, pageNumber, fileID, prompt); err != nil {
		return uuid.Nil, err
	}
	return fileID, nil
}

// StartBatchGeneration запускает единую генерацию обложки и всех страниц.
// Гейтинг статуса, захват стража и перевод в generating_images выполняются
// синхронно; сами задачи выполняются в фоне без отмены на середине.
func (s *GenerationService) StartBatchGeneration(ctx context.Context, storyID, userID uuid.UUID) error {
	story, err := s.stories.GetByID(ctx, storyID, userID)
	if err != nil {
		return err
	}
	if story.Status != models.StatusTextApproved {
		return fmt.Errorf("%w: batch generation requires status %s, story is %s",
			models.ErrInvalidStatus, models.StatusTextApproved, story.Status)
	}
	if len(story.Pages) == 0 {
		return fmt.Errorf("%w: story has no pages to illustrate", models.ErrInvalidStatus)
	}

	if err := s.guard.Acquire(ctx, storyID, s.guardTTL); err != nil {
		return err
	}

	if err := s.stories.SetStatus(ctx, storyID, userID, models.StatusGeneratingImages); err != nil {
		if relErr := s.guard.Release(ctx, storyID); relErr != nil {
			s.logger.Error("Failed to release guard after status error", zap.Error(relErr))
		}
		return err
	}
	s.publishEvent(ctx, story, messaging.EventGenerationStarted, "", "")

	go s.runBatch(story)
	return nil
}

// BatchTasks возвращает задачи пакетной генерации истории со статусами.
// Завершенные задачи живут в реестре до фоновой уборки.
func (s *GenerationService) BatchTasks(ctx context.Context, storyID, userID uuid.UUID) ([]taskrunner.Task, error) {
	if _, err := s.stories.GetByID(ctx, storyID, userID); err != nil {
		return nil, err
	}
	return s.runner.TasksByStory(storyID), nil
}

// runBatch выполняет пакет в фоне. Ошибка любой задачи откатывает статус
// в text_approved; изображения уже завершившихся страниц при этом
// сохраняются, пользователь повторяет только недостающее.
func (s *GenerationService) runBatch(story *models.Story) {
	ctx, cancel := context.WithTimeout(context.Background(), s.batchTimeout)
	defer cancel()

	// Финализация не разделяет дедлайн пакета: откат статуса и освобождение
	// стража обязаны пройти и тогда, когда пакет упал по таймауту.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer finishCancel()
	defer func() {
		if err := s.guard.Release(finishCtx, story.ID); err != nil {
			s.logger.Error("Failed to release generation guard", zap.String("storyID", story.ID.String()), zap.Error(err))
		}
	}()

	batch := make([]taskrunner.BatchTask, 0, len(story.Pages)+1)
	batch = append(batch, taskrunner.BatchTask{
		Name: string(models.FileRoleCore),
		Fn: func(ctx context.Context) error {
			_, err := s.GenerateCoreImage(ctx, story, GenerateOptions{})
			s.publishProgress(ctx, story, string(models.FileRoleCore), err)
			return err
		},
	})
	for _, page := range story.Pages {
		pageNumber := page.PageNumber
		batch = append(batch, taskrunner.BatchTask{
			Name: string(models.FileRolePage(pageNumber)),
			Fn: func(ctx context.Context) error {
				_, err := s.GeneratePageImage(ctx, story, pageNumber, GenerateOptions{})
				s.publishProgress(ctx, story, string(models.FileRolePage(pageNumber)), err)
				return err
			},
		})
	}

	results := s.runner.RunBatch(ctx, story.ID, batch)

	var failed []string
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.Name)
			s.logger.Error("Batch generation task failed",
				zap.String("storyID", story.ID.String()),
				zap.String("target", res.Name),
				zap.Error(res.Err),
			)
		}
	}

	if len(failed) > 0 {
		if err := s.stories.SetStatus(finishCtx, story.ID, story.UserID, models.StatusTextApproved); err != nil {
			s.logger.Error("Failed to roll back story status", zap.String("storyID", story.ID.String()), zap.Error(err))
		}
		s.publishEvent(finishCtx, story, messaging.EventGenerationError, "",
			fmt.Sprintf("generation failed for: %v", failed))
		return
	}

	if err := s.stories.SetStatus(finishCtx, story.ID, story.UserID, models.StatusComplete); err != nil {
		s.logger.Error("Failed to mark story complete", zap.String("storyID", story.ID.String()), zap.Error(err))
		return
	}
	s.publishEvent(finishCtx, story, messaging.EventGenerationCompleted, "", "")
	s.logger.Info("Batch generation completed", zap.String("storyID", story.ID.String()), zap.Int("tasks", len(results)))
}

// generateAndStore - общий путь одиночной генерации: провайдер, нормализация
// ответа, скачивание и запись в файловое хранилище. Возвращает ID файла.
func (s *GenerationService) generateAndStore(
	ctx context.Context,
	story *models.Story,
	role models.FileRole,
	prompt string,
	images template.ImageSet,
	opts GenerateOptions,
) (uuid.UUID, error) {
	prov, req, err := s.buildRequest(ctx, story, prompt, images, opts)
	if err != nil {
		imageGenerationsTotal.WithLabelValues(s.providerName(), string(role), "build_error").Inc()
		return uuid.Nil, err
	}

	start := time.Now()
	raw, err := prov.Generate(ctx, req)
	imageGenerationDuration.WithLabelValues(prov.Name(), string(role)).Observe(time.Since(start).Seconds())
	if err != nil {
		imageGenerationsTotal.WithLabelValues(prov.Name(), string(role), "provider_error").Inc()
		var provErr *models.ProviderError
		if errors.As(err, &provErr) || errors.Is(err, models.ErrCredentialMissing) {
			return uuid.Nil, err
		}
		return uuid.Nil, models.NewProviderError(prov.Name(), err)
	}

	url, err := provider.NormalizeResponse(prov.Name(), raw)
	if err != nil {
		imageGenerationsTotal.WithLabelValues(prov.Name(), string(role), "unrecognized_response").Inc()
		return uuid.Nil, err
	}

	data, mimeType, err := provider.Download(ctx, s.httpClient, url)
	if err != nil {
		imageGenerationsTotal.WithLabelValues(prov.Name(), string(role), "download_error").Inc()
		return uuid.Nil, fmt.Errorf("%w: ошибка скачивания результата: %v", models.ErrStorageFailure, err)
	}

	meta, err := s.files.Store(ctx, data, derivedFilename(role, mimeType), mimeType, story.ID, role)
	if err != nil {
		imageGenerationsTotal.WithLabelValues(prov.Name(), string(role), "storage_error").Inc()
		return uuid.Nil, fmt.Errorf("%w: %v", models.ErrStorageFailure, err)
	}

	imageGenerationsTotal.WithLabelValues(prov.Name(), string(role), "success").Inc()
	s.logger.Info("Image generated and stored",
		zap.String("storyID", story.ID.String()),
		zap.String("role", string(role)),
		zap.String("provider", prov.Name()),
		zap.String("fileID", meta.ID.String()),
	)
	return meta.ID, nil
}

// buildRequest выбирает провайдера по настройке пользователя и собирает
// его запрос. Генерация идет одним провайдером от начала до конца,
// тихого фолбэка между провайдерами нет.
func (s *GenerationService) buildRequest(
	ctx context.Context,
	story *models.Story,
	prompt string,
	images template.ImageSet,
	opts GenerateOptions,
) (provider.ImageProvider, provider.ImageRequest, error) {
	if s.providerKind == config.ProviderDirect {
		ref := firstImage(images)
		if ref == template.PlaceholderCoreImage {
			ref = ""
			if story.CoreImageFileID != nil {
				ref = fileURL(*story.CoreImageFileID)
			}
		}
		return s.direct, provider.ImageRequest{
			Prompt:         prompt,
			ReferenceImage: ref,
		}, nil
	}

	modelID := opts.CustomModel
	if modelID == "" {
		modelID = s.defaultModel
	}
	if brokenModels[modelID] {
		s.logger.Warn("Known-broken model replaced with default",
			zap.String("requested", modelID), zap.String("default", s.defaultModel))
		modelID = s.defaultModel
	}

	input := s.resolveModelInput(ctx, story, modelID, prompt, images)
	for key, value := range opts.CustomInput {
		if _, taken := input[key]; key == "prompt" || taken {
			continue
		}
		input[key] = value
	}

	return s.templateDriven, provider.ImageRequest{
		Prompt:  prompt,
		ModelID: modelID,
		Input:   input,
	}, nil
}

// resolveModelInput строит вход модели по выученному шаблону. Если шаблона
// нет и схему модели получить не удалось, используется фиксированный набор
// параметров без инжекции изображений.
func (s *GenerationService) resolveModelInput(
	ctx context.Context,
	story *models.Story,
	modelID, prompt string,
	images template.ImageSet,
) map[string]any {
	tmpl, err := s.lookupOrLearnTemplate(ctx, story.UserID, modelID)
	if err != nil {
		s.logger.Warn("Template resolution failed, using default input",
			zap.String("modelID", modelID), zap.Error(err))
		return template.DefaultModelInput(prompt)
	}

	resolvePlaceholder := func(placeholder string) (string, bool) {
		if placeholder == template.PlaceholderCoreImage && story.CoreImageFileID != nil {
			return fileURL(*story.CoreImageFileID), true
		}
		return "", false
	}
	return template.BuildModelInput(tmpl, prompt, images, resolvePlaceholder)
}

// lookupOrLearnTemplate сначала читает сохраненный шаблон: он существует
// независимо от эндпоинта схем хаба и переживает его недоступность. Схема
// модели запрашивается только при первом знакомстве с моделью.
func (s *GenerationService) lookupOrLearnTemplate(ctx context.Context, userID uuid.UUID, modelID string) (*models.ModelTemplate, error) {
	tmpl, err := s.resolver.Lookup(ctx, userID, modelID)
	if err == nil {
		return tmpl, nil
	}
	if !errors.Is(err, models.ErrTemplateNotFound) {
		return nil, err
	}

	schema, err := s.schemas.GetModelSchema(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("схема модели %s недоступна: %w", modelID, err)
	}
	return s.resolver.Resolve(ctx, userID, schema)
}

// persistPageImage записывает новый файл страницы с оптимистичным повтором:
// конкурентные завершения страниц одной истории не теряют обновлений.
func (s *GenerationService) persistPageImage(ctx context.Context, storyID, userID uuid.UUID, pageNumber int, fileID uuid.UUID, prompt string) error {
	_, err := mutateStoryWithRetry(ctx, s.stories, storyID, userID, func(live *models.Story) error {
		page := live.FindPage(pageNumber)
		if page == nil {
			return fmt.Errorf("%w: page %d", models.ErrPageNotFound, pageNumber)
		}
		for i := range page.ImageHistory {
			page.ImageHistory[i].IsActive = false
		}
		page.ImageHistory = append(page.ImageHistory, models.ImageVersion{
			FileID:    fileID,
			Prompt:    prompt,
			CreatedAt: time.Now().UTC(),
			IsActive:  true,
		})
		page.ImageFileID = &fileID
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrPageNotFound) || errors.Is(err, models.ErrStoryNotFound) {
			return err
		}
		return fmt.Errorf("%w: ошибка записи изображения страницы %d: %v", models.ErrStorageFailure, pageNumber, err)
	}
	return nil
}

func (s *GenerationService) providerName() string {
	if s.providerKind == config.ProviderDirect {
		return s.direct.Name()
	}
	return s.templateDriven.Name()
}

func (s *GenerationService) publishProgress(ctx context.Context, story *models.Story, target string, taskErr error) {
	details := ""
	if taskErr != nil {
		details = taskErr.Error()
	}
	s.publishEvent(ctx, story, messaging.EventGenerationProgress, target, details)
}

func (s *GenerationService) publishEvent(ctx context.Context, story *models.Story, eventType messaging.StoryEventType, target, details string) {
	if s.publisher == nil {
		return
	}
	payload := messaging.StoryEventPayload{
		EventType:    eventType,
		StoryID:      story.ID.String(),
		UserID:       story.UserID.String(),
		Target:       target,
		ErrorDetails: details,
		OccurredAt:   time.Now().UTC(),
	}
	if err := s.publisher.PublishStoryEvent(ctx, payload); err != nil {
		s.logger.Warn("Failed to publish generation event",
			zap.String("eventType", string(eventType)), zap.Error(err))
	}
}

// fileURL - внутренняя ссылка на сохраненный файл, пригодная как референс.
func fileURL(fileID uuid.UUID) string {
	return "/files/" + fileID.String()
}

// firstImage возвращает наиболее приоритетное изображение набора для
// провайдеров с единственным референс-входом.
func firstImage(images template.ImageSet) string {
	switch {
	case images.Primary != "":
		return images.Primary
	case images.Reference != "":
		return images.Reference
	case images.Style != "":
		return images.Style
	}
	return ""
}

// derivedFilename собирает имя файла из роли и mime-типа.
func derivedFilename(role models.FileRole, mimeType string) string {
	ext := ".png"
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("%s-%d%s", role, time.Now().UnixMilli(), ext)
}
