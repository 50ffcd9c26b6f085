package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/models"
	"storybook-server/internal/service"
	"storybook-server/internal/template"
)

// StorybookHandler обрабатывает HTTP запросы сервиса.
type StorybookHandler struct {
	stories   *service.StoryService
	revisions *service.RevisionService
	resolver  *template.Resolver
	files     interfaces.FileStore
	logger    *zap.Logger
	jwtSecret string
}

// NewStorybookHandler создает StorybookHandler.
func NewStorybookHandler(
	stories *service.StoryService,
	revisions *service.RevisionService,
	resolver *template.Resolver,
	files interfaces.FileStore,
	jwtSecret string,
	logger *zap.Logger,
) *StorybookHandler {
	return &StorybookHandler{
		stories:   stories,
		revisions: revisions,
		resolver:  resolver,
		files:     files,
		logger:    logger.Named("StorybookHandler"),
		jwtSecret: jwtSecret,
	}
}

// RegisterRoutes регистрирует маршруты сервиса.
func (h *StorybookHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Файлы отдаются без авторизации: ID файла непредсказуем (uuid4),
	// а содержимое неизменяемо.
	router.GET("/files/:id", h.serveFile)

	authMiddleware := AuthMiddleware(h.jwtSecret, h.logger)
	api := router.Group("/api", authMiddleware)
	{
		storiesGroup := api.Group("/stories")
		{
			storiesGroup.POST("", h.createStory)
			storiesGroup.GET("", h.listStories)
			storiesGroup.GET("/:id", h.getStory)
			storiesGroup.PUT("/:id/bookmark", h.setBookmark)

			storiesGroup.POST("/:id/expand-setting", h.expandSetting)
			storiesGroup.POST("/:id/extract-characters", h.extractCharacters)
			storiesGroup.POST("/:id/approve-characters", h.approveCharacters)
			storiesGroup.POST("/:id/generate-images", h.generateImages)
			storiesGroup.GET("/:id/generation/tasks", h.generationTasks)
			storiesGroup.POST("/:id/core-image", h.regenerateCoreImage)
			storiesGroup.POST("/:id/pages/:page/image", h.regeneratePageImage)

			storiesGroup.POST("/:id/steps/:step", h.saveStep)
			storiesGroup.GET("/:id/revisions", h.listRevisions)
			storiesGroup.POST("/:id/revisions/:number/load", h.loadRevision)
		}

		api.PUT("/templates/:modelId/values", h.saveTemplateValues)
	}
}

func (h *StorybookHandler) createStory(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return
	}
	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body for createStory", zap.Stringer("userID", userID), zap.Error(err))
		handleServiceError(c, fmt.Errorf("%w: %v", models.ErrBadRequest, err), h.logger)
		return
	}

	story, err := h.stories.CreateStory(c.Request.Context(), userID, service.CreateStoryInput{
		Title:         req.Title,
		Setting:       req.Setting,
		Characters:    req.Characters,
		Plot:          req.Plot,
		AgeGroup:      req.AgeGroup,
		TotalPages:    req.TotalPages,
		StoryGuidance: req.StoryGuidance,
	})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, story)
}

func (h *StorybookHandler) listStories(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return
	}
	stories, err := h.stories.ListStories(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, stories)
}

func (h *StorybookHandler) getStory(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	story, err := h.stories.GetStory(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *StorybookHandler) setBookmark(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	var req bookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleServiceError(c, fmt.Errorf("%w: %v", models.ErrBadRequest, err), h.logger)
		return
	}
	if err := h.stories.SetBookmarked(c.Request.Context(), storyID, userID, req.Bookmarked); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StorybookHandler) expandSetting(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	story, err := h.stories.ExpandSetting(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *StorybookHandler) extractCharacters(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	story, err := h.stories.ExtractCharacters(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *StorybookHandler) approveCharacters(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	story, err := h.stories.ApproveCharacters(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, story)
}

// generateImages запускает единую фоновую генерацию обложки и всех страниц.
func (h *StorybookHandler) generateImages(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	if err := h.stories.ApproveStory(c.Request.Context(), storyID, userID); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": string(models.StatusGeneratingImages)})
}

// generationTasks отдает статусы задач текущего (или последнего) пакета.
func (h *StorybookHandler) generationTasks(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	tasks, err := h.stories.GenerationTasks(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, toGenerationTaskResponses(tasks))
}

func (h *StorybookHandler) regenerateCoreImage(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	var req generateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		handleServiceError(c, fmt.Errorf("%w: %v", models.ErrBadRequest, err), h.logger)
		return
	}
	fileID, err := h.stories.RegenerateCoreImage(c.Request.Context(), storyID, userID, req.toOptions())
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, fileIDResponse{FileID: fileID.String()})
}

func (h *StorybookHandler) regeneratePageImage(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	pageNumber, err := strconv.Atoi(c.Param("page"))
	if err != nil || pageNumber < 1 {
		handleServiceError(c, fmt.Errorf("%w: invalid page number", models.ErrBadRequest), h.logger)
		return
	}
	var req generateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		handleServiceError(c, fmt.Errorf("%w: %v", models.ErrBadRequest, err), h.logger)
		return
	}
	fileID, err := h.stories.RegeneratePageImage(c.Request.Context(), storyID, userID, pageNumber, req.toOptions())
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, fileIDResponse{FileID: fileID.String()})
}

func (h *StorybookHandler) saveStep(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	step := models.WorkflowStep(c.Param("step"))
	var req saveStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleServiceError(c, fmt.Errorf("%w: %v", models.ErrBadRequest, err), h.logger)
		return
	}
	story, err := h.revisions.SaveStep(c.Request.Context(), storyID, userID, step, req.Update, req.ClearFutureSteps)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *StorybookHandler) listRevisions(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	revisions, err := h.revisions.ListRevisions(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, revisions)
}

func (h *StorybookHandler) loadRevision(c *gin.Context) {
	userID, storyID, ok := h.storyIDs(c)
	if !ok {
		return
	}
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		handleServiceError(c, fmt.Errorf("%w: invalid revision number", models.ErrBadRequest), h.logger)
		return
	}
	story, err := h.revisions.LoadRevision(c.Request.Context(), storyID, userID, number)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *StorybookHandler) saveTemplateValues(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return
	}
	modelID := c.Param("modelId")
	var req templateValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleServiceError(c, fmt.Errorf("%w: %v", models.ErrBadRequest, err), h.logger)
		return
	}
	if err := h.resolver.SaveUserValues(c.Request.Context(), userID, modelID, req.Values); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

// serveFile отдает сохраненный файл с его mime-типом. Файлы неизменяемы,
// поэтому кеш агрессивный.
func (h *StorybookHandler) serveFile(c *gin.Context) {
	fileID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handleServiceError(c, fmt.Errorf("%w: invalid file ID format", models.ErrBadRequest), h.logger)
		return
	}
	file, err := h.files.Retrieve(c.Request.Context(), fileID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.MimeType, file.Data)
}

// storyIDs достает userID из контекста и storyID из пути.
func (h *StorybookHandler) storyIDs(c *gin.Context) (userID, storyID uuid.UUID, ok bool) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	storyID, err = uuid.Parse(c.Param("id"))
	if err != nil {
		handleServiceError(c, fmt.Errorf("%w: invalid story ID format", models.ErrBadRequest), h.logger)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, storyID, true
}
