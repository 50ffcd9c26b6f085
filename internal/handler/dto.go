package handler

import (
	"time"

	"storybook-server/internal/service"
	"storybook-server/internal/taskrunner"
)

// createStoryRequest - тело POST /api/stories.
type createStoryRequest struct {
	Title         string `json:"title" binding:"required"`
	Setting       string `json:"setting" binding:"required"`
	Characters    string `json:"characters" binding:"required"`
	Plot          string `json:"plot" binding:"required"`
	AgeGroup      string `json:"ageGroup" binding:"required"`
	TotalPages    int    `json:"totalPages" binding:"required,min=1,max=30"`
	StoryGuidance string `json:"storyGuidance"`
}

// saveStepRequest - тело POST /api/stories/:id/steps/:step.
type saveStepRequest struct {
	Update           service.StepUpdate `json:"update"`
	ClearFutureSteps bool               `json:"clearFutureSteps"`
}

// generateImageRequest - тело запросов перегенерации изображений.
type generateImageRequest struct {
	CustomPrompt               string         `json:"customPrompt"`
	UseCurrentImageAsReference bool           `json:"useCurrentImageAsReference"`
	CustomModel                string         `json:"customModel"`
	CustomInput                map[string]any `json:"customInput"`
}

func (r generateImageRequest) toOptions() service.GenerateOptions {
	return service.GenerateOptions{
		CustomPrompt:               r.CustomPrompt,
		UseCurrentImageAsReference: r.UseCurrentImageAsReference,
		CustomModel:                r.CustomModel,
		CustomInput:                r.CustomInput,
	}
}

// bookmarkRequest - тело PUT /api/stories/:id/bookmark.
type bookmarkRequest struct {
	Bookmarked bool `json:"bookmarked"`
}

// templateValuesRequest - тело PUT /api/templates/:modelId/values.
type templateValuesRequest struct {
	Values map[string]any `json:"values" binding:"required"`
}

// fileIDResponse - ответ операций генерации с ID нового файла.
type fileIDResponse struct {
	FileID string `json:"fileId"`
}

// generationTaskResponse - одна задача пакетной генерации со статусом.
type generationTaskResponse struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toGenerationTaskResponses(tasks []taskrunner.Task) []generationTaskResponse {
	out := make([]generationTaskResponse, len(tasks))
	for i, task := range tasks {
		out[i] = generationTaskResponse{
			Name:      task.Name,
			Status:    string(task.Status),
			Message:   task.Message,
			UpdatedAt: task.UpdatedAt,
		}
	}
	return out
}
