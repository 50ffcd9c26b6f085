package template_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces/mocks"
	"storybook-server/internal/models"
	"storybook-server/internal/template"
)

func testSchema() models.ModelSchema {
	return models.ModelSchema{
		ModelID: "stability-ai/sdxl",
		Fields: []models.SchemaField{
			{Name: "prompt", Type: "string", Description: "Input prompt"},
			{Name: "image", Type: "string", Description: "Input image for img2img"},
			{Name: "width", Type: "integer", Default: float64(1024)},
			{Name: "scheduler", Type: "string", Enum: []string{"DDIM", "K_EULER"}, Default: "DDIM"},
		},
	}
}

func TestResolver_ReturnsStoredTemplate(t *testing.T) {
	repo := new(mocks.TemplateRepository)
	userID := uuid.New()
	stored := &models.ModelTemplate{UserID: userID, ModelID: "stability-ai/sdxl", PromptField: "prompt"}
	repo.On("Get", mock.Anything, userID, "stability-ai/sdxl").Return(stored, nil)

	resolver := template.NewResolver(repo, template.NewRuleClassifier(), zap.NewNop())
	tmpl, err := resolver.Resolve(context.Background(), userID, testSchema())

	require.NoError(t, err)
	assert.Same(t, stored, tmpl)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestResolver_LearnsAndPersistsMissingTemplate(t *testing.T) {
	repo := new(mocks.TemplateRepository)
	userID := uuid.New()
	repo.On("Get", mock.Anything, userID, "stability-ai/sdxl").Return(nil, models.ErrTemplateNotFound)
	repo.On("Upsert", mock.Anything, mock.AnythingOfType("*models.ModelTemplate")).Return(nil)

	resolver := template.NewResolver(repo, template.NewRuleClassifier(), zap.NewNop())
	tmpl, err := resolver.Resolve(context.Background(), userID, testSchema())

	require.NoError(t, err)
	assert.Equal(t, "prompt", tmpl.PromptField)
	assert.Equal(t, []string{"image"}, tmpl.ImageFields)
	assert.Equal(t, userID, tmpl.UserID)
	// Значения по умолчанию собраны только для конфигурируемых полей.
	assert.Equal(t, map[string]any{"width": float64(1024), "scheduler": "DDIM"}, tmpl.UserValues)
	repo.AssertExpectations(t)
}

func TestResolver_ClassificationFailureIsNotPersisted(t *testing.T) {
	repo := new(mocks.TemplateRepository)
	userID := uuid.New()
	repo.On("Get", mock.Anything, userID, "acme/upscaler").Return(nil, models.ErrTemplateNotFound)

	schema := models.ModelSchema{
		ModelID: "acme/upscaler",
		Fields:  []models.SchemaField{{Name: "scale", Type: "integer"}},
	}
	resolver := template.NewResolver(repo, template.NewRuleClassifier(), zap.NewNop())
	_, err := resolver.Resolve(context.Background(), userID, schema)

	assert.ErrorIs(t, err, models.ErrInvalidInput)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestResolver_SaveUserValues(t *testing.T) {
	userID := uuid.New()
	stored := &models.ModelTemplate{
		UserID:      userID,
		ModelID:     "stability-ai/sdxl",
		PromptField: "prompt",
		ImageFields: []string{"image"},
		UserValues:  map[string]any{"width": float64(1024)},
	}

	t.Run("merges with stored values", func(t *testing.T) {
		repo := new(mocks.TemplateRepository)
		repo.On("Get", mock.Anything, userID, "stability-ai/sdxl").Return(stored, nil)
		repo.On("SaveUserValues", mock.Anything, userID, "stability-ai/sdxl",
			map[string]any{"width": float64(1024), "scheduler": "K_EULER"}).Return(nil)

		resolver := template.NewResolver(repo, template.NewRuleClassifier(), zap.NewNop())
		err := resolver.SaveUserValues(context.Background(), userID, "stability-ai/sdxl",
			map[string]any{"scheduler": "K_EULER"})

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("rejects reserved keys", func(t *testing.T) {
		repo := new(mocks.TemplateRepository)
		repo.On("Get", mock.Anything, userID, "stability-ai/sdxl").Return(stored, nil)

		resolver := template.NewResolver(repo, template.NewRuleClassifier(), zap.NewNop())
		err := resolver.SaveUserValues(context.Background(), userID, "stability-ai/sdxl",
			map[string]any{"image": "https://evil.test/x.png"})

		assert.ErrorIs(t, err, models.ErrInvalidInput)
		repo.AssertNotCalled(t, "SaveUserValues", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
