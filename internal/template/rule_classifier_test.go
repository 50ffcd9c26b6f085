package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/internal/models"
)

func sdxlLikeSchema() models.ModelSchema {
	return models.ModelSchema{
		ModelID: "stability-ai/sdxl",
		Fields: []models.SchemaField{
			{Name: "prompt", Type: "string", Description: "Input prompt"},
			{Name: "negative_prompt", Type: "string", Description: "What not to include"},
			{Name: "image", Type: "string", Description: "Input image for img2img mode"},
			{Name: "mask_image", Type: "string", Description: "Image URL for inpainting mask"},
			{Name: "style_reference", Type: "string", Description: "Reference image for style transfer"},
			{Name: "control_images", Type: "string", IsArray: true, Description: "Conditioning image URLs"},
			{Name: "width", Type: "integer", Default: float64(1024)},
			{Name: "scheduler", Type: "string", Enum: []string{"DDIM", "K_EULER"}},
		},
	}
}

func TestRuleClassifier_Classify(t *testing.T) {
	cls, err := NewRuleClassifier().Classify(context.Background(), sdxlLikeSchema())
	require.NoError(t, err)

	assert.Equal(t, "prompt", cls.PromptField)
	assert.ElementsMatch(t, []string{"image", "mask_image", "style_reference", "control_images"}, cls.ImageFields)
	assert.Equal(t, models.ImageRolePrimary, cls.ImageFieldTypes["image"])
	assert.Equal(t, models.ImageRoleMask, cls.ImageFieldTypes["mask_image"])
	assert.Equal(t, models.ImageRoleStyle, cls.ImageFieldTypes["style_reference"])
	assert.Equal(t, models.ImageRoleConditioning, cls.ImageFieldTypes["control_images"])
	assert.Equal(t, []string{"control_images"}, cls.ImageArrayFields)
}

func TestRuleClassifier_PromptFieldNeverAnImageField(t *testing.T) {
	schema := models.ModelSchema{
		ModelID: "acme/img2img",
		Fields: []models.SchemaField{
			{Name: "input_image", Type: "string", Description: "Input image URL"},
			{Name: "caption", Type: "string", Description: "Scene to render"},
		},
	}
	cls, err := NewRuleClassifier().Classify(context.Background(), schema)
	require.NoError(t, err)

	assert.Equal(t, "caption", cls.PromptField)
	assert.NotContains(t, cls.ImageFields, "caption")
}

func TestRuleClassifier_Deterministic(t *testing.T) {
	// Повторная классификация неизменной схемы дает тот же шаблон.
	first, err := NewRuleClassifier().Classify(context.Background(), sdxlLikeSchema())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := NewRuleClassifier().Classify(context.Background(), sdxlLikeSchema())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRuleClassifier_NoPromptCandidate(t *testing.T) {
	schema := models.ModelSchema{
		ModelID: "acme/upscaler",
		Fields: []models.SchemaField{
			{Name: "image", Type: "string", Description: "Input image URL"},
			{Name: "scale", Type: "integer"},
		},
	}
	_, err := NewRuleClassifier().Classify(context.Background(), schema)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
