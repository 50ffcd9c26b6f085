package template

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// JSONCompleter - минимальный контракт текстовой модели, нужный
// LLM-классификатору (реализуется internal/ai.Client).
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, purpose, systemPrompt, userPrompt string, out any) error
}

// Compile-time check
var _ Classifier = (*LLMClassifier)(nil)

// LLMClassifier классифицирует схему с помощью текстовой модели.
// Ответ модели валидируется против схемы; любой некорректный ответ
// приводит к откату на детерминированный RuleClassifier, так что
// контракт классификации выполняется всегда.
type LLMClassifier struct {
	completer JSONCompleter
	fallback  Classifier
	logger    *zap.Logger
}

// NewLLMClassifier создает LLM-классификатор с откатом на fallback.
func NewLLMClassifier(completer JSONCompleter, fallback Classifier, logger *zap.Logger) *LLMClassifier {
	return &LLMClassifier{
		completer: completer,
		fallback:  fallback,
		logger:    logger.Named("LLMClassifier"),
	}
}

const classifySystemPrompt = `You classify the input schema of an image generation model. Given the list of ` +
	`fields, return JSON: {"prompt_field":"...","image_fields":[{"name":"...","role":"primary|reference|` +
	`style|mask|conditioning|other"}]}. Exactly one field is the prompt field: the one whose semantics most ` +
	`plausibly accept a free-form natural-language scene description. Image fields are fields that accept ` +
	`image URLs or image data; tag each with its role. Never classify the same field as both.`

// Classify - реализация Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, schema models.ModelSchema) (Classification, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return Classification{}, fmt.Errorf("marshal schema: %w", err)
	}

	var parsed struct {
		PromptField string `json:"prompt_field"`
		ImageFields []struct {
			Name string `json:"name"`
			Role string `json:"role"`
		} `json:"image_fields"`
	}
	if err := c.completer.CompleteJSON(ctx, "classify_schema", classifySystemPrompt, string(schemaJSON), &parsed); err != nil {
		c.logger.Warn("LLM classification failed, falling back to rule-based classifier",
			zap.String("modelID", schema.ModelID), zap.Error(err))
		return c.fallback.Classify(ctx, schema)
	}

	cls, err := c.validate(schema, parsed.PromptField, parsed.ImageFields)
	if err != nil {
		c.logger.Warn("LLM classification rejected, falling back to rule-based classifier",
			zap.String("modelID", schema.ModelID), zap.Error(err))
		return c.fallback.Classify(ctx, schema)
	}
	return cls, nil
}

// validate проверяет ответ модели против схемы: поле промпта существует,
// поля-изображений существуют, множества не пересекаются.
func (c *LLMClassifier) validate(schema models.ModelSchema, promptField string, imageFields []struct {
	Name string `json:"name"`
	Role string `json:"role"`
}) (Classification, error) {
	if schema.FieldByName(promptField) == nil {
		return Classification{}, fmt.Errorf("prompt field %q is not in the schema", promptField)
	}

	cls := Classification{
		PromptField:     promptField,
		ImageFieldTypes: make(map[string]models.ImageRole),
	}
	for _, f := range imageFields {
		field := schema.FieldByName(f.Name)
		if field == nil {
			return Classification{}, fmt.Errorf("image field %q is not in the schema", f.Name)
		}
		if f.Name == promptField {
			return Classification{}, fmt.Errorf("field %q classified as both prompt and image", f.Name)
		}
		if _, dup := cls.ImageFieldTypes[f.Name]; dup {
			continue
		}
		role := models.ImageRole(f.Role)
		switch role {
		case models.ImageRolePrimary, models.ImageRoleReference, models.ImageRoleStyle,
			models.ImageRoleMask, models.ImageRoleConditioning, models.ImageRoleOther:
		default:
			role = models.ImageRoleOther
		}
		cls.ImageFields = append(cls.ImageFields, f.Name)
		cls.ImageFieldTypes[f.Name] = role
		// Массивность берется из объявленной схемы, а не из ответа модели.
		if field.IsArray {
			cls.ImageArrayFields = append(cls.ImageArrayFields, f.Name)
		}
	}
	sort.Strings(cls.ImageFields)
	sort.Strings(cls.ImageArrayFields)
	return cls, nil
}
