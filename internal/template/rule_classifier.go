package template

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"storybook-server/internal/models"
)

// Compile-time check
var _ Classifier = (*RuleClassifier)(nil)

// RuleClassifier - детерминированный классификатор схем на эвристиках
// по именам и описаниям полей. Используется как fallback для
// LLM-классификатора и как предсказуемая стратегия в тестах.
type RuleClassifier struct{}

// NewRuleClassifier создает детерминированный классификатор.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify - реализация Classifier.
func (c *RuleClassifier) Classify(_ context.Context, schema models.ModelSchema) (Classification, error) {
	if len(schema.Fields) == 0 {
		return Classification{}, fmt.Errorf("%w: schema has no fields", models.ErrInvalidInput)
	}

	cls := Classification{
		ImageFieldTypes: make(map[string]models.ImageRole),
	}

	// Сначала выбираем поля-изображения, чтобы поле промпта не могло
	// совпасть с ними.
	for _, f := range schema.Fields {
		if role, ok := imageRoleOf(f); ok {
			cls.ImageFields = append(cls.ImageFields, f.Name)
			cls.ImageFieldTypes[f.Name] = role
			if f.IsArray {
				cls.ImageArrayFields = append(cls.ImageArrayFields, f.Name)
			}
		}
	}
	sort.Strings(cls.ImageFields)
	sort.Strings(cls.ImageArrayFields)

	cls.PromptField = pickPromptField(schema, cls.ImageFieldTypes)
	if cls.PromptField == "" {
		return Classification{}, fmt.Errorf("%w: no plausible prompt field in schema %s", models.ErrInvalidInput, schema.ModelID)
	}
	return cls, nil
}

// pickPromptField выбирает ровно одно поле, принимающее свободный текст
// описания сцены. Кандидаты оцениваются, при равном счете побеждает
// идущее раньше в схеме поле - классификация детерминирована.
func pickPromptField(schema models.ModelSchema, imageFields map[string]models.ImageRole) string {
	best := ""
	bestScore := 0
	for _, f := range schema.Fields {
		if _, isImage := imageFields[f.Name]; isImage {
			continue
		}
		score := promptScore(f)
		if score > bestScore {
			best, bestScore = f.Name, score
		}
	}
	return best
}

func promptScore(f models.SchemaField) int {
	if f.Type != "string" || len(f.Enum) > 0 || f.IsArray {
		return 0
	}
	name := strings.ToLower(f.Name)
	desc := strings.ToLower(f.Description)

	switch {
	case name == "prompt":
		return 100
	case strings.Contains(name, "negative"):
		// negative_prompt описывает, чего НЕ рисовать - это не промпт сцены.
		return 0
	case strings.Contains(name, "prompt"):
		return 80
	case strings.Contains(name, "caption") || strings.Contains(name, "description"):
		return 60
	case strings.Contains(desc, "prompt") || strings.Contains(desc, "describe"):
		return 40
	default:
		// Любое свободное строковое поле остается слабым кандидатом.
		return 1
	}
}

// imageRoleOf распознает поле-изображение и его роль по имени и описанию.
func imageRoleOf(f models.SchemaField) (models.ImageRole, bool) {
	if f.Type != "string" {
		return "", false
	}
	name := strings.ToLower(f.Name)
	desc := strings.ToLower(f.Description)

	looksLikeImage := strings.Contains(name, "image") || strings.Contains(name, "img") ||
		strings.Contains(name, "photo") || strings.Contains(name, "mask") ||
		strings.Contains(desc, "image url") || strings.Contains(desc, "input image") ||
		strings.Contains(desc, "reference image")
	if !looksLikeImage {
		return "", false
	}

	switch {
	case strings.Contains(name, "mask"):
		return models.ImageRoleMask, true
	case strings.Contains(name, "style") || strings.Contains(desc, "style"):
		return models.ImageRoleStyle, true
	case strings.Contains(name, "control") || strings.Contains(name, "conditioning") || strings.Contains(desc, "conditioning"):
		return models.ImageRoleConditioning, true
	case strings.Contains(name, "ref") || strings.Contains(desc, "reference"):
		return models.ImageRoleReference, true
	case name == "image" || strings.Contains(name, "init") || strings.Contains(name, "input") ||
		strings.Contains(name, "main") || strings.Contains(name, "primary"):
		return models.ImageRolePrimary, true
	default:
		return models.ImageRoleOther, true
	}
}
