package template

import (
	"context"

	"storybook-server/internal/models"
)

// Classification - результат разбора входной схемы модели: ровно одно
// поле промпта, ноль и более полей-изображений с ролями и признаком
// массива. Все остальные поля схемы считаются конфигурируемыми.
type Classification struct {
	PromptField      string
	ImageFields      []string
	ImageFieldTypes  map[string]models.ImageRole
	ImageArrayFields []string
}

// Classifier превращает произвольную входную схему модели в Classification.
// Оркестратор зависит только от результата, не от способа классификации,
// поэтому LLM-классификатор и детерминированный взаимозаменяемы.
//
//go:generate mockery --name Classifier --output ./mocks --outpkg mocks --case=underscore
type Classifier interface {
	Classify(ctx context.Context, schema models.ModelSchema) (Classification, error)
}

// defaultUserValues собирает значения по умолчанию для всех
// конфигурируемых (не промпт и не изображение) полей схемы.
func defaultUserValues(schema models.ModelSchema, cls Classification) map[string]any {
	reserved := make(map[string]bool, 1+len(cls.ImageFields))
	reserved[cls.PromptField] = true
	for _, f := range cls.ImageFields {
		reserved[f] = true
	}

	values := make(map[string]any)
	for _, f := range schema.Fields {
		if reserved[f.Name] {
			continue
		}
		if f.Default != nil {
			values[f.Name] = f.Default
		}
	}
	return values
}
