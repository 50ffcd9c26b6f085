package provider

import (
	"context"
)

// ImageRequest - единый запрос генерации изображения.
// Template-driven провайдер использует ModelID и Input (объект, собранный
// по шаблону); direct-провайдер - Prompt и ReferenceImage.
type ImageRequest struct {
	Prompt         string
	ModelID        string
	Input          map[string]any
	ReferenceImage string
}

// ImageProvider - стратегия превращения запроса в сырой ответ стороннего
// бэкенда. Ответы провайдеров разнородны; их нормализует общая цепочка
// экстракторов (см. NormalizeResponse). Провайдеры не имеют состояния
// между запросами.
//
//go:generate mockery --name ImageProvider --output ./mocks --outpkg mocks --case=underscore
type ImageProvider interface {
	// Name идентифицирует провайдера в ошибках и логах.
	Name() string

	// Generate выполняет один запрос генерации и возвращает сырой ответ.
	Generate(ctx context.Context, req ImageRequest) (any, error)
}
