package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// Compile-time check
var _ ImageProvider = (*DirectProvider)(nil)

// DirectProviderName - идентификатор direct-prompt провайдера.
const DirectProviderName = "openai-images"

// DirectConfig - настройки direct-prompt провайдера.
type DirectConfig struct {
	APIKey  string
	Model   string
	Timeout int
}

// DirectProvider - direct-prompt стратегия: один эндпоинт, промпт плюс
// небольшой фиксированный набор опций. Референсное изображение
// сворачивается в текст промпта, так как API не принимает входных
// изображений.
type DirectProvider struct {
	client *openaigo.Client
	apiKey string
	model  string
	logger *zap.Logger
}

// NewDirectProvider создает direct-prompt провайдера. Пустой ключ не
// является ошибкой конструирования: отсутствие учетных данных ловится
// fail-fast проверкой перед первым сетевым вызовом.
func NewDirectProvider(cfg DirectConfig, logger *zap.Logger) *DirectProvider {
	if cfg.Model == "" {
		cfg.Model = openaigo.CreateImageModelDallE3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180
	}

	var client *openaigo.Client
	if cfg.APIKey != "" {
		clientCfg := openaigo.DefaultConfig(cfg.APIKey)
		clientCfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
		client = openaigo.NewClientWithConfig(clientCfg)
	}
	return &DirectProvider{
		client: client,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		logger: logger.Named("DirectProvider"),
	}
}

// Name - реализация ImageProvider.
func (p *DirectProvider) Name() string { return DirectProviderName }

// Generate - реализация ImageProvider. Возвращает URL (или data: URI)
// сгенерированного изображения в простейшей форме ответа.
func (p *DirectProvider) Generate(ctx context.Context, req ImageRequest) (any, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: %s API key", models.ErrCredentialMissing, DirectProviderName)
	}

	prompt := req.Prompt
	if req.ReferenceImage != "" {
		// API не принимает референсных изображений, поэтому стилистическая
		// связь с предыдущей генерацией передается текстом.
		prompt += "\nKeep the style and characters consistent with the previous illustration of this story."
	}

	p.logger.Debug("Calling direct image API", zap.String("model", p.model), zap.Int("promptLen", len(prompt)))
	resp, err := p.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         prompt,
		Model:          p.model,
		N:              1,
		Size:           openaigo.CreateImageSize1024x1024,
		Quality:        openaigo.CreateImageQualityStandard,
		ResponseFormat: openaigo.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, models.NewProviderError(DirectProviderName, err)
	}
	if len(resp.Data) == 0 {
		return nil, models.NewProviderError(DirectProviderName, fmt.Errorf("empty image list in response"))
	}

	if resp.Data[0].URL != "" {
		return resp.Data[0].URL, nil
	}
	if resp.Data[0].B64JSON != "" {
		return "data:image/png;base64," + resp.Data[0].B64JSON, nil
	}
	return nil, models.NewProviderError(DirectProviderName, fmt.Errorf("response carries neither url nor b64 payload"))
}
