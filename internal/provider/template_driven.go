package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// Compile-time check
var _ ImageProvider = (*TemplateDrivenProvider)(nil)

// TemplateDrivenProviderName - идентификатор template-driven провайдера.
const TemplateDrivenProviderName = "model-hub"

// TemplateDrivenConfig - настройки template-driven провайдера.
type TemplateDrivenConfig struct {
	BaseURL string
	APIKey  string
	Timeout int
}

// TemplateDrivenProvider вызывает произвольные сторонние модели, описанные
// выученным шаблоном. Объект запроса собирается снаружи (template.BuildModelInput);
// провайдер только доставляет его и отдает сырой ответ как есть - формы
// ответов моделей разнородны и приводятся к URL общей цепочкой экстракторов.
type TemplateDrivenProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewTemplateDrivenProvider создает template-driven провайдера.
func NewTemplateDrivenProvider(cfg TemplateDrivenConfig, logger *zap.Logger) *TemplateDrivenProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180
	}
	return &TemplateDrivenProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		logger:  logger.Named("TemplateDrivenProvider"),
	}
}

// Name - реализация ImageProvider.
func (p *TemplateDrivenProvider) Name() string { return TemplateDrivenProviderName }

// Generate - реализация ImageProvider.
func (p *TemplateDrivenProvider) Generate(ctx context.Context, req ImageRequest) (any, error) {
	if p.apiKey == "" || p.baseURL == "" {
		return nil, fmt.Errorf("%w: %s endpoint or API key", models.ErrCredentialMissing, TemplateDrivenProviderName)
	}
	if req.ModelID == "" {
		return nil, fmt.Errorf("%w: model id is required", models.ErrInvalidInput)
	}

	body, err := json.Marshal(map[string]any{"input": req.Input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model input: %w", err)
	}

	endpointURL := fmt.Sprintf("%s/v1/models/%s/predictions", p.baseURL, req.ModelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	p.logger.Debug("Calling template-driven model", zap.String("model", req.ModelID), zap.String("url", endpointURL))
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, models.NewProviderError(TemplateDrivenProviderName, fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	respBytes, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Error("Model API returned non-OK status",
			zap.String("model", req.ModelID),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", respBytes),
		)
		return nil, models.NewProviderError(TemplateDrivenProviderName,
			fmt.Errorf("model %s returned status %d: %s", req.ModelID, resp.StatusCode, string(respBytes)))
	}
	if readErr != nil {
		return nil, models.NewProviderError(TemplateDrivenProviderName, fmt.Errorf("failed to read response body: %w", readErr))
	}

	var decoded any
	if err := json.Unmarshal(respBytes, &decoded); err != nil {
		return nil, models.NewProviderError(TemplateDrivenProviderName, fmt.Errorf("response is not valid JSON: %w", err))
	}

	// Большинство моделей кладет результат в "output", но полагаться на
	// это нельзя - неизвестные формы отдаем нормализации целиком.
	if obj, ok := decoded.(map[string]any); ok {
		if output, present := obj["output"]; present {
			return output, nil
		}
	}
	return decoded, nil
}

// GetModelSchema загружает входную схему модели с хаба. Схема нужна
// только при первом знакомстве с моделью, дальше работает сохраненный шаблон.
func (p *TemplateDrivenProvider) GetModelSchema(ctx context.Context, modelID string) (models.ModelSchema, error) {
	var schema models.ModelSchema
	if p.apiKey == "" || p.baseURL == "" {
		return schema, fmt.Errorf("%w: %s endpoint or API key", models.ErrCredentialMissing, TemplateDrivenProviderName)
	}

	endpointURL := fmt.Sprintf("%s/v1/models/%s/schema", p.baseURL, modelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return schema, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return schema, models.NewProviderError(TemplateDrivenProviderName, fmt.Errorf("schema request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBytes, _ := io.ReadAll(resp.Body)
		return schema, models.NewProviderError(TemplateDrivenProviderName,
			fmt.Errorf("schema for model %s returned status %d: %s", modelID, resp.StatusCode, string(respBytes)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&schema); err != nil {
		return schema, models.NewProviderError(TemplateDrivenProviderName, fmt.Errorf("schema is not valid JSON: %w", err))
	}
	schema.ModelID = modelID
	return schema, nil
}
