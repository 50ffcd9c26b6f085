package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// ErrAIGenerationFailed - ошибка при генерации текста AI
var ErrAIGenerationFailed = errors.New("ошибка генерации текста AI")

// ErrPromptTooLong - собранный промпт превышает токен-бюджет.
var ErrPromptTooLong = errors.New("prompt exceeds the configured token limit")

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_ai_requests_total",
			Help: "Total number of requests to the text model API.",
		},
		[]string{"model", "purpose", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_ai_request_duration_seconds",
			Help:    "Histogram of text model request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "purpose"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"model", "purpose"},
	)
)

// Config содержит конфигурацию для клиента текстовой модели
type Config struct {
	APIKey           string
	BaseURL          string
	ModelName        string
	Timeout          int
	PromptTokenLimit int
}

// Client - клиент текстовой модели. Используется для расширения сеттинга,
// извлечения персонажей, генерации текста страниц и классификации схем
// моделей (JSON-режим).
type Client struct {
	client           *openaigo.Client
	model            string
	promptTokenLimit int
	logger           *zap.Logger
}

// New создает новый экземпляр клиента текстовой модели. Пустой API ключ
// не является ошибкой конструирования: отсутствие учетных данных ловится
// fail-fast проверкой перед первым сетевым вызовом.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.ModelName == "" {
		cfg.ModelName = openaigo.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120
	}
	if cfg.PromptTokenLimit <= 0 {
		cfg.PromptTokenLimit = 6000
	}

	var client *openaigo.Client
	if cfg.APIKey != "" {
		clientCfg := openaigo.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		clientCfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
		client = openaigo.NewClientWithConfig(clientCfg)
	}

	return &Client{
		client:           client,
		model:            cfg.ModelName,
		promptTokenLimit: cfg.PromptTokenLimit,
		logger:           logger.Named("AIClient"),
	}, nil
}

// countTokens оценивает количество токенов в тексте для модели клиента.
// При неизвестной модели откатывается на cl100k_base.
func (c *Client) countTokens(text string) int {
	tke, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		tke, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Грубая оценка: ~4 символа на токен.
			return len(text) / 4
		}
	}
	return len(tke.Encode(text, nil, nil))
}

// Complete выполняет чат-запрос и возвращает текст ответа.
func (c *Client) Complete(ctx context.Context, purpose, systemPrompt, userPrompt string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("%w: text model API key", models.ErrCredentialMissing)
	}
	promptTokens := c.countTokens(systemPrompt) + c.countTokens(userPrompt)
	if promptTokens > c.promptTokenLimit {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "purpose": purpose, "status": "error_prompt_too_long"}).Inc()
		return "", fmt.Errorf("%w: %d > %d", ErrPromptTooLong, promptTokens, c.promptTokenLimit)
	}
	aiPromptTokens.With(prometheus.Labels{"model": c.model, "purpose": purpose}).Observe(float64(promptTokens))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: c.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	aiRequestDuration.With(prometheus.Labels{"model": c.model, "purpose": purpose}).Observe(time.Since(start).Seconds())
	if err != nil {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "purpose": purpose, "status": "error"}).Inc()
		c.logger.Error("Text model request failed", zap.String("purpose", purpose), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "purpose": purpose, "status": "error_empty"}).Inc()
		return "", fmt.Errorf("%w: модель вернула пустой ответ", ErrAIGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.model, "purpose": purpose, "status": "success"}).Inc()
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON выполняет чат-запрос в JSON-режиме и анмаршалит ответ в out.
func (c *Client) CompleteJSON(ctx context.Context, purpose, systemPrompt, userPrompt string, out any) error {
	if c.client == nil {
		return fmt.Errorf("%w: text model API key", models.ErrCredentialMissing)
	}
	promptTokens := c.countTokens(systemPrompt) + c.countTokens(userPrompt)
	if promptTokens > c.promptTokenLimit {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "purpose": purpose, "status": "error_prompt_too_long"}).Inc()
		return fmt.Errorf("%w: %d > %d", ErrPromptTooLong, promptTokens, c.promptTokenLimit)
	}
	aiPromptTokens.With(prometheus.Labels{"model": c.model, "purpose": purpose}).Observe(float64(promptTokens))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: c.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openaigo.ChatCompletionResponseFormat{
			Type: openaigo.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	aiRequestDuration.With(prometheus.Labels{"model": c.model, "purpose": purpose}).Observe(time.Since(start).Seconds())
	if err != nil {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "purpose": purpose, "status": "error"}).Inc()
		c.logger.Error("Text model JSON request failed", zap.String("purpose", purpose), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "purpose": purpose, "status": "error_empty"}).Inc()
		return fmt.Errorf("%w: модель вернула пустой ответ", ErrAIGenerationFailed)
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "purpose": purpose, "status": "error_parse"}).Inc()
		return fmt.Errorf("%w: некорректный JSON в ответе модели: %v", ErrAIGenerationFailed, err)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.model, "purpose": purpose, "status": "success"}).Inc()
	return nil
}

// stripCodeFence убирает обрамление ```json ... ```, которое некоторые модели
// добавляют даже в JSON-режиме.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
