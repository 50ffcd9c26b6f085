package models

import (
	"errors"
	"fmt"
	"strings"
)

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound         = errors.New("resource not found")
	ErrStoryNotFound    = errors.New("story not found")
	ErrPageNotFound     = errors.New("story page not found")
	ErrRevisionNotFound = errors.New("revision not found")
	ErrTemplateNotFound = errors.New("model template not found")
	ErrFileNotFound     = errors.New("file not found")

	// Request/Validation Errors
	ErrBadRequest   = errors.New("bad request")
	ErrInvalidInput = errors.New("invalid input data")

	// Auth Errors
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenMalformed = errors.New("token is malformed")

	// Lifecycle Errors
	ErrInvalidStatus           = errors.New("operation is not allowed in the current story status")
	ErrUserHasActiveGeneration = errors.New("story already has an active generation task")

	// Concurrency Errors
	ErrVersionConflict = errors.New("story was modified concurrently, retry with a fresh read")

	// Generation Errors
	ErrCredentialMissing = errors.New("provider credentials are not configured")
	ErrStorageFailure    = errors.New("failed to store generated image")

	ErrInternalServer = errors.New("internal server error")
)

// ProviderError - ошибка вызова провайдера генерации с указанием,
// какой именно провайдер ее вернул.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError оборачивает ошибку провайдера с его идентификатором.
func NewProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Err: err}
}

// UnrecognizedResponseError - ни одна стратегия нормализации не смогла
// извлечь URL из ответа провайдера. Fields перечисляет доступные ключи
// объекта, чтобы упростить расширение цепочки экстракторов.
type UnrecognizedResponseError struct {
	Provider string
	Fields   []string
}

func (e *UnrecognizedResponseError) Error() string {
	return fmt.Sprintf("provider %s returned unrecognized response shape (available fields: %s)",
		e.Provider, strings.Join(e.Fields, ", "))
}
