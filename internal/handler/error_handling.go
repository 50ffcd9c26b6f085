package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
	// Fields - имена доступных полей неопознанного ответа провайдера,
	// помогает расширять цепочку экстракторов.
	Fields []string `json:"fields,omitempty"`
}

// handleServiceError транслирует ошибки сервисного слоя в HTTP-статусы.
func handleServiceError(c *gin.Context, err error, logger *zap.Logger) {
	var unrecognized *models.UnrecognizedResponseError
	var providerErr *models.ProviderError

	switch {
	case errors.Is(err, models.ErrBadRequest), errors.Is(err, models.ErrInvalidInput):
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: err.Error()})
	case errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrTokenInvalid),
		errors.Is(err, models.ErrTokenExpired),
		errors.Is(err, models.ErrTokenMalformed):
		c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	case errors.Is(err, models.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, APIError{Message: err.Error()})
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrStoryNotFound),
		errors.Is(err, models.ErrPageNotFound),
		errors.Is(err, models.ErrRevisionNotFound),
		errors.Is(err, models.ErrTemplateNotFound),
		errors.Is(err, models.ErrFileNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, APIError{Message: err.Error()})
	case errors.Is(err, models.ErrInvalidStatus),
		errors.Is(err, models.ErrUserHasActiveGeneration),
		errors.Is(err, models.ErrVersionConflict):
		c.AbortWithStatusJSON(http.StatusConflict, APIError{Message: err.Error()})
	case errors.Is(err, models.ErrCredentialMissing):
		c.AbortWithStatusJSON(http.StatusFailedDependency, APIError{Message: err.Error()})
	case errors.As(err, &unrecognized):
		c.AbortWithStatusJSON(http.StatusBadGateway, APIError{Message: err.Error(), Fields: unrecognized.Fields})
	case errors.As(err, &providerErr):
		c.AbortWithStatusJSON(http.StatusBadGateway, APIError{Message: err.Error()})
	case errors.Is(err, models.ErrStorageFailure):
		c.AbortWithStatusJSON(http.StatusInternalServerError, APIError{Message: err.Error()})
	default:
		logger.Error("Unhandled service error", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, APIError{Message: models.ErrInternalServer.Error()})
	}
}
