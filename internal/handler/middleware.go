package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// userIDContextKey - ключ gin-контекста с идентификатором владельца.
const userIDContextKey = "userID"

// AuthMiddleware проверяет Bearer JWT и кладет userID (subject) в контекст.
func AuthMiddleware(jwtSecret string, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("AuthMiddleware")
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Message: models.ErrUnauthorized.Error()})
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("%w: unexpected signing method %v", models.ErrTokenInvalid, token.Header["alg"])
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			log.Warn("Token verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Message: models.ErrTokenInvalid.Error()})
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Message: models.ErrTokenMalformed.Error()})
			return
		}
		userID, err := uuid.Parse(subject)
		if err != nil {
			log.Warn("Token subject is not a UUID", zap.String("subject", subject))
			c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Message: models.ErrTokenMalformed.Error()})
			return
		}

		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// getUserIDFromContext достает userID, положенный AuthMiddleware.
// При отсутствии сам отвечает 401 и прерывает обработку.
func getUserIDFromContext(c *gin.Context) (uuid.UUID, error) {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Message: models.ErrUnauthorized.Error()})
		return uuid.Nil, models.ErrUnauthorized
	}
	userID, ok := value.(uuid.UUID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Message: models.ErrUnauthorized.Error()})
		return uuid.Nil, models.ErrUnauthorized
	}
	return userID, nil
}
