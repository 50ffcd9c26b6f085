package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/models"
)

// Compile-time check
var _ interfaces.GenerationGuard = (*redisGenerationGuard)(nil)

type redisGenerationGuard struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisGenerationGuard создает страж массовой генерации поверх Redis.
// Ключ с TTL гарантирует, что зависшая генерация не заблокирует историю навсегда.
func NewRedisGenerationGuard(client *redis.Client, logger *zap.Logger) interfaces.GenerationGuard {
	return &redisGenerationGuard{
		client: client,
		logger: logger.Named("GenerationGuard"),
	}
}

func guardKey(storyID uuid.UUID) string {
	return fmt.Sprintf("generation:active:%s", storyID)
}

// Acquire - реализация метода Acquire
func (g *redisGenerationGuard) Acquire(ctx context.Context, storyID uuid.UUID, ttl time.Duration) error {
	ok, err := g.client.SetNX(ctx, guardKey(storyID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		g.logger.Error("Failed to acquire generation guard",
			zap.String("storyID", storyID.String()), zap.Error(err))
		return fmt.Errorf("ошибка захвата блокировки генерации: %w", err)
	}
	if !ok {
		g.logger.Warn("Generation already in progress", zap.String("storyID", storyID.String()))
		return models.ErrUserHasActiveGeneration
	}
	return nil
}

// Release - реализация метода Release
func (g *redisGenerationGuard) Release(ctx context.Context, storyID uuid.UUID) error {
	if err := g.client.Del(ctx, guardKey(storyID)).Err(); err != nil {
		g.logger.Error("Failed to release generation guard",
			zap.String("storyID", storyID.String()), zap.Error(err))
		return fmt.Errorf("ошибка освобождения блокировки генерации: %w", err)
	}
	return nil
}
