package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// StoryEventPublisher defines the interface for publishing story lifecycle events.
// Delivery is fire-and-forget: callers never fail an operation because an
// event could not be published.
//
//go:generate mockery --name StoryEventPublisher --output ./mocks --outpkg mocks --case=underscore
type StoryEventPublisher interface {
	PublishStoryEvent(ctx context.Context, payload StoryEventPayload) error
}

// rabbitMQPublisher implements StoryEventPublisher for RabbitMQ.
type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQStoryEventPublisher creates a new StoryEventPublisher.
// Паблишер объявляет очередь сам: так система устойчива к порядку
// запуска сервисов. Параметры должны совпадать с консьюмером уведомлений.
func NewRabbitMQStoryEventPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (StoryEventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("story event publisher: не удалось открыть канал: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("story event publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	return &rabbitMQPublisher{
		channel:   ch,
		queueName: queueName,
		logger:    logger.Named("StoryEventPublisher"),
	}, nil
}

// PublishStoryEvent отправляет событие в очередь.
func (p *rabbitMQPublisher) PublishStoryEvent(ctx context.Context, payload StoryEventPayload) error {
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("story event publisher: ошибка маршалинга события: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(pubCtx,
		"",          // exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    payload.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish story event",
			zap.String("eventType", string(payload.EventType)),
			zap.String("storyID", payload.StoryID),
			zap.Error(err),
		)
		return fmt.Errorf("story event publisher: ошибка публикации: %w", err)
	}
	p.logger.Debug("Story event published",
		zap.String("eventType", string(payload.EventType)),
		zap.String("storyID", payload.StoryID),
		zap.String("target", payload.Target),
	)
	return nil
}
