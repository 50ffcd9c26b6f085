package messaging

import "time"

// StoryEventType определяет тип события жизненного цикла истории
type StoryEventType string

// Константы для типов событий
const (
	EventStoryUpdated        StoryEventType = "story_updated"
	EventGenerationStarted   StoryEventType = "generation_started"
	EventGenerationProgress  StoryEventType = "generation_progress"
	EventGenerationCompleted StoryEventType = "generation_completed"
	EventGenerationError     StoryEventType = "generation_error"
)

// StoryEventPayload - структура сообщения о событии истории.
// Доставка best-effort, не более одного раза на событие, без повторов.
type StoryEventPayload struct {
	EventType StoryEventType `json:"eventType"`
	StoryID   string         `json:"storyId"`
	UserID    string         `json:"userId"`
	// Target - что генерировалось: core, page-N или пусто для story_updated.
	Target       string    `json:"target,omitempty"`
	ErrorDetails string    `json:"errorDetails,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}
