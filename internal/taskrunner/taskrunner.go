package taskrunner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TaskStatus представляет статус задачи
type TaskStatus string

// Возможные статусы задач
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task представляет асинхронную задачу генерации
type Task struct {
	ID        uuid.UUID
	StoryID   uuid.UUID
	Name      string
	Status    TaskStatus
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BatchTask - одна единица работы в батче. Fn выполняется в своей горутине.
type BatchTask struct {
	Name string
	Fn   func(ctx context.Context) error
}

// BatchResult - результат выполнения одной задачи батча.
type BatchResult struct {
	Name string
	Err  error
}

// Config содержит конфигурацию для Runner
type Config struct {
	MaxConcurrent int
}

// Runner выполняет батчи задач генерации с ограниченной конкурентностью.
// Отмена на середине батча не поддерживается: потребитель, желающий
// прерваться, ждет завершения запущенных задач и игнорирует результаты.
type Runner struct {
	tasks         map[uuid.UUID]*Task
	mu            sync.RWMutex
	maxConcurrent int
	wg            sync.WaitGroup
}

// New создает новый экземпляр Runner
func New(cfg Config) *Runner {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Runner{
		tasks:         make(map[uuid.UUID]*Task),
		maxConcurrent: maxConcurrent,
	}
}

// RunBatch выполняет все задачи батча конкурентно (не более maxConcurrent
// одновременно), блокируется до завершения каждой и возвращает результаты
// в порядке исходного списка. Ошибка одной задачи не останавливает остальные.
func (r *Runner) RunBatch(ctx context.Context, storyID uuid.UUID, batch []BatchTask) []BatchResult {
	results := make([]BatchResult, len(batch))
	sem := make(chan struct{}, r.maxConcurrent)

	var batchWG sync.WaitGroup
	for i, bt := range batch {
		task := r.register(storyID, bt.Name)

		batchWG.Add(1)
		r.wg.Add(1)
		go func(idx int, bt BatchTask, task *Task) {
			defer batchWG.Done()
			defer r.wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			r.updateStatus(task, TaskStatusRunning, "Задача запущена")
			err := bt.Fn(ctx)
			if err != nil {
				log.Error().Err(err).
					Str("taskID", task.ID.String()).
					Str("storyID", storyID.String()).
					Str("task", bt.Name).
					Msg("Задача завершилась с ошибкой")
				r.updateStatus(task, TaskStatusFailed, err.Error())
			} else {
				log.Info().
					Str("taskID", task.ID.String()).
					Str("storyID", storyID.String()).
					Str("task", bt.Name).
					Msg("Задача успешно выполнена")
				r.updateStatus(task, TaskStatusCompleted, "Задача успешно выполнена")
			}
			results[idx] = BatchResult{Name: bt.Name, Err: err}
		}(i, bt, task)
	}

	batchWG.Wait()
	return results
}

// register создает запись задачи под блокировкой.
func (r *Runner) register(storyID uuid.UUID, name string) *Task {
	task := &Task{
		ID:        uuid.New(),
		StoryID:   storyID,
		Name:      name,
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()
	return task
}

// updateStatus обновляет статус задачи
func (r *Runner) updateStatus(task *Task, status TaskStatus, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task.Status = status
	task.Message = message
	task.UpdatedAt = time.Now()
}

// TasksByStory возвращает копии задач истории в порядке создания.
func (r *Runner) TasksByStory(storyID uuid.UUID) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Task
	for _, task := range r.tasks {
		if task.StoryID == storyID {
			out = append(out, *task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// StartJanitor запускает фоновую уборку завершенных задач старше age.
// Останавливается по отмене контекста.
func (r *Runner) StartJanitor(ctx context.Context, interval, age time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupTasks(age)
			}
		}
	}()
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (r *Runner) CleanupTasks(age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, task := range r.tasks {
		if (task.Status == TaskStatusCompleted || task.Status == TaskStatusFailed) &&
			now.Sub(task.UpdatedAt) > age {
			delete(r.tasks, id)
		}
	}
}

// Shutdown ожидает завершения всех запущенных задач с таймаутом
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("таймаут при ожидании завершения задач")
	}
}
