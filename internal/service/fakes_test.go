package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
)

// fakeStoryRepo - потокобезопасное in-memory хранилище историй с той же
// семантикой оптимистичной блокировки, что и у pg-реализации.
type fakeStoryRepo struct {
	mu      sync.Mutex
	stories map[uuid.UUID]*models.Story
	// conflictsLeft заставляет UpdateWithVersion отвергнуть первые N
	// записей, имитируя конкурентные обновления.
	conflictsLeft int
}

var _ interfaces.StoryRepository = (*fakeStoryRepo)(nil)

func newFakeStoryRepo(stories ...*models.Story) *fakeStoryRepo {
	repo := &fakeStoryRepo{stories: make(map[uuid.UUID]*models.Story)}
	for _, story := range stories {
		repo.stories[story.ID] = cloneStory(story)
	}
	return repo
}

func (r *fakeStoryRepo) Create(_ context.Context, story *models.Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stories[story.ID] = cloneStory(story)
	return nil
}

func (r *fakeStoryRepo) GetByID(_ context.Context, id, userID uuid.UUID) (*models.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[id]
	if !ok || story.UserID != userID {
		return nil, models.ErrStoryNotFound
	}
	return cloneStory(story), nil
}

func (r *fakeStoryRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]*models.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Story
	for _, story := range r.stories {
		if story.UserID == userID {
			out = append(out, cloneStory(story))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *fakeStoryRepo) UpdateWithVersion(_ context.Context, story *models.Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.stories[story.ID]
	if !ok || current.UserID != story.UserID {
		return models.ErrStoryNotFound
	}
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		current.Version++
		return models.ErrVersionConflict
	}
	if current.Version != story.Version {
		return models.ErrVersionConflict
	}
	story.Version++
	story.UpdatedAt = time.Now().UTC()
	r.stories[story.ID] = cloneStory(story)
	return nil
}

func (r *fakeStoryRepo) SetStatus(ctx context.Context, id, userID uuid.UUID, status models.StoryStatus) error {
	// Просроченный контекст отклоняется, как в pg-реализации.
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[id]
	if !ok || story.UserID != userID {
		return models.ErrStoryNotFound
	}
	story.Status = status
	story.Version++
	story.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeStoryRepo) SetBookmarked(_ context.Context, id, userID uuid.UUID, bookmarked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[id]
	if !ok || story.UserID != userID {
		return models.ErrStoryNotFound
	}
	story.IsBookmarked = bookmarked
	story.Version++
	story.UpdatedAt = time.Now().UTC()
	return nil
}

// mustGet возвращает текущее состояние истории, минуя проверку владения.
func (r *fakeStoryRepo) mustGet(id uuid.UUID) *models.Story {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneStory(r.stories[id])
}

func cloneStory(story *models.Story) *models.Story {
	if story == nil {
		return nil
	}
	copied := *story
	if story.ExtractedCharacters != nil {
		copied.ExtractedCharacters = make([]models.Character, len(story.ExtractedCharacters))
		copy(copied.ExtractedCharacters, story.ExtractedCharacters)
	}
	if story.Pages != nil {
		copied.Pages = make([]models.StoryPage, len(story.Pages))
		for i, page := range story.Pages {
			copied.Pages[i] = page
			if page.ImageHistory != nil {
				copied.Pages[i].ImageHistory = make([]models.ImageVersion, len(page.ImageHistory))
				copy(copied.Pages[i].ImageHistory, page.ImageHistory)
			}
		}
	}
	return &copied
}

// fakeRevisionRepo - in-memory журнал ревизий с уникальностью номера
// в пределах истории.
type fakeRevisionRepo struct {
	mu        sync.Mutex
	revisions map[uuid.UUID]map[int]*models.Revision
}

var _ interfaces.RevisionRepository = (*fakeRevisionRepo)(nil)

func newFakeRevisionRepo() *fakeRevisionRepo {
	return &fakeRevisionRepo{revisions: make(map[uuid.UUID]map[int]*models.Revision)}
}

func (r *fakeRevisionRepo) Create(_ context.Context, revision *models.Revision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byNumber, ok := r.revisions[revision.StoryID]
	if !ok {
		byNumber = make(map[int]*models.Revision)
		r.revisions[revision.StoryID] = byNumber
	}
	if _, exists := byNumber[revision.RevisionNumber]; exists {
		return models.ErrVersionConflict
	}
	copied := *revision
	byNumber[revision.RevisionNumber] = &copied
	return nil
}

func (r *fakeRevisionRepo) GetByNumber(_ context.Context, storyID uuid.UUID, revisionNumber int) (*models.Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	revision, ok := r.revisions[storyID][revisionNumber]
	if !ok {
		return nil, models.ErrRevisionNotFound
	}
	copied := *revision
	return &copied, nil
}

func (r *fakeRevisionRepo) ListByStory(_ context.Context, storyID uuid.UUID) ([]models.RevisionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RevisionInfo
	for _, revision := range r.revisions[storyID] {
		out = append(out, models.RevisionInfo{
			RevisionNumber: revision.RevisionNumber,
			StepCompleted:  revision.StepCompleted,
			ParentRevision: revision.ParentRevision,
			Description:    revision.Description,
			CreatedAt:      revision.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RevisionNumber < out[j].RevisionNumber })
	return out, nil
}

func (r *fakeRevisionRepo) MaxRevisionNumber(_ context.Context, storyID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for number := range r.revisions[storyID] {
		if number > max {
			max = number
		}
	}
	return max, nil
}

// fakePublisher записывает опубликованные события для проверок.
type fakePublisher struct {
	mu     sync.Mutex
	events []messaging.StoryEventPayload
}

var _ messaging.StoryEventPublisher = (*fakePublisher)(nil)

func (p *fakePublisher) PublishStoryEvent(_ context.Context, payload messaging.StoryEventPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload)
	return nil
}

func (p *fakePublisher) eventTypes() []messaging.StoryEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]messaging.StoryEventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.EventType
	}
	return out
}

// fakeGuard - in-memory реализация стража генерации.
type fakeGuard struct {
	mu     sync.Mutex
	active map[uuid.UUID]bool
}

var _ interfaces.GenerationGuard = (*fakeGuard)(nil)

func newFakeGuard() *fakeGuard {
	return &fakeGuard{active: make(map[uuid.UUID]bool)}
}

func (g *fakeGuard) Acquire(_ context.Context, storyID uuid.UUID, _ time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[storyID] {
		return models.ErrUserHasActiveGeneration
	}
	g.active[storyID] = true
	return nil
}

func (g *fakeGuard) Release(ctx context.Context, storyID uuid.UUID) error {
	// Просроченный контекст отклоняется, как в redis-реализации.
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, storyID)
	return nil
}

func (g *fakeGuard) isHeld(storyID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[storyID]
}
