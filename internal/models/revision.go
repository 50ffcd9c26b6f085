package models

import (
	"time"

	"github.com/google/uuid"
)

// StorySnapshot - полный снимок нарративных и графических полей истории
// на момент создания ревизии. Хранится как JSONB внутри записи ревизии.
type StorySnapshot struct {
	Title               string      `json:"title"`
	Setting             string      `json:"setting"`
	Characters          string      `json:"characters"`
	Plot                string      `json:"plot"`
	AgeGroup            string      `json:"age_group"`
	TotalPages          int         `json:"total_pages"`
	StoryGuidance       string      `json:"story_guidance,omitempty"`
	ExpandedSetting     *string     `json:"expanded_setting,omitempty"`
	ExtractedCharacters []Character `json:"extracted_characters"`
	Pages               []StoryPage `json:"pages"`
	CoreImageFileID     *uuid.UUID  `json:"core_image_file_id,omitempty"`
	Status              StoryStatus `json:"status"`
}

// Revision - неизменяемый снимок состояния истории. История владеет
// ревизиями только по ссылке (CurrentRevision); сами записи принадлежат
// журналу ревизий и никогда не переиспользуют номера.
type Revision struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	StoryID        uuid.UUID     `json:"story_id" db:"story_id"`
	RevisionNumber int           `json:"revision_number" db:"revision_number"`
	Snapshot       StorySnapshot `json:"snapshot" db:"snapshot"`
	StepCompleted  WorkflowStep  `json:"step_completed" db:"step_completed"`
	ParentRevision *int          `json:"parent_revision,omitempty" db:"parent_revision"`
	Description    *string       `json:"description,omitempty" db:"description"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// RevisionInfo - метаданные ревизии без снимка, для списков.
type RevisionInfo struct {
	RevisionNumber int          `json:"revision_number" db:"revision_number"`
	StepCompleted  WorkflowStep `json:"step_completed" db:"step_completed"`
	ParentRevision *int         `json:"parent_revision,omitempty" db:"parent_revision"`
	Description    *string      `json:"description,omitempty" db:"description"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// SnapshotOf снимает текущее состояние истории в StorySnapshot.
func SnapshotOf(story *Story) StorySnapshot {
	return StorySnapshot{
		Title:               story.Title,
		Setting:             story.Setting,
		Characters:          story.Characters,
		Plot:                story.Plot,
		AgeGroup:            story.AgeGroup,
		TotalPages:          story.TotalPages,
		StoryGuidance:       story.StoryGuidance,
		ExpandedSetting:     story.ExpandedSetting,
		ExtractedCharacters: story.ExtractedCharacters,
		Pages:               story.Pages,
		CoreImageFileID:     story.CoreImageFileID,
		Status:              story.Status,
	}
}

// ApplySnapshot копирует все поля снимка обратно на живую запись истории.
// Используется при восстановлении ревизии (деструктивный restore).
func ApplySnapshot(story *Story, snap StorySnapshot) {
	story.Title = snap.Title
	story.Setting = snap.Setting
	story.Characters = snap.Characters
	story.Plot = snap.Plot
	story.AgeGroup = snap.AgeGroup
	story.TotalPages = snap.TotalPages
	story.StoryGuidance = snap.StoryGuidance
	story.ExpandedSetting = snap.ExpandedSetting
	story.ExtractedCharacters = snap.ExtractedCharacters
	story.Pages = snap.Pages
	story.CoreImageFileID = snap.CoreImageFileID
	story.Status = snap.Status
}
