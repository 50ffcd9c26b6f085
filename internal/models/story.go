package models

import (
	"time"

	"github.com/google/uuid"
)

// StoryStatus - операционный статус истории. Определяет, какие операции
// сейчас разрешены (в отличие от WorkflowStep, который описывает этап данных).
type StoryStatus string

const (
	StatusDraft               StoryStatus = "draft"
	StatusSettingExpansion    StoryStatus = "setting_expansion"
	StatusCharactersExtracted StoryStatus = "characters_extracted"
	StatusTextApproved        StoryStatus = "text_approved"
	StatusGeneratingImages    StoryStatus = "generating_images"
	StatusComplete            StoryStatus = "complete"
)

// Story - основная сущность: детская книжка с иллюстрациями.
// Pages, ExtractedCharacters и история изображений страниц хранятся
// встроенными (JSONB), ревизии и файлы - по слабым ссылкам.
type Story struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	Title      string    `json:"title" db:"title"`
	Setting    string    `json:"setting" db:"setting"`
	Characters string    `json:"characters" db:"characters"`
	Plot       string    `json:"plot" db:"plot"`
	AgeGroup   string    `json:"age_group" db:"age_group"`
	TotalPages int       `json:"total_pages" db:"total_pages"`

	StoryGuidance       string      `json:"story_guidance,omitempty" db:"story_guidance"`
	ExpandedSetting     *string     `json:"expanded_setting,omitempty" db:"expanded_setting"`
	ExtractedCharacters []Character `json:"extracted_characters" db:"extracted_characters"`
	Pages               []StoryPage `json:"pages" db:"pages"`
	CoreImageFileID     *uuid.UUID  `json:"core_image_file_id,omitempty" db:"core_image_file_id"`

	Status          StoryStatus `json:"status" db:"status"`
	CurrentRevision int         `json:"current_revision" db:"current_revision"`
	IsBookmarked    bool        `json:"is_bookmarked" db:"is_bookmarked"`

	// Version - счетчик для оптимистичной блокировки записи Story.
	// Каждое успешное обновление строки инкрементирует его; запись с
	// устаревшим значением отклоняется (ErrVersionConflict).
	Version int `json:"-" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Character - извлеченный персонаж истории. Name уникально в пределах истории.
type Character struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ImageFileID *uuid.UUID `json:"image_file_id,omitempty"`
}

// StoryPage - страница истории с текстом и текущей иллюстрацией.
type StoryPage struct {
	PageNumber    int            `json:"page_number"`
	Text          string         `json:"text"`
	ImageGuidance string         `json:"image_guidance,omitempty"`
	ImageFileID   *uuid.UUID     `json:"image_file_id,omitempty"`
	ImageHistory  []ImageVersion `json:"image_history,omitempty"`
}

// ImageVersion - запись истории иллюстраций страницы.
// Инвариант: не более одной активной записи, и ее FileID совпадает
// с текущим ImageFileID страницы.
type ImageVersion struct {
	FileID    uuid.UUID `json:"file_id"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// ActiveImage возвращает активную запись истории иллюстраций страницы, если есть.
func (p *StoryPage) ActiveImage() *ImageVersion {
	for i := range p.ImageHistory {
		if p.ImageHistory[i].IsActive {
			return &p.ImageHistory[i]
		}
	}
	return nil
}

// FindPage возвращает указатель на страницу с данным номером (1-based).
func (s *Story) FindPage(pageNumber int) *StoryPage {
	for i := range s.Pages {
		if s.Pages[i].PageNumber == pageNumber {
			return &s.Pages[i]
		}
	}
	return nil
}

// FindCharacter возвращает персонажа по имени.
func (s *Story) FindCharacter(name string) *Character {
	for i := range s.ExtractedCharacters {
		if s.ExtractedCharacters[i].Name == name {
			return &s.ExtractedCharacters[i]
		}
	}
	return nil
}
