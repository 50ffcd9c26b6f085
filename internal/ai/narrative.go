package ai

import (
	"context"
	"fmt"
	"strings"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/models"
)

// Compile-time check
var _ interfaces.TextGenerator = (*Client)(nil)

const expandSettingSystemPrompt = `You are a children's book author. Expand the short setting description ` +
	`into a vivid, age-appropriate scene description of 2-4 paragraphs. Keep every concrete detail the ` +
	`author already wrote; add atmosphere, colors and sensory texture. Reply with plain text only.`

const extractCharactersSystemPrompt = `You extract characters for a children's picture book. Given the story ` +
	`details, return JSON: {"characters":[{"name":"...","description":"..."}]}. Names must be unique. ` +
	`Descriptions are 1-2 sentences focused on visual appearance so an illustrator can draw them.`

const pageTextsSystemPrompt = `You write the text of a children's picture book. Given the story details and ` +
	`the number of pages, return JSON: {"pages":[{"page_number":1,"text":"..."}]}. Produce exactly the ` +
	`requested number of pages, numbered from 1, 2-5 short sentences per page, language appropriate for ` +
	`the given age group.`

// storyContext собирает нарративный контекст истории для user-промпта.
func storyContext(story *models.Story) string {
	var sb strings.Builder
	sb.WriteString("Title: " + story.Title + "\n")
	sb.WriteString("Age group: " + story.AgeGroup + "\n")
	sb.WriteString("Setting: " + story.Setting + "\n")
	if story.ExpandedSetting != nil && *story.ExpandedSetting != "" {
		sb.WriteString("Expanded setting: " + *story.ExpandedSetting + "\n")
	}
	sb.WriteString("Characters: " + story.Characters + "\n")
	sb.WriteString("Plot: " + story.Plot + "\n")
	if story.StoryGuidance != "" {
		sb.WriteString("Author guidance: " + story.StoryGuidance + "\n")
	}
	return sb.String()
}

// ExpandSetting - реализация interfaces.TextGenerator.
func (c *Client) ExpandSetting(ctx context.Context, story *models.Story) (string, error) {
	expanded, err := c.Complete(ctx, "expand_setting", expandSettingSystemPrompt, storyContext(story))
	if err != nil {
		return "", err
	}
	expanded = strings.TrimSpace(expanded)
	if expanded == "" {
		return "", fmt.Errorf("%w: пустое расширение сеттинга", ErrAIGenerationFailed)
	}
	return expanded, nil
}

// ExtractCharacters - реализация interfaces.TextGenerator.
func (c *Client) ExtractCharacters(ctx context.Context, story *models.Story) ([]models.Character, error) {
	var parsed struct {
		Characters []models.Character `json:"characters"`
	}
	if err := c.CompleteJSON(ctx, "extract_characters", extractCharactersSystemPrompt, storyContext(story), &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Characters) == 0 {
		return nil, fmt.Errorf("%w: модель не вернула ни одного персонажа", ErrAIGenerationFailed)
	}

	// Имена уникальны в пределах истории; дубликаты от модели отбрасываем.
	seen := make(map[string]bool, len(parsed.Characters))
	characters := make([]models.Character, 0, len(parsed.Characters))
	for _, ch := range parsed.Characters {
		name := strings.TrimSpace(ch.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		characters = append(characters, models.Character{Name: name, Description: strings.TrimSpace(ch.Description)})
	}
	return characters, nil
}

// GeneratePageTexts - реализация interfaces.TextGenerator.
// Гарантирует ровно story.TotalPages страниц с непрерывной нумерацией с 1.
func (c *Client) GeneratePageTexts(ctx context.Context, story *models.Story) ([]models.StoryPage, error) {
	userPrompt := fmt.Sprintf("%s\nNumber of pages: %d", storyContext(story), story.TotalPages)

	var parsed struct {
		Pages []struct {
			PageNumber int    `json:"page_number"`
			Text       string `json:"text"`
		} `json:"pages"`
	}
	if err := c.CompleteJSON(ctx, "page_texts", pageTextsSystemPrompt, userPrompt, &parsed); err != nil {
		return nil, err
	}

	byNumber := make(map[int]string, len(parsed.Pages))
	for _, p := range parsed.Pages {
		if p.PageNumber >= 1 && p.PageNumber <= story.TotalPages {
			byNumber[p.PageNumber] = strings.TrimSpace(p.Text)
		}
	}

	pages := make([]models.StoryPage, story.TotalPages)
	for i := 1; i <= story.TotalPages; i++ {
		text, ok := byNumber[i]
		if !ok || text == "" {
			return nil, fmt.Errorf("%w: модель не вернула текст страницы %d из %d", ErrAIGenerationFailed, i, story.TotalPages)
		}
		pages[i-1] = models.StoryPage{PageNumber: i, Text: text}
	}
	return pages, nil
}
