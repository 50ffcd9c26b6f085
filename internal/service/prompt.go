package service

import (
	"fmt"
	"strings"

	"storybook-server/internal/models"
)

// imageStylePreamble - общий стилевой префикс всех промптов иллюстраций.
const imageStylePreamble = "Children's book illustration, warm and friendly, soft colors, no text in the image."

// buildCoreImagePrompt собирает промпт обложки из нарративного контекста
// истории. Вывод детерминирован: одни и те же поля дают одинаковый промпт.
func buildCoreImagePrompt(story *models.Story) string {
	var b strings.Builder
	b.WriteString(imageStylePreamble)
	b.WriteString(fmt.Sprintf(" Cover illustration for the story %q (age group: %s).", story.Title, story.AgeGroup))

	setting := story.Setting
	if story.ExpandedSetting != nil && *story.ExpandedSetting != "" {
		setting = *story.ExpandedSetting
	}
	if setting != "" {
		b.WriteString(" Scene: ")
		b.WriteString(setting)
	}
	if summary := charactersSummary(story); summary != "" {
		b.WriteString(" Characters: ")
		b.WriteString(summary)
	}
	if story.Plot != "" {
		b.WriteString(" Story: ")
		b.WriteString(story.Plot)
	}
	if story.StoryGuidance != "" {
		b.WriteString(" Style guidance: ")
		b.WriteString(story.StoryGuidance)
	}
	return b.String()
}

// buildPageImagePrompt собирает промпт иллюстрации страницы: контекст
// истории плюс текст страницы и ее подсказка по изображению.
func buildPageImagePrompt(story *models.Story, page *models.StoryPage) string {
	var b strings.Builder
	b.WriteString(imageStylePreamble)
	b.WriteString(fmt.Sprintf(" Illustration for page %d of the story %q (age group: %s).",
		page.PageNumber, story.Title, story.AgeGroup))

	setting := story.Setting
	if story.ExpandedSetting != nil && *story.ExpandedSetting != "" {
		setting = *story.ExpandedSetting
	}
	if setting != "" {
		b.WriteString(" Scene: ")
		b.WriteString(setting)
	}
	if summary := charactersSummary(story); summary != "" {
		b.WriteString(" Characters: ")
		b.WriteString(summary)
	}
	if page.Text != "" {
		b.WriteString(" Page text: ")
		b.WriteString(page.Text)
	}
	if page.ImageGuidance != "" {
		b.WriteString(" Image guidance: ")
		b.WriteString(page.ImageGuidance)
	}
	if story.StoryGuidance != "" {
		b.WriteString(" Style guidance: ")
		b.WriteString(story.StoryGuidance)
	}
	return b.String()
}

// charactersSummary перечисляет извлеченных персонажей, либо отдает
// сырой текст, если извлечение еще не выполнялось.
func charactersSummary(story *models.Story) string {
	if len(story.ExtractedCharacters) == 0 {
		return story.Characters
	}
	parts := make([]string, 0, len(story.ExtractedCharacters))
	for _, ch := range story.ExtractedCharacters {
		parts = append(parts, fmt.Sprintf("%s (%s)", ch.Name, ch.Description))
	}
	return strings.Join(parts, "; ")
}

// applyCustomPrompt дописывает пользовательский промпт как аддитивную
// инструкцию-модификацию, сохраняя нарративный контекст при перегенерации.
func applyCustomPrompt(base, custom string) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return base
	}
	return base + " Modification request: " + custom
}
