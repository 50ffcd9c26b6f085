package interfaces

import (
	"context"

	"storybook-server/internal/models"
)

// TextGenerator produces the narrative artifacts of the authoring pipeline.
//
//go:generate mockery --name TextGenerator --output ./mocks --outpkg mocks --case=underscore
type TextGenerator interface {
	// ExpandSetting turns the raw setting text into a rich scene description.
	ExpandSetting(ctx context.Context, story *models.Story) (string, error)

	// ExtractCharacters derives a structured character list from the raw
	// characters/plot text. Names are unique within the returned slice.
	ExtractCharacters(ctx context.Context, story *models.Story) ([]models.Character, error)

	// GeneratePageTexts writes the text of every page. The returned slice
	// always has exactly story.TotalPages entries numbered from 1.
	GeneratePageTexts(ctx context.Context, story *models.Story) ([]models.StoryPage, error)
}
