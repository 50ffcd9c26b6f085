package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
)

// Mock TextGenerator
type TextGenerator struct {
	mock.Mock
}

func (m *TextGenerator) ExpandSetting(ctx context.Context, story *models.Story) (string, error) {
	args := m.Called(ctx, story)
	return args.String(0), args.Error(1)
}
func (m *TextGenerator) ExtractCharacters(ctx context.Context, story *models.Story) ([]models.Character, error) {
	args := m.Called(ctx, story)
	chars, _ := args.Get(0).([]models.Character)
	return chars, args.Error(1)
}
func (m *TextGenerator) GeneratePageTexts(ctx context.Context, story *models.Story) ([]models.StoryPage, error) {
	args := m.Called(ctx, story)
	pages, _ := args.Get(0).([]models.StoryPage)
	return pages, args.Error(1)
}
