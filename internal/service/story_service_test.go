package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces/mocks"
	"storybook-server/internal/models"
)

func validCreateInput() CreateStoryInput {
	return CreateStoryInput{
		Title:      "Лиса и луна",
		Setting:    "ночной лес",
		Characters: "лисенок Тим",
		Plot:       "Тим ищет луну",
		AgeGroup:   "3-5",
		TotalPages: 5,
	}
}

func newStoryService(stories *fakeStoryRepo, textgen *mocks.TextGenerator, publisher *fakePublisher) *StoryService {
	return NewStoryService(stories, textgen, nil, publisher, zap.NewNop())
}

func TestCreateStory(t *testing.T) {
	stories := newFakeStoryRepo()
	svc := newStoryService(stories, new(mocks.TextGenerator), &fakePublisher{})
	userID := uuid.New()

	story, err := svc.CreateStory(context.Background(), userID, validCreateInput())
	require.NoError(t, err)

	assert.Equal(t, models.StatusDraft, story.Status)
	assert.Equal(t, userID, story.UserID)
	assert.Equal(t, 5, story.TotalPages)
	assert.Zero(t, story.CurrentRevision)

	persisted, err := svc.GetStory(context.Background(), story.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, story.ID, persisted.ID)
}

func TestCreateStory_Validation(t *testing.T) {
	svc := newStoryService(newFakeStoryRepo(), new(mocks.TextGenerator), &fakePublisher{})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateStoryInput)
	}{
		{"empty title", func(in *CreateStoryInput) { in.Title = "  " }},
		{"empty setting", func(in *CreateStoryInput) { in.Setting = "" }},
		{"empty characters", func(in *CreateStoryInput) { in.Characters = "" }},
		{"empty plot", func(in *CreateStoryInput) { in.Plot = "" }},
		{"empty age group", func(in *CreateStoryInput) { in.AgeGroup = "" }},
		{"zero pages", func(in *CreateStoryInput) { in.TotalPages = 0 }},
		{"too many pages", func(in *CreateStoryInput) { in.TotalPages = 31 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validCreateInput()
			tc.mutate(&input)
			_, err := svc.CreateStory(ctx, uuid.New(), input)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestExpandSetting(t *testing.T) {
	userID := uuid.New()
	story := &models.Story{
		ID: uuid.New(), UserID: userID,
		Title: "t", Setting: "ночной лес", Characters: "c", Plot: "p",
		AgeGroup: "3-5", TotalPages: 2, Status: models.StatusDraft,
	}
	stories := newFakeStoryRepo(story)
	textgen := new(mocks.TextGenerator)
	textgen.On("ExpandSetting", mock.Anything, mock.AnythingOfType("*models.Story")).
		Return("Тихий северный лес под огромной желтой луной.", nil)
	svc := newStoryService(stories, textgen, &fakePublisher{})

	updated, err := svc.ExpandSetting(context.Background(), story.ID, userID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSettingExpansion, updated.Status)
	require.NotNil(t, updated.ExpandedSetting)
	assert.Equal(t, "Тихий северный лес под огромной желтой луной.", *updated.ExpandedSetting)
	textgen.AssertExpectations(t)
}

func TestExpandSetting_StatusGate(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID) // text_approved
	svc := newStoryService(newFakeStoryRepo(story), new(mocks.TextGenerator), &fakePublisher{})

	_, err := svc.ExpandSetting(context.Background(), story.ID, userID)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

func TestExtractCharacters(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	story.Status = models.StatusSettingExpansion
	story.ExtractedCharacters = nil
	stories := newFakeStoryRepo(story)

	characters := []models.Character{
		{Name: "Тим", Description: "любопытный лисенок"},
		{Name: "Ума", Description: "мудрая сова"},
	}
	textgen := new(mocks.TextGenerator)
	textgen.On("ExtractCharacters", mock.Anything, mock.AnythingOfType("*models.Story")).
		Return(characters, nil)
	svc := newStoryService(stories, textgen, &fakePublisher{})

	updated, err := svc.ExtractCharacters(context.Background(), story.ID, userID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCharactersExtracted, updated.Status)
	assert.Equal(t, characters, updated.ExtractedCharacters)
}

func TestExtractCharacters_RequiresExpandedSetting(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	story.Status = models.StatusDraft
	svc := newStoryService(newFakeStoryRepo(story), new(mocks.TextGenerator), &fakePublisher{})

	_, err := svc.ExtractCharacters(context.Background(), story.ID, userID)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

func TestApproveCharacters_GeneratesAllPageTexts(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	story.Status = models.StatusCharactersExtracted
	story.TotalPages = 5
	story.Pages = nil
	stories := newFakeStoryRepo(story)

	pages := make([]models.StoryPage, 5)
	for i := range pages {
		pages[i] = models.StoryPage{PageNumber: i + 1, Text: fmt.Sprintf("Страница %d.", i+1)}
	}
	textgen := new(mocks.TextGenerator)
	textgen.On("GeneratePageTexts", mock.Anything, mock.AnythingOfType("*models.Story")).
		Return(pages, nil)
	publisher := &fakePublisher{}
	svc := newStoryService(stories, textgen, publisher)

	updated, err := svc.ApproveCharacters(context.Background(), story.ID, userID)
	require.NoError(t, err)

	// Ровно totalPages страниц, пронумерованных с единицы, без изображений.
	assert.Equal(t, models.StatusTextApproved, updated.Status)
	require.Len(t, updated.Pages, 5)
	for i, page := range updated.Pages {
		assert.Equal(t, i+1, page.PageNumber)
		assert.NotEmpty(t, page.Text)
		assert.Nil(t, page.ImageFileID)
	}
	assert.NotEmpty(t, publisher.eventTypes())
}

func TestApproveCharacters_PageCountMismatch(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	story.Status = models.StatusCharactersExtracted
	story.TotalPages = 5
	stories := newFakeStoryRepo(story)

	textgen := new(mocks.TextGenerator)
	textgen.On("GeneratePageTexts", mock.Anything, mock.AnythingOfType("*models.Story")).
		Return([]models.StoryPage{{PageNumber: 1, Text: "одна"}}, nil)
	svc := newStoryService(stories, textgen, &fakePublisher{})

	_, err := svc.ApproveCharacters(context.Background(), story.ID, userID)
	assert.ErrorIs(t, err, models.ErrInternalServer)
	// Статус не изменился.
	assert.Equal(t, models.StatusCharactersExtracted, stories.mustGet(story.ID).Status)
}

func TestApproveCharacters_StatusGate(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID) // text_approved
	svc := newStoryService(newFakeStoryRepo(story), new(mocks.TextGenerator), &fakePublisher{})

	_, err := svc.ApproveCharacters(context.Background(), story.ID, userID)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

func TestSetBookmarked(t *testing.T) {
	userID := uuid.New()
	story := storyWithPages(userID)
	stories := newFakeStoryRepo(story)
	svc := newStoryService(stories, new(mocks.TextGenerator), &fakePublisher{})

	require.NoError(t, svc.SetBookmarked(context.Background(), story.ID, userID, true))
	assert.True(t, stories.mustGet(story.ID).IsBookmarked)
}

func TestGetStory_OwnershipEnforced(t *testing.T) {
	story := storyWithPages(uuid.New())
	svc := newStoryService(newFakeStoryRepo(story), new(mocks.TextGenerator), &fakePublisher{})

	_, err := svc.GetStory(context.Background(), story.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrStoryNotFound)
}
