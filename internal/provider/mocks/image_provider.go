package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/provider"
)

// Mock ImageProvider
type ImageProvider struct {
	mock.Mock
}

func (m *ImageProvider) Name() string {
	args := m.Called()
	return args.String(0)
}
func (m *ImageProvider) Generate(ctx context.Context, req provider.ImageRequest) (any, error) {
	args := m.Called(ctx, req)
	return args.Get(0), args.Error(1)
}
