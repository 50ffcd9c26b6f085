package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
)

// Mock FileStore
type FileStore struct {
	mock.Mock
}

func (m *FileStore) Store(ctx context.Context, data []byte, filename, mimeType string, ownerID uuid.UUID, role models.FileRole) (*models.FileMetadata, error) {
	args := m.Called(ctx, data, filename, mimeType, ownerID, role)
	meta, _ := args.Get(0).(*models.FileMetadata)
	return meta, args.Error(1)
}
func (m *FileStore) Retrieve(ctx context.Context, fileID uuid.UUID) (*models.StoredFile, error) {
	args := m.Called(ctx, fileID)
	file, _ := args.Get(0).(*models.StoredFile)
	return file, args.Error(1)
}
func (m *FileStore) Exists(ctx context.Context, fileID uuid.UUID) (bool, error) {
	args := m.Called(ctx, fileID)
	return args.Bool(0), args.Error(1)
}
func (m *FileStore) Delete(ctx context.Context, fileID uuid.UUID) error {
	args := m.Called(ctx, fileID)
	return args.Error(0)
}
func (m *FileStore) GetMetadata(ctx context.Context, fileID uuid.UUID) (*models.FileMetadata, error) {
	args := m.Called(ctx, fileID)
	meta, _ := args.Get(0).(*models.FileMetadata)
	return meta, args.Error(1)
}
