package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/interfaces"
	"storybook-server/internal/models"
)

// Compile-time check
var _ interfaces.FileStore = (*LocalFileStore)(nil)

// LocalFileStore - дисковая реализация файлового хранилища.
// Раскладка: <root>/<ownerID>/<fileID>.<ext> плюс сайдкар <fileID>.json
// с метаданными. OwnerID только партиционирует каталог: поиск по одному
// fileID сканирует все партиции, поэтому идентификаторы файлов глобально
// уникальны (uuid4).
type LocalFileStore struct {
	root   string
	logger *zap.Logger
}

// NewLocalFileStore создает хранилище и гарантирует существование корневого каталога.
func NewLocalFileStore(root string, logger *zap.Logger) (*LocalFileStore, error) {
	if root == "" {
		return nil, errors.New("file store root directory is not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать корневой каталог хранилища %s: %w", root, err)
	}
	return &LocalFileStore{
		root:   root,
		logger: logger.Named("LocalFileStore"),
	}, nil
}

// Store сохраняет содержимое и метаданные под новым глобально уникальным ID.
func (s *LocalFileStore) Store(ctx context.Context, data []byte, filename, mimeType string, ownerID uuid.UUID, role models.FileRole) (*models.FileMetadata, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file content", models.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fileID := uuid.New()
	meta := &models.FileMetadata{
		ID:        fileID,
		OwnerID:   ownerID,
		Role:      role,
		Filename:  filename,
		MimeType:  mimeType,
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC(),
	}

	ownerDir := filepath.Join(s.root, ownerID.String())
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageFailure, err)
	}

	dataPath := filepath.Join(ownerDir, fileID.String()+extensionFor(mimeType))
	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageFailure, err)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal metadata: %v", models.ErrStorageFailure, err)
	}
	metaPath := filepath.Join(ownerDir, fileID.String()+".json")
	if err := os.WriteFile(metaPath, metaBytes, 0o644); err != nil {
		// Содержимое без метаданных бесполезно, убираем его.
		_ = os.Remove(dataPath)
		return nil, fmt.Errorf("%w: write metadata: %v", models.ErrStorageFailure, err)
	}

	s.logger.Debug("File stored",
		zap.String("fileID", fileID.String()),
		zap.String("ownerID", ownerID.String()),
		zap.String("role", string(role)),
		zap.Int64("size", meta.Size),
	)
	return meta, nil
}

// Retrieve возвращает содержимое и метаданные файла по одному только ID.
func (s *LocalFileStore) Retrieve(ctx context.Context, fileID uuid.UUID) (*models.StoredFile, error) {
	meta, dataPath, err := s.locate(ctx, fileID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read content: %v", models.ErrStorageFailure, err)
	}
	return &models.StoredFile{FileMetadata: *meta, Data: data}, nil
}

// Exists сообщает, известен ли хранилищу данный ID.
func (s *LocalFileStore) Exists(ctx context.Context, fileID uuid.UUID) (bool, error) {
	_, _, err := s.locate(ctx, fileID)
	if errors.Is(err, models.ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete удаляет содержимое и метаданные файла.
func (s *LocalFileStore) Delete(ctx context.Context, fileID uuid.UUID) error {
	meta, dataPath, err := s.locate(ctx, fileID)
	if err != nil {
		return err
	}
	metaPath := filepath.Join(s.root, meta.OwnerID.String(), fileID.String()+".json")
	if err := os.Remove(dataPath); err != nil {
		return fmt.Errorf("%w: remove content: %v", models.ErrStorageFailure, err)
	}
	if err := os.Remove(metaPath); err != nil {
		return fmt.Errorf("%w: remove metadata: %v", models.ErrStorageFailure, err)
	}
	s.logger.Debug("File deleted", zap.String("fileID", fileID.String()))
	return nil
}

// GetMetadata возвращает метаданные файла без чтения содержимого.
func (s *LocalFileStore) GetMetadata(ctx context.Context, fileID uuid.UUID) (*models.FileMetadata, error) {
	meta, _, err := s.locate(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// locate ищет файл по ID во всех партициях владельцев.
// Возвращает метаданные и путь к файлу содержимого.
func (s *LocalFileStore) locate(ctx context.Context, fileID uuid.UUID) (*models.FileMetadata, string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, "", fmt.Errorf("%w: scan root: %v", models.ErrStorageFailure, err)
	}

	metaName := fileID.String() + ".json"
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		if !entry.IsDir() {
			continue
		}
		metaPath := filepath.Join(s.root, entry.Name(), metaName)
		metaBytes, err := os.ReadFile(metaPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: read metadata: %v", models.ErrStorageFailure, err)
		}

		var meta models.FileMetadata
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return nil, "", fmt.Errorf("%w: corrupt metadata for %s: %v", models.ErrStorageFailure, fileID, err)
		}
		dataPath := filepath.Join(s.root, entry.Name(), fileID.String()+extensionFor(meta.MimeType))
		return &meta, dataPath, nil
	}
	return nil, "", models.ErrFileNotFound
}

// extensionFor подбирает расширение файла по mime-типу.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
