package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileRole - логическая роль сохраненного файла в истории.
type FileRole string

const (
	FileRoleCore      FileRole = "core"
	FileRoleCharacter FileRole = "character"
)

// FileRolePage возвращает роль для иллюстрации страницы N.
func FileRolePage(pageNumber int) FileRole {
	return FileRole(fmt.Sprintf("page-%d", pageNumber))
}

// FileMetadata - метаданные сохраненного бинарного файла. Сами байты
// хранятся в файловом хранилище; записи историй ссылаются на файл
// только по ID. Файлы неизменяемы: новая генерация создает новый ID.
type FileMetadata struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Role      FileRole  `json:"role"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// StoredFile - содержимое файла вместе с метаданными.
type StoredFile struct {
	FileMetadata
	Data []byte `json:"-"`
}
