package models

import (
	"time"

	"github.com/google/uuid"
)

// ImageRole - назначение поля-изображения во входной схеме модели.
type ImageRole string

const (
	ImageRolePrimary      ImageRole = "primary"
	ImageRoleReference    ImageRole = "reference"
	ImageRoleStyle        ImageRole = "style"
	ImageRoleMask         ImageRole = "mask"
	ImageRoleConditioning ImageRole = "conditioning"
	ImageRoleOther        ImageRole = "other"
)

// SchemaField - одно именованное поле входной схемы сторонней модели.
type SchemaField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, integer, number, boolean
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	IsArray     bool     `json:"is_array,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// ModelSchema - входная схема произвольной сторонней модели генерации.
type ModelSchema struct {
	ModelID string        `json:"model_id"`
	Fields  []SchemaField `json:"fields"`
}

// FieldByName возвращает поле схемы по имени.
func (s ModelSchema) FieldByName(name string) *SchemaField {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// ConfigFieldKind - способ отображения конфигурируемого поля пользователю.
type ConfigFieldKind string

const (
	ConfigFieldChoice   ConfigFieldKind = "choice"
	ConfigFieldToggle   ConfigFieldKind = "toggle"
	ConfigFieldNumber   ConfigFieldKind = "number"
	ConfigFieldText     ConfigFieldKind = "text"
	ConfigFieldLongText ConfigFieldKind = "long_text"
)

// longTextDescriptionThreshold - поля с описанием длиннее этого значения
// отображаются как многострочный текст.
const longTextDescriptionThreshold = 100

// KindOf определяет вид конфигурируемого поля по его схеме.
func KindOf(f SchemaField) ConfigFieldKind {
	switch {
	case len(f.Enum) > 0:
		return ConfigFieldChoice
	case f.Type == "boolean":
		return ConfigFieldToggle
	case f.Type == "integer" || f.Type == "number":
		return ConfigFieldNumber
	case len(f.Description) > longTextDescriptionThreshold:
		return ConfigFieldLongText
	default:
		return ConfigFieldText
	}
}

// ModelTemplate - выученный шаблон входной схемы модели: ровно одно
// поле промпта, ноль и более полей-изображений с ролями, остальные
// поля конфигурируются пользователем. Один шаблон на (user, model).
type ModelTemplate struct {
	ID               uuid.UUID            `json:"id" db:"id"`
	UserID           uuid.UUID            `json:"user_id" db:"user_id"`
	ModelID          string               `json:"model_id" db:"model_id"`
	PromptField      string               `json:"prompt_field" db:"prompt_field"`
	ImageFields      []string             `json:"image_fields" db:"image_fields"`
	ImageFieldTypes  map[string]ImageRole `json:"image_field_types" db:"image_field_types"`
	ImageArrayFields []string             `json:"image_array_fields" db:"image_array_fields"`
	UserValues       map[string]any       `json:"user_values" db:"user_values"`
	CreatedAt        time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at" db:"updated_at"`
}

// IsImageField сообщает, классифицировано ли поле как изображение.
func (t *ModelTemplate) IsImageField(name string) bool {
	for _, f := range t.ImageFields {
		if f == name {
			return true
		}
	}
	return false
}

// IsArrayImageField сообщает, принимает ли поле-изображение массив значений.
func (t *ModelTemplate) IsArrayImageField(name string) bool {
	for _, f := range t.ImageArrayFields {
		if f == name {
			return true
		}
	}
	return false
}

// IsReservedField сообщает, занято ли имя поля промптом или изображением.
// Значения конфигурации не могут перезаписывать такие поля.
func (t *ModelTemplate) IsReservedField(name string) bool {
	return name == t.PromptField || t.IsImageField(name)
}
