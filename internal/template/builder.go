package template

import (
	"sort"
	"strings"

	"storybook-server/internal/models"
)

// PlaceholderCoreImage - логическая ссылка на текущую обложку истории.
// Подставляется реальным URL в момент сборки запроса, поэтому
// перегенерация обложки автоматически влияет на последующие запросы
// страниц, ссылающиеся на нее.
const PlaceholderCoreImage = "placeholder:core-image"

const placeholderPrefix = "placeholder:"

// PlaceholderResolver разрешает логическую ссылку на изображение в URL.
// Второе значение false означает, что ссылка сейчас ничем не наполнена
// (например, у истории еще нет обложки).
type PlaceholderResolver func(placeholder string) (string, bool)

// ImageSet - изображения, фактически переданные в запрос генерации,
// сгруппированные по ролям. Значения могут быть URL либо placeholder-ссылками.
type ImageSet struct {
	Primary   string
	Reference string
	Style     string
	// Extras - явные переопределения по имени поля, для ролей,
	// не покрываемых стандартной маршрутизацией (mask, conditioning, other).
	Extras map[string]string
}

// IsEmpty сообщает, что не передано ни одного изображения.
func (s ImageSet) IsEmpty() bool {
	return s.Primary == "" && s.Reference == "" && s.Style == "" && len(s.Extras) == 0
}

// BuildModelInput собирает объект запроса по шаблону: сохраненные значения
// конфигурации, затем промпт в поле промпта, затем изображения по ролям.
// Поля промпта и изображений защищены от перезаписи значениями конфигурации.
func BuildModelInput(tmpl *models.ModelTemplate, prompt string, images ImageSet, resolve PlaceholderResolver) map[string]any {
	input := make(map[string]any, len(tmpl.UserValues)+1+len(tmpl.ImageFields))

	for key, value := range tmpl.UserValues {
		if tmpl.IsReservedField(key) {
			// Инвариант: конфигурация не может тронуть промпт или изображения.
			continue
		}
		input[key] = value
	}

	input[tmpl.PromptField] = prompt

	resolved := resolveImageSet(images, resolve)

	if len(tmpl.ImageFieldTypes) == 0 && len(tmpl.ImageFields) > 0 {
		// Шаблон без ролевых меток: primary-или-reference уходит
		// в первое объявленное поле-изображение.
		value := resolved.Primary
		if value == "" {
			value = resolved.Reference
		}
		if value != "" {
			first := tmpl.ImageFields[0]
			if tmpl.IsArrayImageField(first) {
				input[first] = []string{value}
			} else {
				input[first] = value
			}
		}
		return input
	}

	for _, field := range tmpl.ImageFields {
		role := tmpl.ImageFieldTypes[field]
		if tmpl.IsArrayImageField(field) {
			if list := accumulateImages(resolved, field); len(list) > 0 {
				input[field] = list
			}
			continue
		}

		var value string
		switch role {
		case models.ImageRolePrimary:
			value = resolved.Primary
		case models.ImageRoleReference:
			value = resolved.Reference
		case models.ImageRoleStyle:
			value = resolved.Style
		default:
			// Для нераспознанных ролей остается явное переопределение по имени.
			value = resolved.Extras[field]
		}
		if value == "" {
			value = resolved.Extras[field]
		}
		if value != "" {
			input[field] = value
		}
	}
	return input
}

// accumulateImages собирает все фактически переданные изображения для
// массивного поля в приоритетном порядке с дедупликацией по значению.
func accumulateImages(images ImageSet, field string) []string {
	var list []string
	seen := make(map[string]bool)
	add := func(value string) {
		if value != "" && !seen[value] {
			seen[value] = true
			list = append(list, value)
		}
	}
	add(images.Primary)
	add(images.Reference)
	add(images.Style)

	if override, ok := images.Extras[field]; ok {
		add(override)
	}
	// Остальные явные изображения в детерминированном порядке.
	keys := make([]string, 0, len(images.Extras))
	for k := range images.Extras {
		if k != field {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(images.Extras[k])
	}
	return list
}

// resolveImageSet подставляет реальные URL вместо placeholder-ссылок.
// Неразрешимые ссылки отбрасываются: запрос просто не получит изображение.
func resolveImageSet(images ImageSet, resolve PlaceholderResolver) ImageSet {
	out := ImageSet{
		Primary:   resolveImage(images.Primary, resolve),
		Reference: resolveImage(images.Reference, resolve),
		Style:     resolveImage(images.Style, resolve),
	}
	if len(images.Extras) > 0 {
		out.Extras = make(map[string]string, len(images.Extras))
		for k, v := range images.Extras {
			if rv := resolveImage(v, resolve); rv != "" {
				out.Extras[k] = rv
			}
		}
	}
	return out
}

func resolveImage(value string, resolve PlaceholderResolver) string {
	if !strings.HasPrefix(value, placeholderPrefix) {
		return value
	}
	if resolve == nil {
		return ""
	}
	resolved, ok := resolve(value)
	if !ok {
		return ""
	}
	return resolved
}

// DefaultModelInput - параметры запроса, когда шаблон для модели
// отсутствует: фиксированный набор значений без инжекции изображений.
func DefaultModelInput(prompt string) map[string]any {
	return map[string]any{
		"prompt":              prompt,
		"width":               1024,
		"height":              1024,
		"num_inference_steps": 30,
		"guidance_scale":      7.5,
	}
}
