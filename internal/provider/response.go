package provider

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"storybook-server/internal/models"
)

// URLAccessor реализуют объекты ответов, умеющие отдавать URL результата.
type URLAccessor interface {
	URL() string
}

// urlPropertyNames - имена строковых свойств, в которых провайдеры
// прячут URL результата.
var urlPropertyNames = []string{"url", "href", "src", "path"}

// extractor - одна стратегия извлечения URL из сырого ответа.
type extractor func(resp any) (string, bool)

// extractionChain - фиксированный порядок стратегий нормализации.
// Каждая пробуется по очереди, пока одна не даст значение.
var extractionChain = []extractor{
	extractPlainString,
	extractFirstArrayElement,
	extractAccessor,
	extractStringProperty,
	extractStringified,
}

// NormalizeResponse сводит разнородный ответ провайдера к одной строке URL
// (http(s) или data:). Если ни одна стратегия не сработала, возвращает
// UnrecognizedResponseError со списком доступных свойств объекта.
func NormalizeResponse(providerName string, resp any) (string, error) {
	for _, extract := range extractionChain {
		if url, ok := extract(resp); ok {
			return url, nil
		}
	}
	return "", &models.UnrecognizedResponseError{
		Provider: providerName,
		Fields:   ownPropertyNames(resp),
	}
}

// isURLLike принимает http(s) URL и inline data: URI.
func isURLLike(s string) bool {
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "data:")
}

// (a) ответ уже является строкой URL или data: URI.
func extractPlainString(resp any) (string, bool) {
	s, ok := resp.(string)
	if !ok {
		return "", false
	}
	if isURLLike(s) {
		return s, true
	}
	return "", false
}

// (b) ответ - массив, первый элемент которого является такой строкой.
func extractFirstArrayElement(resp any) (string, bool) {
	first, ok := firstElement(resp)
	if !ok {
		return "", false
	}
	return extractPlainString(first)
}

// (c) ответ (или первый элемент массива) реализует URL-аксессор.
func extractAccessor(resp any) (string, bool) {
	if url, ok := callAccessor(resp); ok {
		return url, true
	}
	if first, ok := firstElement(resp); ok {
		return callAccessor(first)
	}
	return "", false
}

func callAccessor(v any) (string, bool) {
	accessor, ok := v.(URLAccessor)
	if !ok {
		return "", false
	}
	url := accessor.URL()
	if url == "" {
		return "", false
	}
	return url, true
}

// (d) у объекта (или первого элемента массива) есть строковое свойство
// среди url/href/src/path.
func extractStringProperty(resp any) (string, bool) {
	if url, ok := stringProperty(resp); ok {
		return url, true
	}
	if first, ok := firstElement(resp); ok {
		return stringProperty(first)
	}
	return "", false
}

func stringProperty(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	for _, name := range urlPropertyNames {
		if raw, present := obj[name]; present {
			if s, isStr := raw.(string); isStr && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// (e) строковое представление ответа начинается со схемы URL.
func extractStringified(resp any) (string, bool) {
	if resp == nil {
		return "", false
	}
	s := fmt.Sprintf("%v", resp)
	if isURLLike(s) {
		return s, true
	}
	return "", false
}

// firstElement возвращает первый элемент, если ответ - непустой срез.
func firstElement(resp any) (any, bool) {
	rv := reflect.ValueOf(resp)
	if !rv.IsValid() || rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return nil, false
	}
	return rv.Index(0).Interface(), true
}

// ownPropertyNames перечисляет собственные свойства объекта ответа
// для диагностики нераспознанных форм.
func ownPropertyNames(resp any) []string {
	target := resp
	if first, ok := firstElement(resp); ok {
		target = first
	}

	switch v := target.(type) {
	case nil:
		return nil
	case map[string]any:
		names := make([]string, 0, len(v))
		for k := range v {
			names = append(names, k)
		}
		sort.Strings(names)
		return names
	default:
		rv := reflect.ValueOf(target)
		if rv.Kind() == reflect.Pointer {
			rv = rv.Elem()
		}
		if rv.Kind() == reflect.Struct {
			names := make([]string, 0, rv.NumField())
			for i := 0; i < rv.NumField(); i++ {
				names = append(names, rv.Type().Field(i).Name)
			}
			sort.Strings(names)
			return names
		}
		return []string{fmt.Sprintf("(%T)", target)}
	}
}
