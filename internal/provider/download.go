package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"storybook-server/internal/models"
)

// maxImageSize ограничивает размер скачиваемого изображения (32 MiB).
const maxImageSize = 32 << 20

// Download получает байты изображения по нормализованному URL.
// Поддерживает удаленные http(s) ссылки и inline base64 data: URI.
// Возвращает содержимое и mime-тип.
func Download(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	if strings.HasPrefix(url, "data:") {
		return decodeDataURI(url)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, "", fmt.Errorf("%w: unsupported image URL scheme: %.32s", models.ErrInvalidInput, url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: create download request: %v", models.ErrStorageFailure, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: download image: %v", models.ErrStorageFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: image download returned status %d", models.ErrStorageFailure, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read image body: %v", models.ErrStorageFailure, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: image download returned empty body", models.ErrStorageFailure)
	}

	mimeType := resp.Header.Get("Content-Type")
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// decodeDataURI разбирает data:<mime>;base64,<payload>.
func decodeDataURI(uri string) ([]byte, string, error) {
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return nil, "", fmt.Errorf("%w: malformed data URI", models.ErrInvalidInput)
	}
	meta, payload := rest[:comma], rest[comma+1:]

	mimeType := meta
	isBase64 := false
	if idx := strings.Index(meta, ";"); idx >= 0 {
		mimeType = meta[:idx]
		isBase64 = strings.Contains(meta[idx:], "base64")
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}

	if !isBase64 {
		return []byte(payload), mimeType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: malformed base64 in data URI: %v", models.ErrInvalidInput, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty data URI payload", models.ErrInvalidInput)
	}
	return data, mimeType, nil
}
