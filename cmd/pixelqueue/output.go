package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/pixelqueue/llm/image"
)

var mimeExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// saveImage 把 data URL 解码写入 dir/<id><ext>。
// 远程 URL 不下载，返回空路径。
func saveImage(dir string, resp *image.GenerationResponse) (string, error) {
	if resp == nil || !strings.HasPrefix(resp.URL, "data:") {
		return "", nil
	}
	mime, payload, ok := splitDataURL(resp.URL)
	if !ok {
		return "", fmt.Errorf("malformed data URL for %s", resp.ID)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode image %s: %w", resp.ID, err)
	}

	ext, ok := mimeExtensions[image.NormalizeMIME(mime)]
	if !ok {
		ext = ".bin"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, resp.ID+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

// splitDataURL parses "data:<mime>;base64,<payload>".
func splitDataURL(u string) (mime, payload string, ok bool) {
	rest, found := strings.CutPrefix(u, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}

// displayURL shortens data URLs for terminal output.
func displayURL(u string) string {
	if mime, payload, ok := splitDataURL(u); ok {
		return fmt.Sprintf("data:%s (%d base64 chars)", mime, len(payload))
	}
	return u
}
