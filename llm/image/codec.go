package image

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/BaSui01/pixelqueue/types"
)

const (
	base64Marker   = "base64,"
	defaultMIME    = "image/jpeg"
	maxUploadBytes = 10 * 1024 * 1024
)

var acceptedTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// ToBase64 reads the whole file into a data URL using the file's own MIME type.
func ToBase64(f File) (string, error) {
	if f == nil {
		return "", types.NewReadError("no file", nil)
	}
	rc, err := f.Open()
	if err != nil {
		return "", types.NewReadError(fmt.Sprintf("open %q", f.Name()), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", types.NewReadError(fmt.Sprintf("read %q", f.Name()), err)
	}

	mime := f.Type()
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";" + base64Marker + base64.StdEncoding.EncodeToString(data), nil
}

// NormalizeMIME lower-cases the type, maps image/jpg to image/jpeg and
// falls back to image/jpeg when nothing is known.
func NormalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch mime {
	case "image/jpg":
		return "image/jpeg"
	case "":
		return defaultMIME
	}
	return mime
}

// Normalize rewrites the MIME prefix of rawDataURL from f's type and keeps the
// payload. A string without a base64 marker is treated as the payload itself.
func Normalize(f File, rawDataURL string) string {
	var mime string
	if f != nil {
		mime = f.Type()
	}
	payload := rawDataURL
	if i := strings.Index(rawDataURL, base64Marker); i > -1 {
		payload = rawDataURL[i+len(base64Marker):]
	}
	return "data:" + NormalizeMIME(mime) + ";" + base64Marker + payload
}

// EncodeReference runs the full pipeline for one attachment.
func EncodeReference(f File) (string, error) {
	raw := CanonicalFile(f)
	dataURL, err := ToBase64(raw)
	if err != nil {
		return "", err
	}
	return Normalize(raw, dataURL), nil
}

// ValidateImageFile rejects anything that is not jpeg/png/webp or exceeds 10 MiB.
func ValidateImageFile(f File) error {
	f = CanonicalFile(f)
	if f == nil {
		return types.NewError(types.ErrInvalidRequest, "no file")
	}
	if !acceptedTypes[strings.ToLower(f.Type())] {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unsupported image type %q", f.Type()))
	}
	if f.Size() > maxUploadBytes {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("image %q exceeds %d bytes", f.Name(), maxUploadBytes))
	}
	return nil
}
