package image

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// File is the opaque handle a caller attaches as a reference image.
type File interface {
	Name() string
	// Type is the MIME type as reported by whoever produced the file. May be empty.
	Type() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// RawFileProvider is implemented by wrappers (upload widgets, form adapters)
// that carry the real file underneath.
type RawFileProvider interface {
	RawFile() File
}

// CanonicalFile unwraps f when it exposes a non-nil raw file and returns f otherwise.
func CanonicalFile(f File) File {
	if w, ok := f.(RawFileProvider); ok {
		if raw := w.RawFile(); raw != nil {
			return raw
		}
	}
	return f
}

// LocalFile is a file on disk.
type LocalFile struct {
	Path     string
	MIMEType string
}

// NewLocalFile stats path and fills MIMEType from the extension or content.
func NewLocalFile(path string) (*LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return &LocalFile{Path: path, MIMEType: DetectType(path, head[:n])}, nil
}

func (f *LocalFile) Name() string { return filepath.Base(f.Path) }
func (f *LocalFile) Type() string { return f.MIMEType }

func (f *LocalFile) Size() int64 {
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (f *LocalFile) Open() (io.ReadCloser, error) { return os.Open(f.Path) }

// BytesFile is an in-memory file.
type BytesFile struct {
	FileName string
	MIMEType string
	Data     []byte
}

func (f *BytesFile) Name() string { return f.FileName }
func (f *BytesFile) Type() string { return f.MIMEType }
func (f *BytesFile) Size() int64  { return int64(len(f.Data)) }

func (f *BytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}

// UploadFile mirrors the wrapper objects produced by upload widgets: it has
// its own bookkeeping fields and keeps the actual file in Raw.
type UploadFile struct {
	UID    string
	Status string
	Raw    File
}

func (u *UploadFile) RawFile() File { return u.Raw }

func (u *UploadFile) Name() string {
	if u.Raw == nil {
		return ""
	}
	return u.Raw.Name()
}

func (u *UploadFile) Type() string {
	if u.Raw == nil {
		return ""
	}
	return u.Raw.Type()
}

func (u *UploadFile) Size() int64 {
	if u.Raw == nil {
		return 0
	}
	return u.Raw.Size()
}

func (u *UploadFile) Open() (io.ReadCloser, error) {
	if u.Raw == nil {
		return nil, os.ErrNotExist
	}
	return u.Raw.Open()
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// DetectType guesses a MIME type, trusting the extension first.
func DetectType(name string, head []byte) string {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	if len(head) == 0 {
		return ""
	}
	t := http.DetectContentType(head)
	if i := strings.Index(t, ";"); i >= 0 {
		t = t[:i]
	}
	if t == "application/octet-stream" {
		return ""
	}
	return t
}
