package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Source is the file being uploaded. Content must support concurrent ReadAt
// calls (os.File and bytes.Reader both do).
type Source struct {
	// Name is sent to the server and, with Size, identifies the file for
	// resume.
	Name string
	Size int64
	// ContentType overrides detection when set.
	ContentType string
	// Path is the local path, if any. It enables the source watcher.
	Path    string
	Content io.ReaderAt
}

// OpenFile opens path as a Source. The caller must Close it.
func OpenFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("upload: opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("upload: stat %s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("upload: %s is not a regular file", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return &Source{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Path:    abs,
		Content: f,
	}, nil
}

// BytesSource wraps an in-memory payload.
func BytesSource(name string, data []byte) *Source {
	return &Source{Name: name, Size: int64(len(data)), Content: bytes.NewReader(data)}
}

// Close releases the underlying content if it is closable.
func (s *Source) Close() error {
	if c, ok := s.Content.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
