package upload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	units "github.com/docker/go-units"
)

// sniffLen is how many leading bytes http.DetectContentType considers.
const sniffLen = 512

// officeTypes maps the formats the backend accepts to their MIME types.
// mime.TypeByExtension only knows them when the host has a mime.types file.
var officeTypes = map[string]string{
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".ppt":  "application/vnd.ms-powerpoint",
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// DetectContentType returns the media type of src without parameters:
// the explicit ContentType, else by extension, else by sniffing content.
func DetectContentType(src *Source) string {
	if src.ContentType != "" {
		return mediaType(src.ContentType)
	}

	ext := strings.ToLower(filepath.Ext(src.Name))
	if t, ok := officeTypes[ext]; ok {
		return t
	}

	if t := mime.TypeByExtension(ext); t != "" {
		return mediaType(t)
	}

	buf := make([]byte, sniffLen)

	n, err := src.Content.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "application/octet-stream"
	}

	return mediaType(http.DetectContentType(buf[:n]))
}

func mediaType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}

	return strings.ToLower(strings.TrimSpace(t))
}

// ValidatePatterns checks allowed-type globs for syntax errors.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("upload: invalid allowed type pattern %q", p)
		}
	}

	return nil
}

// typeAllowed reports whether contentType or name matches any pattern.
// Patterns containing "/" are matched against the media type, the rest
// against the lowercased file name.
func typeAllowed(patterns []string, name, contentType string) bool {
	lname := strings.ToLower(name)

	for _, p := range patterns {
		subject := lname
		if strings.Contains(p, "/") {
			subject = contentType
		}

		if ok, err := doublestar.Match(strings.ToLower(p), subject); err == nil && ok {
			return true
		}
	}

	return false
}

// validate runs every pre-flight check. It performs no network I/O.
func validate(src *Source, opts Options) error {
	if src.Name == "" {
		return &ValidationError{Filename: src.Name, Reason: "file name is empty"}
	}

	if src.Content == nil {
		return &ValidationError{Filename: src.Name, Reason: "no content"}
	}

	if src.Size <= 0 {
		return &ValidationError{Filename: src.Name, Reason: "file is empty"}
	}

	if opts.MaxFileSize > 0 && src.Size > opts.MaxFileSize {
		return &ValidationError{
			Filename: src.Name,
			Reason: fmt.Sprintf("file is %s, limit is %s",
				units.HumanSize(float64(src.Size)), units.HumanSize(float64(opts.MaxFileSize))),
		}
	}

	if len(opts.AllowedTypes) == 0 {
		return nil
	}

	ct := DetectContentType(src)
	if !typeAllowed(opts.AllowedTypes, src.Name, ct) {
		return &ValidationError{
			Filename: src.Name,
			Reason:   fmt.Sprintf("type %s is not allowed", ct),
		}
	}

	return nil
}
