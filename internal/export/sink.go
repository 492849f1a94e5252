// Package export writes downloaded artifacts (audio clips, report text)
// somewhere the user can pick them up.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Sink stores a named blob and returns where it ended up.
type Sink interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// DirSink writes files into a local directory.
type DirSink struct {
	dir string
}

// NewDirSink returns a sink rooted at dir. The directory is created on first save.
func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir}
}

// Dir returns the target directory.
func (s *DirSink) Dir() string {
	return s.dir
}

// Save writes data to dir/name. An existing file gets a numeric suffix
// rather than being overwritten.
func (s *DirSink) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("export: ensure dir: %w", err)
	}
	name = SafeName(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("export: create %s: %w", candidate, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("export: write %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("export: write %s: %w", candidate, err)
		}
		return path, nil
	}
}

// SafeName strips path separators and control characters from a suggested
// file name. Empty input becomes "export".
func SafeName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r), strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "export"
	}
	return out
}
