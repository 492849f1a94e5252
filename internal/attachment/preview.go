package attachment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// Preview is a local copy of an image attachment that a surface can show.
// It owns its file until Release is called.
type Preview struct {
	Path string
	MIME string

	once sync.Once
	err  error
}

// newPreview writes data to dir when it is an image. Other payloads get no
// preview and no error.
func newPreview(dir string, data []byte) (*Preview, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attachment: preview dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "preview-*"+mt.Extension())
	if err != nil {
		return nil, fmt.Errorf("attachment: create preview: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("attachment: write preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("attachment: write preview: %w", err)
	}
	return &Preview{Path: f.Name(), MIME: mt.String()}, nil
}

// Release deletes the preview file. Safe to call more than once and on nil.
func (p *Preview) Release() error {
	if p == nil {
		return nil
	}
	p.once.Do(func() {
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.err = err
		}
	})
	return p.err
}
