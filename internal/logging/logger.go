// Package logging writes the diagnostic log of a persona project. The
// terminal belongs to the UI, so diagnostics only ever go to
// .persona/logs/persona.log.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/persona/internal/config"
)

// FileName is the log file inside .persona/logs.
const FileName = "persona.log"

// Logger writes one timestamped line per Printf. It is safe for the
// concurrent pipelines of a session; once closed it drops everything.
type Logger struct {
	mu   sync.Mutex
	out  io.WriteCloser
	path string
	now  func() time.Time
}

// New opens the project's log for appending, creating .persona/logs when
// needed.
func New(projectDir string) (*Logger, error) {
	path := filepath.Join(projectDir, config.PersonaDir, "logs", FileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{out: f, path: path, now: time.Now}, nil
}

// Path is the log file location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Printf formats one entry. Embedded newlines, common in remote error
// bodies, are folded so every entry stays on a single line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\r\n")
	msg = strings.NewReplacer("\r\n", " | ", "\n", " | ").Replace(msg)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	fmt.Fprintf(l.out, "[%s] %s\n", l.now().Format(time.RFC3339), msg)
}

// Close releases the file. Later Printf calls are no-ops.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}
