package logbook

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/persona/internal/fault"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestFailureLevelsFollowBlocking(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "session.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Failure("analyze", fault.Remote("analyze", "name and date of birth\nrequired", nil))
	book.Failure("speak", fault.Media("speak", fault.ShapeEmptyAudio, "speech service returned empty audio", nil))
	book.Failure("noop", nil)

	lines, total := book.Tail(10)
	if total != 2 {
		t.Fatalf("total lines = %d, want 2", total)
	}
	if !strings.Contains(lines[0], "ERROR") || !strings.Contains(lines[0], "date of birth required") {
		t.Fatalf("unexpected blocking line %q", lines[0])
	}
	if !strings.Contains(lines[1], "WARN") {
		t.Fatalf("media failures should be warnings, got %q", lines[1])
	}
}

func TestTailMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "nested", "session.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	lines, total := book.Tail(5)
	if lines != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v/%d", lines, total)
	}
}
