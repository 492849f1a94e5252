package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/persona/internal/audio"
	"github.com/kingrea/persona/internal/chat"
	"github.com/kingrea/persona/internal/export"
	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/session"
)

// fakeService imitates the report service.
type fakeService struct {
	analyzeCalls  atomic.Int32
	extendedCalls atomic.Int32
	uploadCalls   atomic.Int32
	chatCalls     atomic.Int32
	ttsCalls      atomic.Int32

	mu           sync.Mutex
	analyzeBody  map[string]string
	extendedBody map[string]string
	chatBody     map[string]string
	chatSession  string
	failAnalyze  bool
	ttsPlain     bool
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze_personality", func(w http.ResponseWriter, r *http.Request) {
		f.analyzeCalls.Add(1)
		body := decodeBody(r)
		f.mu.Lock()
		f.analyzeBody = body
		fail := f.failAnalyze
		f.mu.Unlock()
		if fail {
			writeTestJSON(w, http.StatusOK, map[string]string{"error": "analysis engine offline"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]string{"display_text": "Report for " + body["name"]})
	})
	mux.HandleFunc("/extended_analysis", func(w http.ResponseWriter, r *http.Request) {
		f.extendedCalls.Add(1)
		body := decodeBody(r)
		f.mu.Lock()
		f.extendedBody = body
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]string{"extended": "Extended for " + body["user_name"]})
	})
	mux.HandleFunc("/fetch_url_text", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]string{"text": "linked text"})
	})
	mux.HandleFunc("/upload_file", func(w http.ResponseWriter, r *http.Request) {
		f.uploadCalls.Add(1)
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		writeTestJSON(w, http.StatusOK, map[string]string{"text": "extracted " + string(data), "filename": header.Filename})
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		f.chatCalls.Add(1)
		body := decodeBody(r)
		f.mu.Lock()
		f.chatBody = body
		f.chatSession = r.Header.Get("X-Session-Id")
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{
			"reply": "answer", "session_id": r.Header.Get("X-Session-Id"), "questions_used": 1, "limit": 15,
		})
	})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		f.ttsCalls.Add(1)
		f.mu.Lock()
		plain := f.ttsPlain
		f.mu.Unlock()
		if plain {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("no voice today"))
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3\x03\x00\x00\x00\x00\x00\x00fake-mp3"))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"status": "ok", "pgd_available": true, "llm_available": true, "edge_tts_available": false,
		})
	})
	return mux
}

func (f *fakeService) set(fn func(*fakeService)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeService) seen() (analyze, extended, chatBody map[string]string, chatSession string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyzeBody, f.extendedBody, f.chatBody, f.chatSession
}

func decodeBody(r *http.Request) map[string]string {
	body := map[string]string{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func writeTestJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type harness struct {
	session *Session
	service *fakeService
	player  *audio.NopPlayer
	outDir  string
	resets  []func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	h := &harness{service: svc, player: &audio.NopPlayer{}, outDir: t.TempDir()}
	h.session = NewSession(Settings{
		ServiceURL:         srv.URL,
		IncludeAttachments: true,
		WorkDir:            t.TempDir(),
	},
		WithPlayer(h.player),
		WithSink(export.NewDirSink(h.outDir)),
		WithAfterFunc(func(_ time.Duration, fn func()) { h.resets = append(h.resets, fn) }),
	)
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func (h *harness) setAnna(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.SetSubjectFields("Anna", "2000-05-17", "female"))
}

func TestAnalyzeSendsWireFormatAndVoicesReport(t *testing.T) {
	h := newHarness(t)
	h.setAnna(t)

	res, err := h.session.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Report for Anna", res.Text)
	assert.NoError(t, res.AudioErr)
	analyzeBody, _, _, _ := h.service.seen()
	assert.Equal(t, map[string]string{"name": "Anna", "dob": "17.05.2000", "gender": "F"}, analyzeBody)

	state := h.session.Snapshot()
	assert.True(t, state.Report.HasPrimary)
	assert.Equal(t, 100, state.Report.Progress)
	assert.True(t, state.Audio.Present)
	assert.Equal(t, int32(1), h.service.ttsCalls.Load())

	require.Len(t, h.resets, 1)
	h.resets[0]()
	assert.Equal(t, 0, h.session.Report().Progress)
	assert.False(t, h.session.Snapshot().Busy.Any())
}

func TestAnalyzeWithoutSubjectMakesNoCall(t *testing.T) {
	h := newHarness(t)
	_, err := h.session.Analyze(context.Background())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
	assert.Zero(t, h.service.analyzeCalls.Load())
}

func TestAnalyzeFailureLeavesPrimaryAbsent(t *testing.T) {
	h := newHarness(t)
	h.setAnna(t)
	h.service.set(func(f *fakeService) { f.failAnalyze = true })

	_, err := h.session.Analyze(context.Background())
	require.Error(t, err)
	assert.Equal(t, "analysis engine offline", fault.Message(err))
	report := h.session.Report()
	assert.False(t, report.HasPrimary)
	assert.Equal(t, session.StateFailed, report.State)
	assert.Zero(t, h.service.ttsCalls.Load())
}

func TestExtendedUsesEveryAttachmentOnce(t *testing.T) {
	h := newHarness(t)
	h.setAnna(t)
	ctx := context.Background()

	_, err := h.session.AnalyzeExtended(ctx)
	require.Error(t, err, "extended needs a primary report")
	assert.Zero(t, h.service.extendedCalls.Load())

	_, err = h.session.Analyze(ctx)
	require.NoError(t, err)
	_, err = h.session.AddLink(ctx, "https://example.com/profile")
	require.NoError(t, err)
	_, err = h.session.AddFile("notes.txt", []byte("likes hiking"))
	require.NoError(t, err)

	res, err := h.session.AnalyzeExtended(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Extended for Anna", res.Text)
	_, extendedBody, _, _ := h.service.seen()
	assert.Equal(t, "Report for Anna", extendedBody["base_report"])
	assert.Equal(t,
		"=== Attachment: example.com/profile ===\nlinked text\n\n=== Attachment: notes.txt ===\nextracted likes hiking",
		extendedBody["attachments_text"])

	_, err = h.session.Chat(ctx, "and now?")
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.service.uploadCalls.Load(), "chat reuses extracted text")

	_, err = h.session.Analyze(ctx)
	require.NoError(t, err)
	assert.False(t, h.session.Report().HasExtended, "a new primary clears the extended report")
}

func TestChatRequiresPrimaryAndTracksUsage(t *testing.T) {
	h := newHarness(t)
	h.setAnna(t)
	ctx := context.Background()

	_, err := h.session.Chat(ctx, "hello")
	require.Error(t, err)
	assert.Zero(t, h.service.chatCalls.Load())
	assert.Empty(t, h.session.Turns())

	_, err = h.session.Analyze(ctx)
	require.NoError(t, err)
	h.session.SetIncludeAttachments(false)
	turn, err := h.session.Chat(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "answer", turn.Content)
	_, _, chatBody, chatSession := h.service.seen()
	assert.Equal(t, "Report for Anna", chatBody["context"])

	state := h.session.Snapshot()
	assert.Equal(t, chatSession, state.Chat.SessionID)
	assert.Equal(t, 15, state.Chat.Limit)
	assert.Len(t, state.Turns, 2)

	h.session.NewConversation()
	assert.Empty(t, h.session.Turns())
	assert.NotEqual(t, chatSession, h.session.Snapshot().Chat.SessionID)
}

func TestSpeakFailureKeepsPreviousClip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.session.Speak(ctx, "first"))
	before := h.session.Audio()
	require.True(t, before.Present)

	h.service.set(func(f *fakeService) { f.ttsPlain = true })
	err := h.session.Speak(ctx, "second")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindMedia))
	assert.Equal(t, before.Serial, h.session.Audio().Serial)

	assert.ErrorIs(t, h.session.Speak(ctx, "  "), audio.ErrNothingToSay)
	assert.Equal(t, int32(2), h.service.ttsCalls.Load())
}

func TestExportsUseSubjectName(t *testing.T) {
	h := newHarness(t)
	h.setAnna(t)
	ctx := context.Background()

	_, err := h.session.ExportReport(ctx, ReportPrimary)
	require.Error(t, err)
	_, err = h.session.DownloadAudio(ctx, "")
	assert.ErrorIs(t, err, audio.ErrNoAudio)

	_, err = h.session.Analyze(ctx)
	require.NoError(t, err)

	path, err := h.session.ExportReport(ctx, ReportPrimary)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.outDir, "Anna-primary.txt"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\xef\xbb\xbf"))

	path, err = h.session.DownloadAudio(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.outDir, "Anna-speech.mp3"), path)

	_, err = h.session.ExportReport(ctx, "summary")
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestAttachmentLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.session.AddFile("cv.txt", []byte("engineer"))
	require.NoError(t, err)
	assert.Zero(t, h.service.uploadCalls.Load(), "adding a file makes no call")

	text, err := h.session.ExtractAttachment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "extracted engineer", text)
	_, err = h.session.ExtractAttachment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.service.uploadCalls.Load())

	views := h.session.Snapshot().Attachments
	require.Len(t, views, 1)
	assert.Equal(t, len("extracted engineer"), views[0].TextLength)

	assert.True(t, h.session.RemoveAttachment(rec.ID))
	assert.False(t, h.session.RemoveAttachment(rec.ID))
	assert.Empty(t, h.session.Attachments())
}

func TestHealthAndPlayback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	health, err := h.session.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.AnalysisAvailable)
	assert.False(t, health.SpeechAvailable)

	require.NoError(t, h.session.Play(), "play without a clip is a no-op")
	assert.Zero(t, h.player.Plays)

	require.NoError(t, h.session.Speak(ctx, "hello"))
	require.NoError(t, h.session.Play())
	assert.True(t, h.session.Audio().Playing)
	require.NoError(t, h.session.Pause())
	assert.False(t, h.session.Audio().Playing)
}

func TestChatErrorReplyIsJournaled(t *testing.T) {
	journal := &recordingJournal{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/analyze_personality":
			writeTestJSON(w, http.StatusOK, map[string]string{"display_text": "report"})
		case "/chat":
			writeTestJSON(w, http.StatusBadGateway, map[string]string{"detail": "llm down"})
		default:
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("ID3 audio"))
		}
	}))
	defer srv.Close()

	s := NewSession(Settings{ServiceURL: srv.URL, WorkDir: t.TempDir()},
		WithPlayer(&audio.NopPlayer{}),
		WithSink(export.NewDirSink(t.TempDir())),
		WithJournal(journal),
		WithAfterFunc(func(time.Duration, func()) {}),
	)
	defer s.Close()
	require.NoError(t, s.SetSubjectFields("Anna", "17.05.2000", "F"))
	_, err := s.Analyze(context.Background())
	require.NoError(t, err)

	turn, err := s.Chat(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, chat.ErrorReply, turn.Content)
	assert.Contains(t, journal.failures, "chat")
}

type recordingJournal struct {
	mu       sync.Mutex
	infos    []string
	failures []string
}

func (j *recordingJournal) Info(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.infos = append(j.infos, format)
}

func (j *recordingJournal) Failure(op string, err error) {
	if err == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failures = append(j.failures, op)
}
