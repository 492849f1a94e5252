package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/persona/internal/analysis"
	"github.com/kingrea/persona/internal/attachment"
	"github.com/kingrea/persona/internal/audio"
	"github.com/kingrea/persona/internal/config"
	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/orchestrator"
	"github.com/kingrea/persona/internal/remote"
	"github.com/kingrea/persona/internal/session"
)

type fakeBackend struct {
	mu          sync.Mutex
	subject     []string
	hasPrimary  bool
	files       map[string][]byte
	removed     []string
	include     bool
	voice       string
	clip        []byte
	exportKinds []orchestrator.ReportKind
	workErrs    []error
}

// sawContext records whether a backend call was handed a live context.
func (f *fakeBackend) sawContext(ctx context.Context) {
	f.mu.Lock()
	f.workErrs = append(f.workErrs, ctx.Err())
	f.mu.Unlock()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{files: map[string][]byte{}, include: true, voice: remote.DefaultVoice}
}

func (f *fakeBackend) Snapshot() orchestrator.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := orchestrator.State{
		Report: orchestrator.ReportView{HasPrimary: f.hasPrimary},
		Chat:   orchestrator.ChatView{SessionID: "sess-1", IncludeAttachments: f.include},
		Audio:  orchestrator.AudioView{Present: f.clip != nil, Voice: f.voice},
	}
	if len(f.subject) == 3 {
		state.Subject = orchestrator.SubjectView{Name: f.subject[0], DateOfBirth: f.subject[1], Gender: f.subject[2]}
	}
	for name, data := range f.files {
		state.Attachments = append(state.Attachments, orchestrator.AttachmentView{ID: "id-" + name, Name: name, Size: len(data)})
	}
	return state
}

func (f *fakeBackend) Health(ctx context.Context) (remote.Health, error) {
	return remote.Health{Status: "ok", AnalysisAvailable: true}, nil
}

func (f *fakeBackend) SetSubjectFields(name, dob, gender string) error {
	if dob == "bad" {
		return fault.Validation("subject", "date of birth must look like 17.05.2000")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subject = []string{name, dob, gender}
	return nil
}

func (f *fakeBackend) Analyze(ctx context.Context) (analysis.Result, error) {
	f.sawContext(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subject) == 0 {
		return analysis.Result{}, fault.Validation("analyze", "name and date of birth required")
	}
	f.hasPrimary = true
	return analysis.Result{
		Text:     "report",
		AudioErr: fault.Media("synthesize", fault.ShapeEmptyAudio, "speech service returned empty audio", nil),
	}, nil
}

func (f *fakeBackend) AnalyzeExtended(ctx context.Context) (analysis.ExtendedResult, error) {
	return analysis.ExtendedResult{}, fault.Remote("extended analysis", "llm unavailable", nil)
}

func (f *fakeBackend) Chat(ctx context.Context, text string) (session.Turn, error) {
	f.sawContext(ctx)
	return session.Turn{Role: session.RoleAssistant, Content: "echo: " + text}, nil
}

func (f *fakeBackend) NewConversation() {}

func (f *fakeBackend) SetIncludeAttachments(include bool) {
	f.mu.Lock()
	f.include = include
	f.mu.Unlock()
}

func (f *fakeBackend) SetVoice(voice string) {
	f.mu.Lock()
	f.voice = voice
	f.mu.Unlock()
}

func (f *fakeBackend) AddFile(name string, data []byte) (attachment.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = data
	return attachment.Record{ID: "id-" + name, DisplayName: name}, nil
}

func (f *fakeBackend) AddLink(ctx context.Context, link string) (attachment.Record, error) {
	return attachment.Record{}, fault.Remote("add link", "could not read the linked document", nil)
}

func (f *fakeBackend) ExtractAttachment(ctx context.Context, id string) (string, error) {
	if id != "id-cv.txt" {
		return "", attachment.ErrUnknown
	}
	return "extracted", nil
}

func (f *fakeBackend) RemoveAttachment(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return id == "id-cv.txt"
}

func (f *fakeBackend) Speak(ctx context.Context, text string) error {
	f.sawContext(ctx)
	if strings.TrimSpace(text) == "" {
		return audio.ErrNothingToSay
	}
	f.mu.Lock()
	f.clip = []byte("ID3" + text)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Play() error  { return nil }
func (f *fakeBackend) Pause() error { return nil }

func (f *fakeBackend) AudioClip() ([]byte, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clip == nil {
		return nil, "", false
	}
	return f.clip, "audio/mpeg", true
}

func (f *fakeBackend) ExportReport(ctx context.Context, kind orchestrator.ReportKind) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportKinds = append(f.exportKinds, kind)
	return "/tmp/exports/Anna-" + string(kind) + ".txt", nil
}

func (f *fakeBackend) DownloadAudio(ctx context.Context, name string) (string, error) {
	return "", audio.ErrNoAudio
}

func testSettings() Settings {
	return Settings{
		Enabled: true, Host: "127.0.0.1", Port: 0,
		MaxBodyBytes: 1024, MaxUploadBytes: 4096,
		ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second,
	}
}

func newTestBridge(t *testing.T) (*httptest.Server, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(NewServer(testSettings(), backend).Handler())
	t.Cleanup(srv.Close)
	return srv, backend
}

func doJSON(t *testing.T, method, url string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("PERSONA_BRIDGE_PORT", "9001")
	t.Setenv("PERSONA_BRIDGE_HOST", "0.0.0.0")
	t.Setenv("PERSONA_BRIDGE_ENABLED", "false")
	cfg := &config.Config{}
	settings := SettingsFromConfig(cfg)
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.Enabled {
		t.Fatalf("expected enabled=false from env override")
	}
	if settings.MaxUploadBytes <= attachment.MaxUploadBytes {
		t.Fatalf("upload limit %d must admit a full attachment", settings.MaxUploadBytes)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	t.Parallel()
	srv := NewServer(testSettings(), newFakeBackend())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
	resp, err := http.Get(srv.BaseURL() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	var health healthResponse
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.Status != string(StatusReady) {
		t.Fatalf("unexpected health %d %+v", resp.StatusCode, health)
	}
	if health.Service == nil || !health.Service.AnalysisAvailable {
		t.Fatalf("expected service health, got %+v", health)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if srv.Addr() != "" {
		t.Fatalf("expected no address after shutdown")
	}
}

func TestDisabledServerDoesNotStart(t *testing.T) {
	settings := testSettings()
	settings.Enabled = false
	if err := NewServer(settings, newFakeBackend()).Start(context.Background()); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestAnalysisFlow(t *testing.T) {
	srv, _ := newTestBridge(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/analysis", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without subject, got %d", resp.StatusCode)
	}
	if body["kind"] != string(fault.KindValidation) {
		t.Fatalf("expected validation kind, got %v", body["kind"])
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/subject", subjectRequest{Name: "Anna", DateOfBirth: "bad"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad date, got %d", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodPut, srv.URL+"/subject", subjectRequest{Name: "Anna", DateOfBirth: "17.05.2000", Gender: "F"})
	if resp.StatusCode != http.StatusOK || body["name"] != "Anna" {
		t.Fatalf("unexpected subject response %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/analysis", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["text"] != "report" || body["audio_error"] != "speech service returned empty audio" {
		t.Fatalf("unexpected analysis body %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/analysis/extended", nil)
	if resp.StatusCode != http.StatusBadGateway || body["error"] != "llm unavailable" {
		t.Fatalf("expected 502 for remote failure, got %d %v", resp.StatusCode, body)
	}
}

func TestChatRoutes(t *testing.T) {
	srv, backend := newTestBridge(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/chat", chatRequest{Text: "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	turn, _ := body["turn"].(map[string]any)
	if turn["content"] != "echo: hi" || turn["role"] != string(session.RoleAssistant) {
		t.Fatalf("unexpected turn %v", turn)
	}

	resp, body = doJSON(t, http.MethodPut, srv.URL+"/chat/settings", map[string]any{"include_attachments": false, "voice": "en-US-AriaNeural"})
	if resp.StatusCode != http.StatusOK || body["include_attachments"] != false || body["voice"] != "en-US-AriaNeural" {
		t.Fatalf("unexpected settings response %d %v", resp.StatusCode, body)
	}
	if backend.Snapshot().Chat.IncludeAttachments {
		t.Fatalf("include_attachments not forwarded")
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/chat", strings.Repeat("x", 2048))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestAttachmentRoutes(t *testing.T) {
	srv, backend := newTestBridge(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "cv.txt")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte("engineer"))
	_ = form.Close()
	resp, err := http.Post(srv.URL+"/attachments/file", form.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var view orchestrator.AttachmentView
	_ = json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || view.ID != "id-cv.txt" || view.Size != len("engineer") {
		t.Fatalf("unexpected upload response %d %+v", resp.StatusCode, view)
	}
	backend.mu.Lock()
	stored := string(backend.files["cv.txt"])
	backend.mu.Unlock()
	if stored != "engineer" {
		t.Fatalf("file not forwarded to backend")
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/attachments/id-cv.txt/extract", nil)
	if resp.StatusCode != http.StatusOK || body["text"] != "extracted" {
		t.Fatalf("unexpected extract response %d %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/attachments/missing/extract", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/attachments/link", linkRequest{URL: "https://example.com/private"})
	if resp.StatusCode != http.StatusBadGateway || !strings.Contains(body["error"].(string), "linked document") {
		t.Fatalf("unexpected link response %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/attachments/id-cv.txt", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/attachments/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAudioAndExportRoutes(t *testing.T) {
	srv, backend := newTestBridge(t)

	resp, err := http.Get(srv.URL + "/audio/current")
	if err != nil {
		t.Fatalf("get audio: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without audio, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/audio/speak", speakRequest{Text: " "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/audio/speak", speakRequest{Text: "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/audio/current")
	if err != nil {
		t.Fatalf("get audio: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "audio/mpeg" || string(data) != "ID3hello" {
		t.Fatalf("unexpected audio %q %q", resp.Header.Get("Content-Type"), data)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/exports/report", exportRequest{Kind: "extended"})
	if resp.StatusCode != http.StatusCreated || body["location"] != "/tmp/exports/Anna-extended.txt" {
		t.Fatalf("unexpected export response %d %v", resp.StatusCode, body)
	}
	backend.mu.Lock()
	kinds := append([]orchestrator.ReportKind(nil), backend.exportKinds...)
	backend.mu.Unlock()
	if len(kinds) != 1 || kinds[0] != orchestrator.ReportExtended {
		t.Fatalf("unexpected export kinds %v", kinds)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/exports/audio", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing audio, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	srv, _ := newTestBridge(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/analysis", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestWorkSurvivesClientDisconnect(t *testing.T) {
	backend := newFakeBackend()
	backend.subject = []string{"Anna", "17.05.2000", "female"}
	handler := NewServer(testSettings(), backend).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := []struct {
		path string
		body string
	}{
		{"/analysis", ""},
		{"/chat", `{"text":"hello"}`},
		{"/audio/speak", `{"text":"hello"}`},
	}
	for _, call := range calls {
		req := httptest.NewRequest(http.MethodPost, call.path, strings.NewReader(call.body)).WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", call.path, rec.Code, rec.Body.String())
		}
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.workErrs) != len(calls) {
		t.Fatalf("expected %d backend calls, got %d", len(calls), len(backend.workErrs))
	}
	for i, err := range backend.workErrs {
		if err != nil {
			t.Fatalf("call %d ran with a cancelled context: %v", i, err)
		}
	}
	if !backend.hasPrimary {
		t.Fatalf("expected the report to be stored after the caller left")
	}
}

func TestSettingsFallBackOnBadValues(t *testing.T) {
	t.Setenv("PERSONA_BRIDGE_PORT", "70000")
	t.Setenv("PERSONA_BRIDGE_ENABLED", "maybe")
	t.Setenv("PERSONA_BRIDGE_HOST", "   ")
	settings := SettingsFromConfig(nil)
	if settings != DefaultSettings() {
		t.Fatalf("expected defaults, got %+v", settings)
	}

	filled := Settings{Host: " ", Port: -1}.withDefaults()
	if filled.Address() != "127.0.0.1:8766" {
		t.Fatalf("unexpected address %s", filled.Address())
	}
	if filled.MaxUploadBytes != DefaultMaxUploadBytes || filled.WriteTimeout != DefaultWriteTimeout {
		t.Fatalf("expected default limits, got %+v", filled)
	}
}
