// Package orchestrator owns one user session: the subject, the report state,
// the attachment store, the chat and the current speech clip. Every surface
// (TUI, HTTP bridge, CLI) drives the same *Session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kingrea/persona/internal/analysis"
	"github.com/kingrea/persona/internal/attachment"
	"github.com/kingrea/persona/internal/audio"
	"github.com/kingrea/persona/internal/chat"
	"github.com/kingrea/persona/internal/export"
	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/remote"
	"github.com/kingrea/persona/internal/session"
)

// ReportKind selects which report ExportReport writes.
type ReportKind string

const (
	ReportPrimary  ReportKind = "primary"
	ReportExtended ReportKind = "extended"
)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Journal records user-visible events. logbook.Logbook satisfies it.
type Journal interface {
	Info(format string, args ...any)
	Failure(op string, err error)
}

// Settings are the inputs NewSession needs beyond the collaborators.
type Settings struct {
	ServiceURL         string
	Timeouts           remote.Timeouts
	Voice              string
	IncludeAttachments bool
	ResetDelay         time.Duration
	// WorkDir holds image previews and playable audio files.
	WorkDir string
}

// Option customizes a Session.
type Option func(*options)

type options struct {
	httpClient *http.Client
	sink       export.Sink
	player     audio.Player
	logger     Logger
	journal    Journal
	afterFunc  func(time.Duration, func())
}

// WithHTTPClient overrides the HTTP client used for the report service.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithSink sets where downloads are written.
func WithSink(s export.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithPlayer sets the audio player.
func WithPlayer(p audio.Player) Option {
	return func(o *options) { o.player = p }
}

// WithLogger routes diagnostics.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithJournal routes user-visible events.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithAfterFunc replaces time.AfterFunc for the progress reset.
func WithAfterFunc(fn func(time.Duration, func())) Option {
	return func(o *options) { o.afterFunc = fn }
}

// Session is the aggregate every surface holds by reference.
type Session struct {
	client      *remote.Client
	report      *session.Report
	attachments *attachment.Store
	audio       *audio.Manager
	primary     *analysis.Pipeline
	extended    *analysis.Extended
	chat        *chat.Session
	logger      Logger
	journal     Journal

	mu      sync.RWMutex
	subject session.Subject

	busy busyCounters
}

type busyCounters struct {
	analyzing  atomic.Int32
	extending  atomic.Int32
	chatting   atomic.Int32
	extracting atomic.Int32
	speaking   atomic.Int32
}

// NewSession wires a session against the report service at settings.ServiceURL.
func NewSession(settings Settings, opts ...Option) *Session {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = nopLogger{}
	}
	if o.journal == nil {
		o.journal = nopJournal{}
	}

	clientOpts := []remote.Option{remote.WithTimeouts(settings.Timeouts), remote.WithLogger(o.logger)}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, remote.WithHTTPClient(o.httpClient))
	}
	client := remote.New(settings.ServiceURL, clientOpts...)

	audioOpts := []audio.Option{audio.WithVoice(settings.Voice), audio.WithLogger(o.logger)}
	if settings.WorkDir != "" {
		audioOpts = append(audioOpts, audio.WithWorkDir(settings.WorkDir))
	}
	if o.sink != nil {
		audioOpts = append(audioOpts, audio.WithSink(o.sink))
	}
	if o.player != nil {
		audioOpts = append(audioOpts, audio.WithPlayer(o.player))
	}
	speaker := audio.NewManager(client, audioOpts...)

	storeOpts := []attachment.Option{attachment.WithLogger(o.logger)}
	if settings.WorkDir != "" {
		storeOpts = append(storeOpts, attachment.WithPreviewDir(settings.WorkDir))
	}
	store := attachment.NewStore(client, storeOpts...)

	report := session.NewReport()
	pipelineOpts := []analysis.PipelineOption{analysis.WithLogger(o.logger)}
	if settings.ResetDelay > 0 {
		pipelineOpts = append(pipelineOpts, analysis.WithResetDelay(settings.ResetDelay))
	}
	if o.afterFunc != nil {
		pipelineOpts = append(pipelineOpts, analysis.WithAfterFunc(o.afterFunc))
	}

	return &Session{
		client:      client,
		report:      report,
		attachments: store,
		audio:       speaker,
		primary:     analysis.NewPipeline(client, report, speaker, pipelineOpts...),
		extended:    analysis.NewExtended(client, store, report, speaker, o.logger),
		chat:        chat.New(client, report, store, settings.IncludeAttachments, o.logger),
		logger:      o.logger,
		journal:     o.journal,
		subject:     session.Subject{Gender: session.GenderFemale},
	}
}

// ServiceURL returns the report service root.
func (s *Session) ServiceURL() string {
	return s.client.BaseURL()
}

// SetSubject replaces the subject. Reports already shown are left alone.
func (s *Session) SetSubject(subject session.Subject) {
	subject.Name = strings.TrimSpace(subject.Name)
	if subject.Gender == "" {
		subject.Gender = session.GenderFemale
	}
	s.mu.Lock()
	s.subject = subject
	s.mu.Unlock()
}

// SetSubjectFields parses raw user input into the subject.
func (s *Session) SetSubjectFields(name, dob, gender string) error {
	born, err := session.ParseBirthDate(dob)
	if err != nil {
		return fault.Validation("subject", err.Error())
	}
	g, err := session.ParseGender(gender)
	if err != nil {
		return fault.Validation("subject", err.Error())
	}
	s.SetSubject(session.Subject{Name: name, DateOfBirth: born, Gender: g})
	return nil
}

// Subject returns the current subject.
func (s *Session) Subject() session.Subject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

// Analyze runs the primary pipeline for the current subject.
func (s *Session) Analyze(ctx context.Context) (analysis.Result, error) {
	subject := s.Subject()
	s.busy.analyzing.Add(1)
	defer s.busy.analyzing.Add(-1)

	res, err := s.primary.Run(ctx, subject)
	switch {
	case errors.Is(err, analysis.ErrSuperseded):
		return res, err
	case err != nil:
		s.journal.Failure("analyze", err)
		return res, err
	}
	s.journal.Info("primary report ready for %s (%d chars)", subject.Name, len([]rune(res.Text)))
	s.journal.Failure("speak", res.AudioErr)
	return res, nil
}

// AnalyzeExtended runs the extended pipeline over every attachment.
func (s *Session) AnalyzeExtended(ctx context.Context) (analysis.ExtendedResult, error) {
	subject := s.Subject()
	s.busy.extending.Add(1)
	defer s.busy.extending.Add(-1)

	res, err := s.extended.Run(ctx, subject.Name)
	switch {
	case errors.Is(err, analysis.ErrSuperseded):
		return res, err
	case err != nil:
		s.journal.Failure("extended analysis", err)
		return res, err
	}
	s.journal.Info("extended report ready for %s using %d attachment(s)", subject.Name, s.attachments.Len())
	s.journal.Failure("extract", res.Partial)
	s.journal.Failure("speak", res.AudioErr)
	return res, nil
}

// Chat submits a question and returns the assistant turn.
func (s *Session) Chat(ctx context.Context, text string) (session.Turn, error) {
	s.busy.chatting.Add(1)
	defer s.busy.chatting.Add(-1)
	turn, err := s.chat.Submit(ctx, s.Subject().Name, text)
	if err != nil {
		s.journal.Failure("chat", err)
		return turn, err
	}
	if turn.Content == chat.ErrorReply {
		s.journal.Failure("chat", fault.Remote("chat", "no reply from the chat service", nil))
	}
	return turn, nil
}

// NewConversation starts a fresh chat transcript and server session.
func (s *Session) NewConversation() {
	s.chat.NewConversation()
	s.journal.Info("new conversation started")
}

// SetIncludeAttachments toggles attachment text in chat context.
func (s *Session) SetIncludeAttachments(include bool) {
	s.chat.SetIncludeAttachments(include)
}

// AddFile stores an uploaded file. Nothing is sent to the service yet.
func (s *Session) AddFile(name string, data []byte) (attachment.Record, error) {
	rec, err := s.attachments.AddFromFile(name, data)
	if err != nil {
		s.journal.Failure("attach", err)
		return rec, err
	}
	s.journal.Info("attached %s (%d bytes)", rec.DisplayName, len(data))
	return rec, nil
}

// AddFromPath stores a local file.
func (s *Session) AddFromPath(path string) (attachment.Record, error) {
	rec, err := s.attachments.AddFromPath(path)
	if err != nil {
		s.journal.Failure("attach", err)
		return rec, err
	}
	s.journal.Info("attached %s", rec.DisplayName)
	return rec, nil
}

// AddLink fetches the text behind link and stores it.
func (s *Session) AddLink(ctx context.Context, link string) (attachment.Record, error) {
	s.busy.extracting.Add(1)
	defer s.busy.extracting.Add(-1)
	rec, err := s.attachments.AddFromLink(ctx, link)
	if err != nil {
		s.journal.Failure("attach link", err)
		return rec, err
	}
	s.journal.Info("attached link %s (%d chars)", rec.DisplayName, len([]rune(rec.Text)))
	return rec, nil
}

// AddSource treats source as a link when it looks like one and as a local
// path otherwise.
func (s *Session) AddSource(ctx context.Context, source string) (attachment.Record, error) {
	source = strings.TrimSpace(source)
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return s.AddLink(ctx, source)
	}
	return s.AddFromPath(source)
}

// RemoveAttachment drops the record. Unknown ids are ignored.
func (s *Session) RemoveAttachment(id string) bool {
	rec, ok := s.attachments.Get(id)
	if !s.attachments.Remove(id) {
		return false
	}
	if ok {
		s.journal.Info("removed %s", rec.DisplayName)
	}
	return true
}

// ExtractAttachment makes sure the record's text is available.
func (s *Session) ExtractAttachment(ctx context.Context, id string) (string, error) {
	s.busy.extracting.Add(1)
	defer s.busy.extracting.Add(-1)
	text, err := s.attachments.EnsureExtracted(ctx, id)
	if err != nil {
		s.journal.Failure("extract", err)
	}
	return text, err
}

// Speak voices arbitrary text and makes it the current clip.
func (s *Session) Speak(ctx context.Context, text string) error {
	s.busy.speaking.Add(1)
	defer s.busy.speaking.Add(-1)
	err := s.audio.Synthesize(ctx, text, "")
	if err != nil && !errors.Is(err, audio.ErrNothingToSay) {
		s.journal.Failure("speak", err)
	}
	return err
}

// Play starts or resumes the current clip.
func (s *Session) Play() error { return s.audio.Play() }

// Pause pauses the current clip.
func (s *Session) Pause() error { return s.audio.Pause() }

// DownloadAudio exports the current clip.
func (s *Session) DownloadAudio(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		name = s.baseName() + "-speech"
	}
	location, err := s.audio.DownloadCurrent(ctx, name)
	if err != nil {
		if !errors.Is(err, audio.ErrNoAudio) {
			s.journal.Failure("download audio", err)
		}
		return "", err
	}
	s.journal.Info("audio saved to %s", location)
	return location, nil
}

// DownloadText exports arbitrary text.
func (s *Session) DownloadText(ctx context.Context, text, name string) (string, error) {
	location, err := s.audio.DownloadText(ctx, text, name)
	if err != nil {
		s.journal.Failure("download text", err)
		return "", err
	}
	s.journal.Info("text saved to %s", location)
	return location, nil
}

// ExportReport saves the primary or extended report as text.
func (s *Session) ExportReport(ctx context.Context, kind ReportKind) (string, error) {
	var (
		text string
		ok   bool
	)
	switch kind {
	case ReportPrimary, "":
		kind = ReportPrimary
		text, ok = s.report.Primary()
	case ReportExtended:
		text, ok = s.report.Extended()
	default:
		return "", fault.Validation("export", fmt.Sprintf("unknown report %q", kind))
	}
	if !ok {
		return "", fault.Validation("export", fmt.Sprintf("no %s report yet", kind))
	}
	return s.DownloadText(ctx, text, fmt.Sprintf("%s-%s.txt", s.baseName(), kind))
}

// SetVoice changes the voice used for new clips.
func (s *Session) SetVoice(voice string) {
	s.audio.SetVoice(voice)
}

// Health probes the report service.
func (s *Session) Health(ctx context.Context) (remote.Health, error) {
	return s.client.Health(ctx)
}

// Report exposes the report state.
func (s *Session) Report() session.ReportSnapshot { return s.report.Snapshot() }

// Attachments returns copies of the attachment records.
func (s *Session) Attachments() []attachment.Record { return s.attachments.Records() }

// Turns returns the chat transcript.
func (s *Session) Turns() []session.Turn { return s.chat.Turns() }

// Audio describes the current clip.
func (s *Session) Audio() audio.Info { return s.audio.Current() }

// AudioClip returns the current clip's bytes for re-download.
func (s *Session) AudioClip() ([]byte, string, bool) { return s.audio.Clip() }

// Close releases previews and the playable audio file.
func (s *Session) Close() error {
	return errors.Join(s.audio.Close(), s.attachments.Close())
}

func (s *Session) baseName() string {
	name := strings.TrimSpace(s.Subject().Name)
	if name == "" {
		return "persona"
	}
	return export.SafeName(name)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type nopJournal struct{}

func (nopJournal) Info(string, ...any)   {}
func (nopJournal) Failure(string, error) {}
