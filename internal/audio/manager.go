// Package audio owns the synthesized speech of a session.
//
// At most one clip is current. Installing a new clip first releases the
// previous clip's playable file and stops its playback; the bytes of the
// current clip stay in memory so it can be downloaded again.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/encoding/unicode"

	"github.com/kingrea/persona/internal/export"
	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/remote"
)

var (
	// ErrNothingToSay is returned when synthesis is asked for blank text.
	// It is not meant to be shown to the user.
	ErrNothingToSay = errors.New("audio: nothing to synthesize")
	// ErrNoAudio is returned by downloads when no clip exists yet.
	ErrNoAudio = errors.New("audio: no audio has been generated yet")
	// ErrStale is returned by SynthesizeIf when the clip was no longer wanted
	// by the time it arrived. The previous clip stays current.
	ErrStale = errors.New("audio: clip superseded")
)

// Synthesizer renders speech. remote.Client satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (remote.Audio, error)
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Info describes the current clip for observers.
type Info struct {
	Present     bool
	Serial      int
	Bytes       int
	ContentType string
	Playing     bool
}

type artifact struct {
	data        []byte
	contentType string
	ext         string
	serial      int
	handle      *handle
}

// handle is the playable form of a clip: a temp file loaded into the player.
type handle struct {
	path   string
	player Player
}

func (h *handle) release() error {
	if h == nil {
		return nil
	}
	stopErr := h.player.Stop()
	rmErr := os.Remove(h.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	return errors.Join(stopErr, rmErr)
}

// Manager synthesizes, plays and exports speech.
type Manager struct {
	synth  Synthesizer
	player Player
	sink   export.Sink
	dir    string
	voice  string
	logger Logger

	mu      sync.Mutex
	current *artifact
	serial  int
	playing bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithPlayer sets the playback backend. Defaults to a silent player.
func WithPlayer(p Player) Option {
	return func(m *Manager) {
		if p != nil {
			m.player = p
		}
	}
}

// WithSink sets where downloads are written.
func WithSink(s export.Sink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithWorkDir sets where playable temp files live. Defaults to os.TempDir.
func WithWorkDir(dir string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(dir) != "" {
			m.dir = dir
		}
	}
}

// WithVoice sets the voice used when a call passes none.
func WithVoice(voice string) Option {
	return func(m *Manager) {
		if v := strings.TrimSpace(voice); v != "" {
			m.voice = v
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a manager with no current clip.
func NewManager(synth Synthesizer, opts ...Option) *Manager {
	m := &Manager{
		synth:  synth,
		player: &NopPlayer{},
		sink:   export.NewDirSink("exports"),
		dir:    os.TempDir(),
		voice:  remote.DefaultVoice,
		logger: nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Voice returns the default voice.
func (m *Manager) Voice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voice
}

// SetVoice changes the default voice. Blank input is ignored.
func (m *Manager) SetVoice(voice string) {
	if v := strings.TrimSpace(voice); v != "" {
		m.mu.Lock()
		m.voice = v
		m.mu.Unlock()
	}
}

// Synthesize renders text and makes the result the current clip. Blank text
// returns ErrNothingToSay without a call. On failure the previous clip stays
// current and the returned error is a fault.KindMedia error.
func (m *Manager) Synthesize(ctx context.Context, text, voice string) error {
	return m.SynthesizeIf(ctx, text, voice, nil)
}

// SynthesizeIf is Synthesize for results that may go stale while the
// service is working. current is checked under the manager lock right
// before the new clip replaces the old one; when it reports false the new
// clip is discarded and ErrStale is returned. A nil current always installs.
func (m *Manager) SynthesizeIf(ctx context.Context, text, voice string, current func() bool) error {
	if strings.TrimSpace(text) == "" {
		return ErrNothingToSay
	}
	if strings.TrimSpace(voice) == "" {
		voice = m.Voice()
	}
	clip, err := m.synth.Synthesize(ctx, text, voice)
	if err != nil {
		m.logger.Printf("audio: synthesis failed: %v", err)
		return classify(err)
	}
	mt := mimetype.Detect(clip.Data)
	ext := mt.Extension()
	if ext == "" || !strings.HasPrefix(mt.String(), "audio/") {
		ext = ".mp3"
	}
	path, err := m.writeTemp(clip.Data, ext)
	if err != nil {
		m.logger.Printf("audio: %v", err)
		return fault.Media("synthesize", fault.ShapeUnavailable, genericFailure, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if current != nil && !current() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Printf("audio: drop stale clip: %v", err)
		}
		return ErrStale
	}
	if m.current != nil {
		if err := m.current.handle.release(); err != nil {
			m.logger.Printf("audio: release clip %d: %v", m.current.serial, err)
		}
	}
	m.serial++
	m.current = &artifact{
		data:        clip.Data,
		contentType: clip.ContentType,
		ext:         ext,
		serial:      m.serial,
		handle:      &handle{path: path, player: m.player},
	}
	m.playing = false
	if err := m.player.Load(path); err != nil {
		m.logger.Printf("audio: load clip %d: %v", m.serial, err)
	}
	return nil
}

// Play starts or resumes the current clip. Without a playable clip it does
// nothing.
func (m *Manager) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.handle == nil {
		return nil
	}
	if err := m.player.Play(); err != nil {
		return fault.Media("play", fault.ShapeNone, "playback failed", err)
	}
	m.playing = true
	return nil
}

// Pause pauses the current clip. Without a playable clip it does nothing.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.handle == nil {
		return nil
	}
	if err := m.player.Pause(); err != nil {
		return fault.Media("pause", fault.ShapeNone, "pause failed", err)
	}
	m.playing = false
	return nil
}

// DownloadCurrent saves the current clip under suggestedName.
func (m *Manager) DownloadCurrent(ctx context.Context, suggestedName string) (string, error) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current == nil {
		return "", ErrNoAudio
	}
	name := withExt(suggestedName, "speech", current.ext)
	location, err := m.sink.Save(ctx, name, current.data, current.contentType)
	if err != nil {
		return "", fmt.Errorf("audio: download: %w", err)
	}
	return location, nil
}

// DownloadText saves text as UTF-8 with a byte order mark.
func (m *Manager) DownloadText(ctx context.Context, text, suggestedName string) (string, error) {
	encoded, err := unicode.UTF8BOM.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return "", fmt.Errorf("audio: encode text: %w", err)
	}
	name := withExt(suggestedName, "report", ".txt")
	location, err := m.sink.Save(ctx, name, encoded, "text/plain; charset=utf-8")
	if err != nil {
		return "", fmt.Errorf("audio: download text: %w", err)
	}
	return location, nil
}

// Current describes the current clip.
func (m *Manager) Current() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Info{}
	}
	return Info{
		Present:     true,
		Serial:      m.current.serial,
		Bytes:       len(m.current.data),
		ContentType: m.current.contentType,
		Playing:     m.playing,
	}
}

// Clip returns a copy of the current clip's bytes and content type.
func (m *Manager) Clip() ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, "", false
	}
	return append([]byte(nil), m.current.data...), m.current.contentType, true
}

// Close releases the current clip's playable file and unloads the player.
// The bytes are kept for downloads; Play and Pause become no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.handle == nil {
		return nil
	}
	err := m.current.handle.release()
	m.current.handle = nil
	m.playing = false
	return errors.Join(err, m.player.Load(""))
}

func (m *Manager) writeTemp(data []byte, ext string) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare audio dir: %w", err)
	}
	f, err := os.CreateTemp(m.dir, "speech-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return f.Name(), nil
}

const genericFailure = "audio generation failed"

// classify turns a synthesis failure into the message shown to the user.
func classify(err error) error {
	detail := fault.Message(err)
	switch fault.ShapeOf(err) {
	case fault.ShapeStatus:
		return fault.Media("synthesize", fault.ShapeStatus, "speech service error: "+detail, err)
	case fault.ShapeNotAudio:
		return fault.Media("synthesize", fault.ShapeNotAudio, "speech service returned no audio: "+detail, err)
	case fault.ShapeEmptyAudio:
		return fault.Media("synthesize", fault.ShapeEmptyAudio, "speech service returned empty audio", err)
	default:
		return fault.Media("synthesize", fault.ShapeUnavailable, genericFailure, err)
	}
}

func withExt(name, fallback, ext string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	if filepath.Ext(name) == "" {
		name += ext
	}
	return name
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
