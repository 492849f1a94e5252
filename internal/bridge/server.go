// Package bridge exposes a session over a local JSON API so scripts and
// other tools can drive the same workflows as the terminal UI.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/kingrea/persona/internal/analysis"
	"github.com/kingrea/persona/internal/attachment"
	"github.com/kingrea/persona/internal/orchestrator"
	"github.com/kingrea/persona/internal/remote"
	"github.com/kingrea/persona/internal/session"
)

// ProtocolVersion identifies the bridge contract version exposed via /health.
const ProtocolVersion = "1.0.0"

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrDisabled is returned by Start when the bridge is switched off.
var ErrDisabled = errors.New("bridge: server disabled")

// Backend is the session the bridge drives. *orchestrator.Session satisfies it.
type Backend interface {
	Snapshot() orchestrator.State
	Health(ctx context.Context) (remote.Health, error)
	SetSubjectFields(name, dob, gender string) error
	Analyze(ctx context.Context) (analysis.Result, error)
	AnalyzeExtended(ctx context.Context) (analysis.ExtendedResult, error)
	Chat(ctx context.Context, text string) (session.Turn, error)
	NewConversation()
	SetIncludeAttachments(include bool)
	SetVoice(voice string)
	AddFile(name string, data []byte) (attachment.Record, error)
	AddLink(ctx context.Context, link string) (attachment.Record, error)
	ExtractAttachment(ctx context.Context, id string) (string, error)
	RemoveAttachment(id string) bool
	Speak(ctx context.Context, text string) error
	Play() error
	Pause() error
	AudioClip() ([]byte, string, bool)
	ExportReport(ctx context.Context, kind orchestrator.ReportKind) (string, error)
	DownloadAudio(ctx context.Context, name string) (string, error)
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Server wraps the HTTP listener and the routes over a Backend.
type Server struct {
	settings Settings
	backend  Backend
	logger   Logger
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a bridge server for backend.
func NewServer(settings Settings, backend Backend, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		backend:  backend,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverer, s.requestLog)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/subject", s.handleSubject).Methods(http.MethodPut)

	r.HandleFunc("/analysis", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/analysis/extended", s.handleExtended).Methods(http.MethodPost)

	r.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/chat", s.handleNewConversation).Methods(http.MethodDelete)
	r.HandleFunc("/chat/settings", s.handleChatSettings).Methods(http.MethodPut)

	r.HandleFunc("/attachments/file", s.handleAttachFile).Methods(http.MethodPost)
	r.HandleFunc("/attachments/link", s.handleAttachLink).Methods(http.MethodPost)
	r.HandleFunc("/attachments/{id}/extract", s.handleExtract).Methods(http.MethodPost)
	r.HandleFunc("/attachments/{id}", s.handleRemoveAttachment).Methods(http.MethodDelete)

	r.HandleFunc("/audio/speak", s.handleSpeak).Methods(http.MethodPost)
	r.HandleFunc("/audio/play", s.handlePlay).Methods(http.MethodPost)
	r.HandleFunc("/audio/pause", s.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/audio/current", s.handleCurrentAudio).Methods(http.MethodGet)

	r.HandleFunc("/exports/report", s.handleExportReport).Methods(http.MethodPost)
	r.HandleFunc("/exports/audio", s.handleExportAudio).Methods(http.MethodPost)
	return r
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bridge: server is nil")
	}
	if !s.settings.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("bridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("bridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("bridge: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("bridge: panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := s.clock()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Printf("bridge: %s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, s.clock().Sub(started).Round(time.Millisecond))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
