// Package attachment keeps the documents a user attaches to a session and
// the text extracted from them.
//
// Extraction is lazy and happens at most once per record: concurrent callers
// asking for the same record share one in-flight request, and once text is
// stored it is never fetched again.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/remote"
)

// MaxUploadBytes matches the upload limit enforced by the service.
const MaxUploadBytes = 25 << 20

const defaultParallelism = 4

// ErrUnknown is returned for ids that are not in the store.
var ErrUnknown = errors.New("attachment: unknown id")

// Source says where a record came from.
type Source string

const (
	SourceFile Source = "file"
	SourceLink Source = "link"
)

// Service is the part of the remote client the store needs.
type Service interface {
	ExtractFile(ctx context.Context, name string, data []byte) (remote.Extraction, error)
	FetchURLText(ctx context.Context, url string) (string, error)
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Record is one attachment. Records returned by the store are copies.
type Record struct {
	ID          string
	DisplayName string
	Source      Source
	Payload     []byte
	Preview     *Preview
	Text        string
	Extracted   bool
	// Failed marks a record whose extraction failed during a batch and was
	// settled to empty text.
	Failed bool
}

// HasText reports whether extracted text is present and non-empty.
func (r Record) HasText() bool {
	return r.Extracted && strings.TrimSpace(r.Text) != ""
}

// Store is an ordered collection of attachments.
type Store struct {
	service     Service
	logger      Logger
	previewDir  string
	parallelism int

	mu      sync.Mutex
	records []*Record
	flight  singleflight.Group
}

// Option customizes a Store.
type Option func(*Store)

// WithPreviewDir sets where image previews are written. Defaults to os.TempDir.
func WithPreviewDir(dir string) Option {
	return func(s *Store) {
		if strings.TrimSpace(dir) != "" {
			s.previewDir = dir
		}
	}
}

// WithParallelism bounds concurrent extractions in EnsureAllExtracted.
func WithParallelism(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns an empty store backed by service.
func NewStore(service Service, opts ...Option) *Store {
	s := &Store{
		service:     service,
		logger:      nopLogger{},
		previewDir:  os.TempDir(),
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AddFromFile stores an uploaded file. Images get a local preview. No
// network call is made.
func (s *Store) AddFromFile(name string, data []byte) (Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, fault.Validation("add file", "file name is required")
	}
	if len(data) == 0 {
		return Record{}, fault.Validation("add file", fmt.Sprintf("%s is empty", name))
	}
	if len(data) > MaxUploadBytes {
		return Record{}, fault.Validation("add file", fmt.Sprintf("%s is larger than %d MB", name, MaxUploadBytes>>20))
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	rec := &Record{
		ID:          uuid.NewString(),
		DisplayName: name,
		Source:      SourceFile,
		Payload:     payload,
	}
	preview, err := newPreview(s.previewDir, payload)
	if err != nil {
		s.logger.Printf("attachment: preview for %s unavailable: %v", name, err)
	}
	rec.Preview = preview

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return *rec, nil
}

// AddFromPath reads a local file and adds it.
func (s *Store) AddFromPath(path string) (Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, fault.Validation("add file", fmt.Sprintf("cannot open %s: %v", path, err))
	}
	if info.Size() > MaxUploadBytes {
		return Record{}, fault.Validation("add file", fmt.Sprintf("%s is larger than %d MB", info.Name(), MaxUploadBytes>>20))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fault.Validation("add file", fmt.Sprintf("cannot read %s: %v", path, err))
	}
	return s.AddFromFile(info.Name(), data)
}

// AddFromLink asks the service for the text behind link. A record is only
// created when the fetch succeeds.
func (s *Store) AddFromLink(ctx context.Context, link string) (Record, error) {
	link = strings.TrimSpace(link)
	parsed, err := url.Parse(link)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Record{}, fault.Validation("add link", "enter a full http(s) link")
	}
	text, err := s.service.FetchURLText(ctx, link)
	if err != nil {
		s.logger.Printf("attachment: fetch %s failed: %v", link, err)
		msg := fmt.Sprintf("could not read the linked document (%s). Check that it is public or upload the file directly", fault.Message(err))
		return Record{}, fault.Remote("add link", msg, err)
	}
	rec := &Record{
		ID:          uuid.NewString(),
		DisplayName: linkName(parsed),
		Source:      SourceLink,
		Text:        text,
		Extracted:   true,
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return *rec, nil
}

// Remove deletes a record and releases its preview. Unknown ids are ignored.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	var removed *Record
	for i, rec := range s.records {
		if rec.ID == id {
			removed = rec
			s.records = append(s.records[:i:i], s.records[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if removed == nil {
		return false
	}
	if err := removed.Preview.Release(); err != nil {
		s.logger.Printf("attachment: release preview for %s: %v", removed.DisplayName, err)
	}
	return true
}

// EnsureExtracted returns the text of record id, extracting it first when
// needed. Concurrent callers for the same id share one request. A failed
// extraction leaves the text absent so it can be retried.
func (s *Store) EnsureExtracted(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	rec := s.find(id)
	if rec == nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	if rec.Extracted {
		text := rec.Text
		s.mu.Unlock()
		return text, nil
	}
	if rec.Payload == nil {
		s.mu.Unlock()
		return "", nil
	}
	name, payload := rec.DisplayName, rec.Payload
	s.mu.Unlock()

	value, err, _ := s.flight.Do(id, func() (any, error) {
		if text, done := s.extracted(id); done {
			return text, nil
		}
		out, err := s.service.ExtractFile(context.WithoutCancel(ctx), name, payload)
		if err != nil {
			return "", err
		}
		return s.store(id, out.Text), nil
	})
	if err != nil {
		s.logger.Printf("attachment: extract %s failed: %v", name, err)
		return "", err
	}
	return value.(string), nil
}

// EnsureAllExtracted extracts every record concurrently and waits for all of
// them. A record whose extraction fails is settled with empty text and the
// batch carries on; the returned error is then a partial extraction fault.
func (s *Store) EnsureAllExtracted(ctx context.Context) ([]Record, error) {
	ids := s.ids()
	var (
		mu     sync.Mutex
		failed []string
		errs   []error
	)
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := s.EnsureExtracted(ctx, id)
			if err == nil || errors.Is(err, ErrUnknown) {
				return nil
			}
			if name, ok := s.settle(id); ok {
				mu.Lock()
				failed = append(failed, name)
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	records := s.Records()
	if len(failed) > 0 {
		return records, fault.Partial("extract", failed, errors.Join(errs...))
	}
	return records, nil
}

// ComposeText joins the extracted text of every record, each under a header
// naming the attachment. Records without text are skipped.
func (s *Store) ComposeText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parts []string
	for _, rec := range s.records {
		if !rec.HasText() {
			continue
		}
		parts = append(parts, fmt.Sprintf("=== Attachment: %s ===\n%s", rec.DisplayName, strings.TrimSpace(rec.Text)))
	}
	return strings.Join(parts, "\n\n")
}

// Records returns copies of every record in insertion order.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	for i, rec := range s.records {
		out[i] = *rec
	}
	return out
}

// Get returns a copy of record id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.find(id); rec != nil {
		return *rec, true
	}
	return Record{}, false
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close releases every preview. The records stay readable.
func (s *Store) Close() error {
	s.mu.Lock()
	previews := make([]*Preview, 0, len(s.records))
	for _, rec := range s.records {
		previews = append(previews, rec.Preview)
	}
	s.mu.Unlock()
	var errs []error
	for _, p := range previews {
		if err := p.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) find(id string) *Record {
	for _, rec := range s.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (s *Store) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.records))
	for i, rec := range s.records {
		ids[i] = rec.ID
	}
	return ids
}

func (s *Store) extracted(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.find(id); rec != nil && rec.Extracted {
		return rec.Text, true
	}
	return "", false
}

// store sets the text once. A record removed meanwhile is left alone.
func (s *Store) store(id, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.find(id)
	if rec == nil {
		return text
	}
	if !rec.Extracted {
		rec.Text = text
		rec.Extracted = true
	}
	return rec.Text
}

func (s *Store) settle(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.find(id)
	if rec == nil {
		return "", false
	}
	if !rec.Extracted {
		rec.Text = ""
		rec.Extracted = true
		rec.Failed = true
	}
	return rec.DisplayName, true
}

func linkName(u *url.URL) string {
	name := u.Host + strings.TrimRight(u.Path, "/")
	const limit = 60
	if r := []rune(name); len(r) > limit {
		name = string(r[:limit-1]) + "…"
	}
	return name
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
