// Package analysis drives the report requests: the primary report built from
// the subject's identity and the extended report that also reads the
// attachments.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kingrea/persona/internal/audio"
	"github.com/kingrea/persona/internal/remote"
	"github.com/kingrea/persona/internal/session"
)

const (
	// NoInterpretationPlaceholder replaces an empty but successful primary response.
	NoInterpretationPlaceholder = "The service returned no interpretation."
	// DefaultResetDelay is how long a finished run keeps showing its final progress.
	DefaultResetDelay = 1500 * time.Millisecond
)

// ErrSuperseded is returned when a newer run started before this one finished.
// Nothing from the superseded run is applied.
var ErrSuperseded = errors.New("analysis: superseded by a newer run")

// Analyzer requests the primary report. remote.Client satisfies it.
type Analyzer interface {
	AnalyzePrimary(ctx context.Context, req remote.PrimaryRequest) (string, error)
}

// Speaker renders report text as the session's current audio. current is
// consulted when the clip is ready to be installed; a false answer drops the
// clip and yields audio.ErrStale. audio.Manager satisfies it.
type Speaker interface {
	SynthesizeIf(ctx context.Context, text, voice string, current func() bool) error
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Result is what a finished run produced. AudioErr reports a synthesis
// failure that did not fail the run.
type Result struct {
	Text     string
	AudioErr error
}

// Pipeline runs primary analyses.
type Pipeline struct {
	analyzer   Analyzer
	report     *session.Report
	speaker    Speaker
	logger     Logger
	resetDelay time.Duration
	afterFunc  func(time.Duration, func())
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithResetDelay sets how long progress stays at its final value.
func WithResetDelay(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d >= 0 {
			p.resetDelay = d
		}
	}
}

// WithAfterFunc replaces time.AfterFunc for scheduling the progress reset.
func WithAfterFunc(fn func(time.Duration, func())) PipelineOption {
	return func(p *Pipeline) {
		if fn != nil {
			p.afterFunc = fn
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline wires a pipeline to the report it writes.
func NewPipeline(analyzer Analyzer, report *session.Report, speaker Speaker, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		analyzer:   analyzer,
		report:     report,
		speaker:    speaker,
		logger:     nopLogger{},
		resetDelay: DefaultResetDelay,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// PrimaryRequest builds the wire request for subject.
func PrimaryRequest(subject session.Subject) remote.PrimaryRequest {
	return remote.PrimaryRequest{
		Name:        strings.TrimSpace(subject.Name),
		DateOfBirth: subject.BirthDate(),
		Gender:      subject.Gender.Code(),
	}
}

// Run requests the primary report for subject, stores it and voices it.
// An invalid subject is rejected before any network call. Steps run in
// order: request, text, audio. A synthesis failure is reported in
// Result.AudioErr and leaves the text in place.
func (p *Pipeline) Run(ctx context.Context, subject session.Subject) (Result, error) {
	if err := subject.Validate(); err != nil {
		return Result{}, err
	}
	gen := p.report.BeginPrimary()
	p.report.Advance(gen, session.ProgressRequested)
	p.logger.Printf("analysis: run %d started for %s", gen, strings.TrimSpace(subject.Name))

	text, err := p.analyzer.AnalyzePrimary(ctx, PrimaryRequest(subject))
	if err != nil {
		if !p.report.FailPrimary(gen) {
			return Result{}, ErrSuperseded
		}
		p.logger.Printf("analysis: run %d failed: %v", gen, err)
		p.scheduleReset(gen)
		return Result{}, err
	}
	if !p.report.Advance(gen, session.ProgressReceived) {
		p.logger.Printf("analysis: run %d superseded, response dropped", gen)
		return Result{}, ErrSuperseded
	}
	if strings.TrimSpace(text) == "" {
		text = NoInterpretationPlaceholder
	}
	if !p.report.CompletePrimary(gen, text) {
		return Result{}, ErrSuperseded
	}
	p.report.Advance(gen, session.ProgressText)

	res := Result{Text: text}
	err = p.speaker.SynthesizeIf(ctx, text, "", func() bool { return p.report.PrimaryCurrent(gen) })
	switch {
	case errors.Is(err, audio.ErrStale):
		p.logger.Printf("analysis: run %d superseded, audio dropped", gen)
		return Result{}, ErrSuperseded
	case err != nil:
		p.logger.Printf("analysis: run %d audio failed: %v", gen, err)
		res.AudioErr = err
	}
	p.report.Advance(gen, session.ProgressAudio)
	p.scheduleReset(gen)
	return res, nil
}

func (p *Pipeline) scheduleReset(gen uint64) {
	p.afterFunc(p.resetDelay, func() {
		p.report.Settle(gen)
	})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
