package analysis

import (
	"context"
	"errors"
	"strings"

	"github.com/kingrea/persona/internal/attachment"
	"github.com/kingrea/persona/internal/audio"
	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/remote"
	"github.com/kingrea/persona/internal/session"
)

// NoExtendedPlaceholder replaces an empty but successful extended response.
const NoExtendedPlaceholder = "The service returned no extended interpretation."

// ExtendedAnalyzer requests the extended report. remote.Client satisfies it.
type ExtendedAnalyzer interface {
	Extended(ctx context.Context, req remote.ExtendedRequest) (string, error)
}

// Attachments is the part of attachment.Store the extended run reads.
type Attachments interface {
	EnsureAllExtracted(ctx context.Context) ([]attachment.Record, error)
	ComposeText() string
}

// ExtendedResult is what a finished extended run produced. Partial is set
// when some attachments contributed no text.
type ExtendedResult struct {
	Text     string
	AudioErr error
	Partial  error
}

// Extended runs extended analyses on top of an existing primary report.
type Extended struct {
	analyzer    ExtendedAnalyzer
	attachments Attachments
	report      *session.Report
	speaker     Speaker
	logger      Logger
}

// NewExtended wires an extended pipeline.
func NewExtended(analyzer ExtendedAnalyzer, attachments Attachments, report *session.Report, speaker Speaker, logger Logger) *Extended {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Extended{
		analyzer:    analyzer,
		attachments: attachments,
		report:      report,
		speaker:     speaker,
		logger:      logger,
	}
}

// Run extracts every attachment, sends the composed text with the primary
// report and stores the answer. Only the latest run may write its result;
// an older run finishing later gets ErrSuperseded.
func (e *Extended) Run(ctx context.Context, subjectName string) (ExtendedResult, error) {
	gen, primary, ok := e.report.BeginExtended()
	if !ok {
		return ExtendedResult{}, fault.Validation("extended analysis", "run basic analysis first")
	}
	var res ExtendedResult
	if _, err := e.attachments.EnsureAllExtracted(ctx); err != nil {
		e.logger.Printf("analysis: extended run %d continues without some attachments: %v", gen, err)
		res.Partial = err
	}
	req := remote.ExtendedRequest{
		BaseReport:      primary,
		AttachmentsText: e.attachments.ComposeText(),
		UserName:        strings.TrimSpace(subjectName),
	}
	text, err := e.analyzer.Extended(ctx, req)
	if err != nil {
		if !e.report.FailExtended(gen) {
			return ExtendedResult{}, ErrSuperseded
		}
		e.logger.Printf("analysis: extended run %d failed: %v", gen, err)
		return res, err
	}
	if strings.TrimSpace(text) == "" {
		text = NoExtendedPlaceholder
	}
	if !e.report.CompleteExtended(gen, text) {
		e.logger.Printf("analysis: extended run %d superseded, response dropped", gen)
		return ExtendedResult{}, ErrSuperseded
	}
	res.Text = text
	err = e.speaker.SynthesizeIf(ctx, text, "", func() bool { return e.report.ExtendedCurrent(gen) })
	switch {
	case errors.Is(err, audio.ErrStale):
		e.logger.Printf("analysis: extended run %d superseded, audio dropped", gen)
		return ExtendedResult{}, ErrSuperseded
	case err != nil:
		e.logger.Printf("analysis: extended run %d audio failed: %v", gen, err)
		res.AudioErr = err
	}
	return res, nil
}
