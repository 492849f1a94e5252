package tui

import (
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/persona/internal/analysis"
	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/orchestrator"
	"github.com/kingrea/persona/internal/remote"
)

// Messages returned by commands once a remote call settles.
type (
	healthMsg struct {
		health remote.Health
		err    error
	}
	refreshMsg      struct{}
	analysisDoneMsg struct {
		res analysis.Result
		err error
	}
	extendedDoneMsg struct {
		res analysis.ExtendedResult
		err error
	}
	chatDoneMsg struct {
		err error
	}
	attachDoneMsg struct {
		name string
		err  error
	}
	extractDoneMsg struct {
		id   string
		text string
		err  error
	}
	audioDoneMsg struct {
		err error
	}
	exportDoneMsg struct {
		location string
		err      error
	}
)

func (a *App) checkHealth() tea.Cmd {
	ctx := a.ctx
	s := a.session
	return func() tea.Msg {
		health, err := s.Health(ctx)
		return healthMsg{health: health, err: err}
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	a.ticking = true
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

// withRefresh pairs cmd with the progress refresh loop unless one is
// already running.
func (a *App) withRefresh(cmd tea.Cmd) tea.Cmd {
	a.refresh()
	if a.ticking {
		return cmd
	}
	return tea.Batch(cmd, a.scheduleRefresh())
}

func (a *App) startAnalysis() tea.Cmd {
	if err := a.session.SetSubjectFields(a.nameInput.Value(), a.dobInput.Value(), a.genderInput.Value()); err != nil {
		a.showError(err)
		return nil
	}
	a.showExtended = false
	a.statusMsg = "Requesting report..."
	ctx := a.ctx
	s := a.session
	return a.withRefresh(func() tea.Msg {
		res, err := s.Analyze(ctx)
		return analysisDoneMsg{res: res, err: err}
	})
}

func (a *App) handleAnalysisDone(msg analysisDoneMsg) tea.Cmd {
	a.refresh()
	switch {
	case errors.Is(msg.err, analysis.ErrSuperseded):
		return nil
	case msg.err != nil:
		a.statusMsg = ""
		a.showError(msg.err)
		return nil
	}
	a.statusMsg = "Report ready"
	a.showError(msg.res.AudioErr)
	return nil
}

func (a *App) startExtended() tea.Cmd {
	if !a.state.Report.HasPrimary {
		a.showError(fault.Validation("extended analysis", "Run the primary analysis first"))
		return nil
	}
	a.showExtended = true
	a.statusMsg = "Reading attachments..."
	ctx := a.ctx
	s := a.session
	return a.withRefresh(func() tea.Msg {
		res, err := s.AnalyzeExtended(ctx)
		return extendedDoneMsg{res: res, err: err}
	})
}

func (a *App) handleExtendedDone(msg extendedDoneMsg) tea.Cmd {
	a.refresh()
	switch {
	case errors.Is(msg.err, analysis.ErrSuperseded):
		return nil
	case msg.err != nil:
		a.statusMsg = ""
		a.showError(msg.err)
		return nil
	}
	a.statusMsg = "Extended report ready"
	if msg.res.Partial != nil {
		a.showError(msg.res.Partial)
	}
	if msg.res.AudioErr != nil {
		a.showError(msg.res.AudioErr)
	}
	return nil
}

func (a *App) submitChat() tea.Cmd {
	text := strings.TrimSpace(a.chatInput.Value())
	if text == "" {
		return nil
	}
	a.chatInput.Reset()
	ctx := a.ctx
	s := a.session
	return a.withRefresh(func() tea.Msg {
		_, err := s.Chat(ctx, text)
		return chatDoneMsg{err: err}
	})
}

func (a *App) addSource() tea.Cmd {
	source := strings.TrimSpace(a.sourceInput.Value())
	if source == "" {
		return nil
	}
	ctx := a.ctx
	s := a.session
	return a.withRefresh(func() tea.Msg {
		rec, err := s.AddSource(ctx, source)
		return attachDoneMsg{name: rec.DisplayName, err: err}
	})
}

func (a *App) selectedAttachment() (orchestrator.AttachmentView, bool) {
	item, ok := a.attachments.SelectedItem().(attachmentItem)
	if !ok {
		return orchestrator.AttachmentView{}, false
	}
	return item.view, true
}

func (a *App) extractSelected() tea.Cmd {
	view, ok := a.selectedAttachment()
	if !ok {
		return nil
	}
	ctx := a.ctx
	s := a.session
	return a.withRefresh(func() tea.Msg {
		text, err := s.ExtractAttachment(ctx, view.ID)
		return extractDoneMsg{id: view.ID, text: text, err: err}
	})
}

func (a *App) removeSelected() {
	view, ok := a.selectedAttachment()
	if !ok {
		return
	}
	if a.session.RemoveAttachment(view.ID) {
		a.statusMsg = "Removed " + view.Name
	}
	a.refresh()
}

func (a *App) toggleIncludeAttachments() tea.Cmd {
	include := !a.state.Chat.IncludeAttachments
	a.session.SetIncludeAttachments(include)
	if err := a.config.SetIncludeAttachments(include); err != nil {
		a.logger.Printf("tui: persist chat setting: %v", err)
	}
	a.refresh()
	if include {
		a.statusMsg = "Chat includes attachments"
	} else {
		a.statusMsg = "Chat ignores attachments"
	}
	return nil
}

func (a *App) togglePlayback() tea.Cmd {
	s := a.session
	playing := a.state.Audio.Playing
	return func() tea.Msg {
		if playing {
			return audioDoneMsg{err: s.Pause()}
		}
		return audioDoneMsg{err: s.Play()}
	}
}

func (a *App) exportReport() tea.Cmd {
	kind := orchestrator.ReportPrimary
	if a.showExtended {
		kind = orchestrator.ReportExtended
	}
	ctx := a.ctx
	s := a.session
	return func() tea.Msg {
		location, err := s.ExportReport(ctx, kind)
		return exportDoneMsg{location: location, err: err}
	}
}

func (a *App) downloadAudio() tea.Cmd {
	ctx := a.ctx
	s := a.session
	return func() tea.Msg {
		location, err := s.DownloadAudio(ctx, "")
		return exportDoneMsg{location: location, err: err}
	}
}
