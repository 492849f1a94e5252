// internal/tui/app.go
//
// This is the main TUI (Terminal User Interface) for persona.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: the form, the report, attachments, chat and audio state
// 2. Update: applies key presses and the results of remote calls
// 3. View: renders the panels
//
// Every remote call runs inside a tea.Cmd and reports back with a message,
// so the interface never blocks while the service is working.

package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/persona/internal/bridge"
	"github.com/kingrea/persona/internal/config"
	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/logbook"
	"github.com/kingrea/persona/internal/logging"
	"github.com/kingrea/persona/internal/orchestrator"
	"github.com/kingrea/persona/internal/remote"
)

// focusArea is the panel that receives typed keys.
type focusArea int

const (
	focusName focusArea = iota
	focusBirthDate
	focusGender
	focusSource
	focusAttachments
	focusReport
	focusChat
	focusCount
)

const refreshInterval = 200 * time.Millisecond

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithSession injects a prepared session instead of building one from config.
func WithSession(s *orchestrator.Session) AppOption {
	return func(a *App) {
		if s != nil {
			a.session = s
		}
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	ctx     context.Context
	config  *config.Config
	session *orchestrator.Session
	logbook *logbook.Logbook
	logger  *logging.Logger
	bridge  *bridge.Server

	focus        focusArea
	nameInput    textinput.Model
	dobInput     textinput.Model
	genderInput  textinput.Model
	sourceInput  textinput.Model
	chatInput    textinput.Model
	attachments  list.Model
	report       viewport.Model
	progress     progress.Model
	showExtended bool

	// last snapshot of the session
	state     orchestrator.State
	health    *remote.Health
	healthErr string
	ticking   bool

	// notice blocks the screen until dismissed; statusMsg does not
	notice    string
	statusMsg string

	width  int
	height int
}

// attachmentItem implements list.Item for an attachment record.
type attachmentItem struct {
	view orchestrator.AttachmentView
}

func (i attachmentItem) Title() string { return i.view.Name }
func (i attachmentItem) Description() string {
	var parts []string
	parts = append(parts, i.view.Source)
	switch {
	case i.view.Failed:
		parts = append(parts, "text unavailable")
	case i.view.Extracted:
		parts = append(parts, fmt.Sprintf("%d chars", i.view.TextLength))
	default:
		parts = append(parts, "not extracted yet")
	}
	if i.view.Preview != "" {
		parts = append(parts, "preview "+filepath.Base(i.view.Preview))
	}
	return strings.Join(parts, " · ")
}
func (i attachmentItem) FilterValue() string { return i.view.Name }

// NewApp creates a new App instance for the project directory.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	if err := config.InitPersonaDir(projectDir); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(projectDir)
	if err != nil {
		return nil, err
	}
	lb, err := logbook.New(filepath.Join(cfg.LogsDir(), "session.log"))
	if err != nil {
		logger.Close()
		return nil, err
	}

	app := &App{
		ctx:         context.Background(),
		config:      cfg,
		logbook:     lb,
		logger:      logger,
		nameInput:   newInput("Name", 64),
		dobInput:    newInput("17.05.2000", 10),
		genderInput: newInput("female / male", 6),
		sourceInput: newInput("file path or https:// link", 512),
		chatInput:   newInput("Ask about the report", 1000),
		report:      viewport.New(60, 12),
		progress:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if app.session == nil {
		session, err := orchestrator.FromConfig(app.ctx, cfg,
			orchestrator.WithLogger(logger),
			orchestrator.WithJournal(lb))
		if err != nil {
			logger.Close()
			return nil, err
		}
		app.session = session
	}

	delegate := list.NewDefaultDelegate()
	app.attachments = list.New(nil, delegate, 40, 8)
	app.attachments.Title = "Attachments"
	app.attachments.SetShowStatusBar(false)
	app.attachments.SetFilteringEnabled(false)
	app.attachments.SetShowHelp(false)

	app.setFocus(focusName)
	app.refresh()
	app.startBridge()
	lb.Info("Session opened · service %s", app.session.ServiceURL())
	return app, nil
}

func newInput(placeholder string, limit int) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.CharLimit = limit
	in.Cursor.SetMode(cursor.CursorStatic)
	return in
}

func (a *App) startBridge() {
	settings := bridge.SettingsFromConfig(a.config)
	if !settings.Enabled {
		return
	}
	srv := bridge.NewServer(settings, a.session, bridge.WithLogger(a.logger))
	if err := srv.Start(a.ctx); err != nil {
		a.logger.Printf("tui: bridge not started: %v", err)
		return
	}
	a.bridge = srv
	a.logbook.Info("Bridge listening on %s", srv.BaseURL())
}

// Close releases the bridge, the session and the log files.
func (a *App) Close() error {
	var errs []error
	if a.bridge != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, a.bridge.Shutdown(ctx))
		cancel()
	}
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.logbook != nil {
		a.logbook.Info("Session closed")
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.checkHealth()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()
		return a, nil

	case healthMsg:
		if msg.err != nil {
			a.health = nil
			a.healthErr = fault.Message(msg.err)
		} else {
			h := msg.health
			a.health = &h
			a.healthErr = ""
		}
		return a, nil

	case refreshMsg:
		a.refresh()
		if a.needsRefresh() {
			return a, a.scheduleRefresh()
		}
		a.ticking = false
		return a, nil

	case analysisDoneMsg:
		return a, a.handleAnalysisDone(msg)

	case extendedDoneMsg:
		return a, a.handleExtendedDone(msg)

	case chatDoneMsg:
		a.refresh()
		if msg.err != nil {
			a.showError(msg.err)
		}
		return a, nil

	case attachDoneMsg:
		a.refresh()
		if msg.err != nil {
			a.showError(msg.err)
			return a, nil
		}
		a.statusMsg = fmt.Sprintf("Attached %s", msg.name)
		a.sourceInput.Reset()
		return a, nil

	case extractDoneMsg:
		a.refresh()
		if msg.err != nil {
			a.showError(msg.err)
			return a, nil
		}
		a.statusMsg = fmt.Sprintf("Text ready (%d chars)", len([]rune(msg.text)))
		return a, nil

	case audioDoneMsg:
		a.refresh()
		if msg.err != nil {
			a.showError(msg.err)
		}
		return a, nil

	case exportDoneMsg:
		if msg.err != nil {
			a.showError(msg.err)
			return a, nil
		}
		a.statusMsg = "Saved to " + msg.location
		return a, nil

	case tea.KeyMsg:
		if model, cmd, handled := a.handleKey(msg); handled {
			return model, cmd
		}
	}

	return a, a.updateFocused(msg)
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	if a.notice != "" {
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit, true
		case "esc", "enter":
			a.notice = ""
		}
		return a, nil, true
	}
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit, true
	case "tab":
		a.setFocus((a.focus + 1) % focusCount)
		return a, nil, true
	case "shift+tab":
		a.setFocus((a.focus + focusCount - 1) % focusCount)
		return a, nil, true
	case "ctrl+r":
		return a, a.startAnalysis(), true
	case "ctrl+e":
		return a, a.startExtended(), true
	case "ctrl+n":
		a.session.NewConversation()
		a.refresh()
		a.statusMsg = "New conversation"
		return a, nil, true
	case "ctrl+t":
		return a, a.toggleIncludeAttachments(), true
	case "ctrl+p":
		return a, a.togglePlayback(), true
	case "ctrl+s":
		return a, a.exportReport(), true
	case "ctrl+d":
		return a, a.downloadAudio(), true
	case "f5":
		return a, a.checkHealth(), true
	case "ctrl+v":
		a.showExtended = !a.showExtended
		a.renderReport()
		return a, nil, true
	case "enter":
		switch a.focus {
		case focusName, focusBirthDate, focusGender:
			return a, a.startAnalysis(), true
		case focusSource:
			return a, a.addSource(), true
		case focusAttachments:
			return a, a.extractSelected(), true
		case focusChat:
			return a, a.submitChat(), true
		}
	case "delete", "ctrl+x":
		if a.focus == focusAttachments {
			a.removeSelected()
			return a, nil, true
		}
	}
	return a, nil, false
}

func (a *App) updateFocused(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch a.focus {
	case focusName:
		a.nameInput, cmd = a.nameInput.Update(msg)
	case focusBirthDate:
		a.dobInput, cmd = a.dobInput.Update(msg)
	case focusGender:
		a.genderInput, cmd = a.genderInput.Update(msg)
	case focusSource:
		a.sourceInput, cmd = a.sourceInput.Update(msg)
	case focusChat:
		a.chatInput, cmd = a.chatInput.Update(msg)
	case focusAttachments:
		if _, ok := msg.(tea.KeyMsg); ok {
			a.attachments, cmd = a.attachments.Update(msg)
		}
	case focusReport:
		if _, ok := msg.(tea.KeyMsg); ok {
			a.report, cmd = a.report.Update(msg)
		}
	}
	return cmd
}

func (a *App) setFocus(f focusArea) {
	a.focus = f
	inputs := map[focusArea]*textinput.Model{
		focusName:      &a.nameInput,
		focusBirthDate: &a.dobInput,
		focusGender:    &a.genderInput,
		focusSource:    &a.sourceInput,
		focusChat:      &a.chatInput,
	}
	for area, in := range inputs {
		if area == f {
			in.Focus()
		} else {
			in.Blur()
		}
	}
}

// refresh copies the session state into the widgets.
func (a *App) refresh() {
	a.state = a.session.Snapshot()
	items := make([]list.Item, len(a.state.Attachments))
	for i, view := range a.state.Attachments {
		items[i] = attachmentItem{view: view}
	}
	a.attachments.SetItems(items)
	a.renderReport()
}

func (a *App) renderReport() {
	text := a.state.Report.Primary
	if a.showExtended {
		text = a.state.Report.Extended
	}
	if strings.TrimSpace(text) == "" {
		text = emptyReportHint(a.showExtended, a.state)
	}
	a.report.SetContent(text)
}

func (a *App) needsRefresh() bool {
	return a.state.Busy.Any() || a.state.Report.Progress > 0
}

// showError shows err as a blocking notice or as an inline status, depending
// on whether the failure stops the user's workflow.
func (a *App) showError(err error) {
	if err == nil {
		return
	}
	if fault.Blocking(err) {
		a.notice = fault.Message(err)
		return
	}
	a.statusMsg = "⚠ " + fault.Message(err)
}

func (a *App) layout() {
	if a.width <= 0 {
		return
	}
	leftWidth := max(30, a.width/3)
	rightWidth := max(30, a.width-leftWidth-6)
	bodyHeight := max(8, a.height/2-4)
	a.attachments.SetSize(leftWidth-4, max(4, bodyHeight-8))
	a.report.Width = rightWidth - 4
	a.report.Height = bodyHeight
	a.progress.Width = max(10, min(40, rightWidth-12))
	a.chatInput.Width = max(20, a.width-12)
	a.sourceInput.Width = leftWidth - 6
	a.renderReport()
}
