package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/persona/internal/orchestrator"
)

var (
	borderColor = lipgloss.Color("#444444")
	accentColor = lipgloss.Color("#5B8DEF")
	mutedColor  = lipgloss.Color("#888888")
	dimColor    = lipgloss.Color("#AAAAAA")
	alertColor  = lipgloss.Color("#FF6B6B")
	okColor     = lipgloss.Color("#6BCB77")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)
	focusedPanelStyle = panelStyle.BorderForeground(accentColor)
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	labelStyle        = lipgloss.NewStyle().Foreground(dimColor).Width(8)
	hintStyle         = lipgloss.NewStyle().Foreground(mutedColor)
)

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	leftWidth := max(32, width/3)
	rightWidth := width - leftWidth - 4
	if rightWidth < 30 {
		leftWidth = width - 4
		rightWidth = 0
	}

	sections := []string{a.renderHeader()}
	if a.notice != "" {
		sections = append(sections, a.renderNotice(width-4))
	}

	left := lipgloss.JoinVertical(lipgloss.Left,
		a.panel(a.renderSubject(), leftWidth, a.focus <= focusGender),
		a.panel(a.renderAttachments(), leftWidth, a.focus == focusSource || a.focus == focusAttachments),
	)
	if rightWidth > 0 {
		right := a.panel(a.renderReportPanel(), rightWidth, a.focus == focusReport)
		sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	} else {
		sections = append(sections, left, a.panel(a.renderReportPanel(), leftWidth, a.focus == focusReport))
	}
	sections = append(sections, a.panel(a.renderChat(), width-4, a.focus == focusChat))
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(mutedColor).
		Render(a.statusMsg)
	sections = append(sections, footer, a.renderHelp())
	return strings.Join(sections, "\n")
}

func (a *App) panel(content string, width int, focused bool) string {
	style := panelStyle
	if focused {
		style = focusedPanelStyle
	}
	return style.Width(max(20, width)).Render(content)
}

func (a *App) renderHeader() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(alertColor).
		Render("◈ PERSONA")
	var status string
	switch {
	case a.healthErr != "":
		status = lipgloss.NewStyle().Foreground(alertColor).Render("service offline · " + a.healthErr)
	case a.health == nil:
		status = hintStyle.Render("checking service...")
	default:
		flags := []string{
			availability("analysis", a.health.AnalysisAvailable),
			availability("chat", a.health.LanguageAvailable),
			availability("speech", a.health.SpeechAvailable),
		}
		status = strings.Join(flags, "  ")
	}
	url := hintStyle.Render(a.state.ServiceURL)
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", status, "  ", url)
}

func availability(name string, ok bool) string {
	if ok {
		return lipgloss.NewStyle().Foreground(okColor).Render("● " + name)
	}
	return lipgloss.NewStyle().Foreground(alertColor).Render("○ " + name)
}

func (a *App) renderNotice(width int) string {
	body := lipgloss.NewStyle().Bold(true).Foreground(alertColor).Render(a.notice)
	hint := hintStyle.Render("enter/esc to dismiss")
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(alertColor).
		Padding(0, 1).
		Width(max(20, width)).
		Render(body + "\n" + hint)
}

func (a *App) renderSubject() string {
	rows := []string{
		titleStyle.Render("Subject"),
		labelStyle.Render("Name") + a.nameInput.View(),
		labelStyle.Render("Born") + a.dobInput.View(),
		labelStyle.Render("Gender") + a.genderInput.View(),
	}
	return strings.Join(rows, "\n")
}

func (a *App) renderAttachments() string {
	rows := []string{labelStyle.Render("Add") + a.sourceInput.View()}
	if len(a.state.Attachments) == 0 {
		rows = append(rows, hintStyle.Render("No attachments. Type a path or link and press enter."))
	} else {
		rows = append(rows, a.attachments.View())
	}
	return strings.Join(rows, "\n")
}

func (a *App) renderReportPanel() string {
	title := "Report"
	if a.showExtended {
		title = "Extended report"
	}
	rows := []string{titleStyle.Render(title)}
	report := a.state.Report
	if a.state.Busy.Analyzing > 0 || report.Progress > 0 {
		bar := a.progress.ViewAs(float64(report.Progress) / 100)
		rows = append(rows, fmt.Sprintf("%s %s", bar, hintStyle.Render(report.State)))
	}
	if a.state.Busy.Extending > 0 {
		rows = append(rows, hintStyle.Render("extended analysis in progress..."))
	}
	rows = append(rows, a.report.View(), a.renderAudio())
	return strings.Join(rows, "\n")
}

func (a *App) renderAudio() string {
	audio := a.state.Audio
	switch {
	case a.state.Busy.Speaking > 0:
		return hintStyle.Render("♪ synthesizing...")
	case !audio.Present:
		return hintStyle.Render("♪ no audio · voice " + audio.Voice)
	case audio.Playing:
		return fmt.Sprintf("♪ playing clip #%d (%d KB) · voice %s", audio.Serial, audio.Bytes/1024, audio.Voice)
	default:
		return fmt.Sprintf("♪ clip #%d ready (%d KB) · voice %s", audio.Serial, audio.Bytes/1024, audio.Voice)
	}
}

func emptyReportHint(extended bool, state orchestrator.State) string {
	if extended {
		if !state.Report.HasPrimary {
			return "Run the primary analysis before the extended one."
		}
		return "Press ctrl+e to build the extended report from attachments."
	}
	if state.Busy.Analyzing > 0 {
		return "Waiting for the report..."
	}
	return "Fill in the subject and press enter to request a report."
}

func (a *App) renderChat() string {
	chat := a.state.Chat
	quota := fmt.Sprintf("%d questions", chat.QuestionsUsed)
	if chat.Limit > 0 {
		quota = fmt.Sprintf("%d/%d questions", chat.QuestionsUsed, chat.Limit)
	}
	attach := "attachments off"
	if chat.IncludeAttachments {
		attach = "attachments on"
	}
	rows := []string{titleStyle.Render("Chat") + "  " + hintStyle.Render(quota+" · "+attach)}
	turns := a.state.Turns
	if len(turns) > 6 {
		turns = turns[len(turns)-6:]
	}
	for _, turn := range turns {
		who := lipgloss.NewStyle().Bold(true).Foreground(accentColor).Render("you")
		if turn.Role != "user" {
			who = lipgloss.NewStyle().Bold(true).Foreground(okColor).Render("persona")
		}
		rows = append(rows, who+"  "+turn.Content)
	}
	if a.state.Busy.Chatting > 0 {
		rows = append(rows, hintStyle.Render("persona is typing..."))
	}
	rows = append(rows, a.chatInput.View())
	return strings.Join(rows, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(accentColor).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(dimColor).
		Render(strings.Join(lines, "\n"))
	return panelStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) renderHelp() string {
	return hintStyle.Render("tab focus · enter run/add/send · ctrl+e extended · ctrl+v toggle report · ctrl+p play/pause · ctrl+s save report · ctrl+d save audio · ctrl+t chat attachments · ctrl+n new chat · f5 health · ctrl+c quit")
}
