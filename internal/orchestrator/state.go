package orchestrator

import (
	"time"

	"github.com/kingrea/persona/internal/attachment"
)

// State is the read model shared by every surface.
type State struct {
	Subject     SubjectView      `json:"subject"`
	Report      ReportView       `json:"report"`
	Attachments []AttachmentView `json:"attachments"`
	Turns       []TurnView       `json:"turns"`
	Chat        ChatView         `json:"chat"`
	Audio       AudioView        `json:"audio"`
	Busy        Busy             `json:"busy"`
	ServiceURL  string           `json:"service_url"`
}

// SubjectView is the subject as entered.
type SubjectView struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"dob,omitempty"`
	Gender      string `json:"gender"`
}

// ReportView mirrors session.ReportSnapshot.
type ReportView struct {
	Primary     string `json:"primary,omitempty"`
	HasPrimary  bool   `json:"has_primary"`
	Extended    string `json:"extended,omitempty"`
	HasExtended bool   `json:"has_extended"`
	Progress    int    `json:"progress"`
	State       string `json:"state"`
}

// AttachmentView describes a record without its payload.
type AttachmentView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Source     string `json:"source"`
	Size       int    `json:"size"`
	Preview    string `json:"preview,omitempty"`
	Extracted  bool   `json:"extracted"`
	Failed     bool   `json:"failed,omitempty"`
	TextLength int    `json:"text_length"`
}

// TurnView is one chat message.
type TurnView struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ChatView carries the conversation settings and server quota.
type ChatView struct {
	SessionID          string `json:"session_id"`
	QuestionsUsed      int    `json:"questions_used"`
	Limit              int    `json:"limit"`
	IncludeAttachments bool   `json:"include_attachments"`
}

// AudioView describes the current clip.
type AudioView struct {
	Present     bool   `json:"present"`
	Serial      int    `json:"serial"`
	Bytes       int    `json:"bytes"`
	ContentType string `json:"content_type,omitempty"`
	Playing     bool   `json:"playing"`
	Voice       string `json:"voice"`
}

// Busy counts operations in flight per workflow.
type Busy struct {
	Analyzing  int `json:"analyzing"`
	Extending  int `json:"extending"`
	Chatting   int `json:"chatting"`
	Extracting int `json:"extracting"`
	Speaking   int `json:"speaking"`
}

// Any reports whether anything is in flight.
func (b Busy) Any() bool {
	return b.Analyzing+b.Extending+b.Chatting+b.Extracting+b.Speaking > 0
}

// Snapshot collects the current state of every component.
func (s *Session) Snapshot() State {
	subject := s.Subject()
	report := s.report.Snapshot()
	clip := s.audio.Current()
	usage := s.chat.Usage()

	state := State{
		Subject: SubjectView{
			Name:        subject.Name,
			DateOfBirth: subject.BirthDate(),
			Gender:      string(subject.Gender),
		},
		Report: ReportView{
			Primary:     report.Primary,
			HasPrimary:  report.HasPrimary,
			Extended:    report.Extended,
			HasExtended: report.HasExtended,
			Progress:    report.Progress,
			State:       string(report.State),
		},
		Chat: ChatView{
			SessionID:          usage.SessionID,
			QuestionsUsed:      usage.QuestionsUsed,
			Limit:              usage.Limit,
			IncludeAttachments: s.chat.IncludeAttachments(),
		},
		Audio: AudioView{
			Present:     clip.Present,
			Serial:      clip.Serial,
			Bytes:       clip.Bytes,
			ContentType: clip.ContentType,
			Playing:     clip.Playing,
			Voice:       s.audio.Voice(),
		},
		Busy: Busy{
			Analyzing:  int(s.busy.analyzing.Load()),
			Extending:  int(s.busy.extending.Load()),
			Chatting:   int(s.busy.chatting.Load()),
			Extracting: int(s.busy.extracting.Load()),
			Speaking:   int(s.busy.speaking.Load()),
		},
		ServiceURL: s.client.BaseURL(),
	}
	for _, rec := range s.attachments.Records() {
		state.Attachments = append(state.Attachments, attachmentView(rec))
	}
	for _, turn := range s.chat.Turns() {
		state.Turns = append(state.Turns, TurnView{Role: string(turn.Role), Content: turn.Content, At: turn.At})
	}
	return state
}

func attachmentView(rec attachment.Record) AttachmentView {
	view := AttachmentView{
		ID:         rec.ID,
		Name:       rec.DisplayName,
		Source:     string(rec.Source),
		Size:       len(rec.Payload),
		Extracted:  rec.Extracted,
		Failed:     rec.Failed,
		TextLength: len([]rune(rec.Text)),
	}
	if rec.Preview != nil {
		view.Preview = rec.Preview.Path
	}
	return view
}
