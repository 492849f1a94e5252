// Package chat runs the conversation about a generated report.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kingrea/persona/internal/attachment"
	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/remote"
	"github.com/kingrea/persona/internal/session"
)

const (
	// EmptyReplyPlaceholder stands in for a successful reply with no text.
	EmptyReplyPlaceholder = "(the assistant sent an empty reply)"
	// ErrorReply is appended when the reply could not be obtained.
	ErrorReply = "Sorry, I could not get a reply right now. Please try again."
)

// Replier answers one question. remote.Client satisfies it.
type Replier interface {
	Chat(ctx context.Context, req remote.ChatRequest, sessionID string) (remote.ChatReply, error)
}

// Attachments is the part of attachment.Store the chat reads.
type Attachments interface {
	EnsureAllExtracted(ctx context.Context) ([]attachment.Record, error)
	ComposeText() string
}

// Reports exposes the primary report.
type Reports interface {
	Primary() (string, bool)
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Usage is the server's question count for the current conversation.
type Usage struct {
	SessionID     string
	QuestionsUsed int
	Limit         int
}

// Session is one conversation. Its transcript only grows; starting a new
// conversation swaps in a fresh transcript.
type Session struct {
	replier     Replier
	attachments Attachments
	reports     Reports
	logger      Logger

	mu                 sync.Mutex
	transcript         *session.Transcript
	includeAttachments bool
	usage              Usage
}

// New returns a session with an empty transcript.
func New(replier Replier, reports Reports, attachments Attachments, includeAttachments bool, logger Logger) *Session {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Session{
		replier:            replier,
		attachments:        attachments,
		reports:            reports,
		logger:             logger,
		transcript:         session.NewTranscript(),
		includeAttachments: includeAttachments,
		usage:              Usage{SessionID: uuid.NewString()},
	}
}

// Submit sends text as the next question. The user turn is appended before
// the call. A failed call appends an assistant turn carrying ErrorReply and
// is not returned as an error; only empty input or a missing primary report
// are rejected, and those add nothing to the transcript.
func (s *Session) Submit(ctx context.Context, subjectName, text string) (session.Turn, error) {
	question := strings.TrimSpace(text)
	if question == "" {
		return session.Turn{}, fault.Validation("chat", "type a question first")
	}
	primary, ok := s.reports.Primary()
	if !ok {
		return session.Turn{}, fault.Validation("chat", "run basic analysis first")
	}

	s.mu.Lock()
	transcript := s.transcript
	include := s.includeAttachments
	sessionID := s.usage.SessionID
	s.mu.Unlock()

	transcript.Append(session.RoleUser, question)

	reportContext := primary
	if include {
		if _, err := s.attachments.EnsureAllExtracted(ctx); err != nil {
			s.logger.Printf("chat: answering without some attachments: %v", err)
		}
		if composed := s.attachments.ComposeText(); composed != "" {
			reportContext += "\n\n" + composed
		}
	}

	reply, err := s.replier.Chat(ctx, remote.ChatRequest{
		Query:    question,
		Context:  reportContext,
		UserName: strings.TrimSpace(subjectName),
	}, sessionID)
	if err != nil {
		s.logger.Printf("chat: reply failed: %v", err)
		return transcript.Append(session.RoleAssistant, ErrorReply), nil
	}

	s.mu.Lock()
	if s.transcript == transcript {
		if reply.SessionID != "" {
			s.usage.SessionID = reply.SessionID
		}
		if reply.Limit > 0 {
			s.usage.QuestionsUsed = reply.QuestionsUsed
			s.usage.Limit = reply.Limit
		}
	}
	s.mu.Unlock()

	answer := strings.TrimSpace(reply.Reply)
	if answer == "" {
		answer = EmptyReplyPlaceholder
	}
	return transcript.Append(session.RoleAssistant, answer), nil
}

// NewConversation drops the transcript and starts a new server-side session,
// which also resets the question quota.
func (s *Session) NewConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = session.NewTranscript()
	s.usage = Usage{SessionID: uuid.NewString()}
}

// Turns returns the current transcript.
func (s *Session) Turns() []session.Turn {
	s.mu.Lock()
	transcript := s.transcript
	s.mu.Unlock()
	return transcript.Turns()
}

// SetIncludeAttachments toggles whether attachment text is sent as context.
func (s *Session) SetIncludeAttachments(include bool) {
	s.mu.Lock()
	s.includeAttachments = include
	s.mu.Unlock()
}

// IncludeAttachments reports the current setting.
func (s *Session) IncludeAttachments() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.includeAttachments
}

// Usage returns the server quota for the conversation.
func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
