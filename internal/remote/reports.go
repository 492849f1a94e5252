package remote

import (
	"context"
	"net/http"
	"strings"
)

// PrimaryRequest is the subject identity sent to the analysis engine.
// DateOfBirth uses the day.month.year form, Gender is "F" or "M".
type PrimaryRequest struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"dob"`
	Gender      string `json:"gender"`
}

type primaryResponse struct {
	DisplayText string `json:"display_text"`
	Error       string `json:"error"`
}

// ExtendedRequest asks for a report informed by attachment text.
type ExtendedRequest struct {
	BaseReport      string `json:"base_report"`
	AttachmentsText string `json:"attachments_text"`
	UserName        string `json:"user_name"`
}

type extendedResponse struct {
	Extended string `json:"extended"`
	Error    string `json:"error"`
}

// ChatRequest is one user question plus the context the reply should use.
type ChatRequest struct {
	Query    string `json:"query"`
	Context  string `json:"context"`
	UserName string `json:"user_name"`
}

// ChatReply carries the assistant's answer and the server-side question quota.
type ChatReply struct {
	Reply         string `json:"reply"`
	SessionID     string `json:"session_id"`
	QuestionsUsed int    `json:"questions_used"`
	Limit         int    `json:"limit"`
	Error         string `json:"error"`
}

// Health is the service's self report.
type Health struct {
	Status            string `json:"status"`
	AnalysisAvailable bool   `json:"pgd_available"`
	LanguageAvailable bool   `json:"llm_available"`
	SpeechAvailable   bool   `json:"edge_tts_available"`
}

// OK reports whether the service answered with status "ok".
func (h Health) OK() bool {
	return strings.EqualFold(strings.TrimSpace(h.Status), "ok")
}

// AnalyzePrimary requests the baseline report. The display text may be empty
// when the call succeeded without an interpretation.
func (c *Client) AnalyzePrimary(ctx context.Context, req PrimaryRequest) (string, error) {
	var resp primaryResponse
	if err := c.postJSON(ctx, "analyze", "/analyze_personality", c.timeouts.Analyze, nil, req, &resp); err != nil {
		return "", err
	}
	if err := embedded("analyze", resp.Error); err != nil {
		return "", err
	}
	return resp.DisplayText, nil
}

// Extended requests the secondary report.
func (c *Client) Extended(ctx context.Context, req ExtendedRequest) (string, error) {
	var resp extendedResponse
	if err := c.postJSON(ctx, "extended analysis", "/extended_analysis", c.timeouts.Extended, nil, req, &resp); err != nil {
		return "", err
	}
	if err := embedded("extended analysis", resp.Error); err != nil {
		return "", err
	}
	return resp.Extended, nil
}

// Chat asks one question. sessionID is sent as X-Session-Id when set so the
// service can count questions per conversation.
func (c *Client) Chat(ctx context.Context, req ChatRequest, sessionID string) (ChatReply, error) {
	header := http.Header{}
	if id := strings.TrimSpace(sessionID); id != "" {
		header.Set("X-Session-Id", id)
	}
	var resp ChatReply
	if err := c.postJSON(ctx, "chat", "/chat", c.timeouts.Chat, header, req, &resp); err != nil {
		return ChatReply{}, err
	}
	if err := embedded("chat", resp.Error); err != nil {
		return ChatReply{}, err
	}
	return resp, nil
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Health)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return Health{}, err
	}
	var h Health
	if err := c.do(req, "health", &h); err != nil {
		return Health{}, err
	}
	return h, nil
}
