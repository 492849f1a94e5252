// Package remote talks to the personality report service.
//
// Every engine behind the service (analysis, extraction, speech, chat) is
// treated as a request/response black box. Failures come back as
// *fault.Error values so callers can decide how to present them.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kingrea/persona/internal/fault"
)

const (
	// DefaultVoice is the speech voice the service falls back to as well.
	DefaultVoice = "ru-RU-DariyaNeural"
)

// Response bodies past these sizes are rejected rather than cut short.
var (
	maxJSONBytes  int64 = 8 << 20
	maxAudioBytes int64 = 64 << 20
)

// ErrTooLarge is wrapped by the fault returned for an oversized response.
var ErrTooLarge = errors.New("remote: response too large")

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Timeouts bounds each kind of remote call.
type Timeouts struct {
	Analyze    time.Duration
	Extended   time.Duration
	Chat       time.Duration
	Extract    time.Duration
	Fetch      time.Duration
	Synthesize time.Duration
	Health     time.Duration
}

// DefaultTimeouts mirrors the limits the service is tuned for.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Analyze:    120 * time.Second,
		Extended:   180 * time.Second,
		Chat:       60 * time.Second,
		Extract:    120 * time.Second,
		Fetch:      60 * time.Second,
		Synthesize: 120 * time.Second,
		Health:     10 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	pick := func(v, fallback time.Duration) time.Duration {
		if v <= 0 {
			return fallback
		}
		return v
	}
	return Timeouts{
		Analyze:    pick(t.Analyze, def.Analyze),
		Extended:   pick(t.Extended, def.Extended),
		Chat:       pick(t.Chat, def.Chat),
		Extract:    pick(t.Extract, def.Extract),
		Fetch:      pick(t.Fetch, def.Fetch),
		Synthesize: pick(t.Synthesize, def.Synthesize),
		Health:     pick(t.Health, def.Health),
	}
}

// Client calls the service endpoints over HTTP.
type Client struct {
	baseURL  string
	http     *http.Client
	timeouts Timeouts
	logger   Logger
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeouts overrides per-call timeouts. Zero values keep the defaults.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) {
		c.timeouts = t.withDefaults()
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New prepares a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:     &http.Client{},
		timeouts: DefaultTimeouts(),
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BaseURL returns the service root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// postJSON sends payload and decodes a 2xx JSON body into out. Non-2xx
// responses become remote errors carrying the service's detail text.
func (c *Client) postJSON(ctx context.Context, op, path string, timeout time.Duration, header http.Header, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("remote: encode %s request: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("remote: %s failed after %s: %v", op, time.Since(started).Round(time.Millisecond), err)
		return fault.Remote(op, "service unreachable", err)
	}
	defer resp.Body.Close()
	raw, err := readLimited(resp.Body, maxJSONBytes)
	if errors.Is(err, ErrTooLarge) {
		c.logger.Printf("remote: %s response over %d bytes", op, maxJSONBytes)
		return fault.Remote(op, "response too large", err)
	}
	if err != nil {
		return fault.Remote(op, "read response", err)
	}
	c.logger.Printf("remote: %s -> %d in %s", op, resp.StatusCode, time.Since(started).Round(time.Millisecond))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fault.Remote(op, errorDetail(resp.StatusCode, raw), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fault.Remote(op, "malformed response", err)
	}
	return nil
}

// readLimited reads all of r, failing with ErrTooLarge once more than limit
// bytes arrive.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, ErrTooLarge
	}
	return raw, nil
}

// errorDetail extracts the service's explanation from a failed response. It
// understands {"error": ...} and FastAPI's {"detail": ...} and falls back to
// the raw body.
func errorDetail(status int, raw []byte) string {
	var payload struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
		if len(payload.Detail) > 0 {
			var detail string
			if err := json.Unmarshal(payload.Detail, &detail); err == nil && strings.TrimSpace(detail) != "" {
				return strings.TrimSpace(detail)
			}
			return strings.TrimSpace(string(payload.Detail))
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("%d %s", status, text)
	}
	return fmt.Sprintf("status %d", status)
}

// embedded reports an error carried inside a 2xx payload.
func embedded(op, msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil
	}
	return fault.Remote(op, msg, nil)
}

// IsUnavailable reports whether err came from a transport failure rather than
// a service response.
func IsUnavailable(err error) bool {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == fault.KindRemote && fe.Msg == "service unreachable"
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
