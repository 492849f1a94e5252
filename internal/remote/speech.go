package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/kingrea/persona/internal/fault"
)

// Audio is a synthesized clip as returned by the service.
type Audio struct {
	Data        []byte
	ContentType string
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Synthesize renders text as speech. The three ways the service reports a
// failed synthesis come back as fault.KindMedia errors with a Shape; transport
// and decoding problems are returned unclassified.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	if strings.TrimSpace(voice) == "" {
		voice = DefaultVoice
	}
	body, err := json.Marshal(speechRequest{Text: text, Voice: voice})
	if err != nil {
		return Audio{}, fmt.Errorf("remote: encode speech request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Synthesize)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/tts"), bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("remote: build speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("remote: synthesize failed: %v", err)
		return Audio{}, fmt.Errorf("remote: synthesize: %w", err)
	}
	defer resp.Body.Close()
	raw, err := readLimited(resp.Body, maxAudioBytes)
	if errors.Is(err, ErrTooLarge) {
		c.logger.Printf("remote: synthesize response over %d bytes", maxAudioBytes)
		return Audio{}, fault.Media("synthesize", fault.ShapeUnavailable, "speech response too large", err)
	}
	if err != nil {
		return Audio{}, fmt.Errorf("remote: read speech body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	c.logger.Printf("remote: synthesize -> %d %s (%d bytes)", resp.StatusCode, contentType, len(raw))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Audio{}, fault.Media("synthesize", fault.ShapeStatus, errorDetail(resp.StatusCode, raw), nil)
	}
	if !isAudio(contentType) {
		return Audio{}, fault.Media("synthesize", fault.ShapeNotAudio, errorDetail(resp.StatusCode, raw), nil)
	}
	if len(raw) == 0 {
		return Audio{}, fault.Media("synthesize", fault.ShapeEmptyAudio, "empty audio body", nil)
	}
	return Audio{Data: raw, ContentType: contentType}, nil
}

func isAudio(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "audio/")
}
