package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// Extraction is the text the service pulled out of an uploaded file.
type Extraction struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

type fetchResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// FetchURLText asks the service to download a public document and return its text.
func (c *Client) FetchURLText(ctx context.Context, url string) (string, error) {
	url = strings.TrimSpace(url)
	var resp fetchResponse
	if err := c.postJSON(ctx, "fetch link", "/fetch_url_text", c.timeouts.Fetch, nil, map[string]string{"url": url}, &resp); err != nil {
		return "", err
	}
	if err := embedded("fetch link", resp.Error); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// ExtractFile uploads data as a multipart "file" field and returns the
// extracted text. Non-2xx bodies are surfaced verbatim.
func (c *Client) ExtractFile(ctx context.Context, name string, data []byte) (Extraction, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	filename := filepath.Base(strings.TrimSpace(name))
	if filename == "." || filename == "" || filename == string(filepath.Separator) {
		filename = "attachment"
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return Extraction{}, fmt.Errorf("remote: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Extraction{}, fmt.Errorf("remote: build upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return Extraction{}, fmt.Errorf("remote: build upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Extract)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload_file"), &body)
	if err != nil {
		return Extraction{}, fmt.Errorf("remote: build upload: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	var out Extraction
	if err := c.do(req, "extract "+filename, &out); err != nil {
		return Extraction{}, err
	}
	return out, nil
}
