package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "pgd_available": true, "llm_available": true, "edge_tts_available": false})
	})
	mux.HandleFunc("/analyze_personality", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"display_text": "Report for " + body["name"]})
	})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3\x03\x00\x00\x00\x00\x00\x00fake-mp3"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestHealthCommandPrintsAvailability(t *testing.T) {
	srv := newStubService(t)
	t.Setenv("PERSONA_SERVICE_URL", srv.URL)
	dir := t.TempDir()

	out, _, err := execute(t, "health", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "analysis  available")
	assert.Contains(t, out, "speech    unavailable")
}

func TestAnalyzeCommandSavesReport(t *testing.T) {
	srv := newStubService(t)
	t.Setenv("PERSONA_SERVICE_URL", srv.URL)
	dir := t.TempDir()
	// no player in tests
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".persona"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".persona", "config.yaml"), []byte("version: 1\naudio:\n  player: []\n"), 0o644))

	out, errOut, err := execute(t, "analyze", "--dir", dir, "--name", "Anna", "--dob", "17.05.2000", "--save")
	require.NoError(t, err)
	assert.Contains(t, out, "Report for Anna")
	assert.Contains(t, errOut, "report saved to")
	assert.FileExists(t, filepath.Join(dir, ".persona", "exports", "Anna-primary.txt"))
}
