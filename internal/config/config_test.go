package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestConfig(t *testing.T, yamlBody string) (*Config, error) {
	t.Helper()
	projectDir := t.TempDir()
	personaDir := filepath.Join(projectDir, PersonaDir)
	if err := os.MkdirAll(personaDir, 0755); err != nil {
		t.Fatal(err)
	}
	if yamlBody != "" {
		if err := os.WriteFile(filepath.Join(personaDir, "config.yaml"), []byte(strings.TrimSpace(yamlBody)), 0644); err != nil {
			t.Fatal(err)
		}
	}
	c := &Config{ProjectDir: projectDir, PersonaProjectDir: personaDir, Project: defaultProjectConfig()}
	return c, c.loadProjectConfig()
}

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	c, err := newTestConfig(t, "")
	if err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.ServiceURL() != defaultServiceURL {
		t.Fatalf("expected default service url, got %q", c.ServiceURL())
	}
	if c.Voice() != defaultVoice {
		t.Fatalf("expected default voice, got %q", c.Voice())
	}
	if !c.IncludeAttachments() {
		t.Fatalf("expected attachments in chat context by default")
	}
	if c.ResetDelay() != 1500*time.Millisecond {
		t.Fatalf("unexpected reset delay %s", c.ResetDelay())
	}
	if c.Timeouts().Extended != 180*time.Second {
		t.Fatalf("unexpected extended timeout %s", c.Timeouts().Extended)
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	c, err := newTestConfig(t, `
version: 1
service:
  base_url: https://reports.example.com/api/
  timeouts:
    chat: 90s
audio:
  voice: en-US-JennyNeural
  player: [mpv, " --no-video ", ""]
chat:
  include_attachments: false
analysis:
  progress_reset_delay: 2s
export:
  dir: /tmp/persona-out
  s3:
    endpoint: localhost:9000
    bucket: reports
    prefix: /team/
`)
	if err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.ServiceURL() != "https://reports.example.com/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", c.ServiceURL())
	}
	if c.Timeouts().Chat != 90*time.Second {
		t.Fatalf("wrong chat timeout %s", c.Timeouts().Chat)
	}
	if c.Timeouts().Analyze != 120*time.Second {
		t.Fatalf("unset timeouts should keep defaults, got %s", c.Timeouts().Analyze)
	}
	if got := c.PlayerCommand(); len(got) != 2 || got[1] != "--no-video" {
		t.Fatalf("unexpected player command %q", got)
	}
	if c.IncludeAttachments() {
		t.Fatalf("expected include_attachments false")
	}
	if c.ResetDelay() != 2*time.Second {
		t.Fatalf("wrong reset delay %s", c.ResetDelay())
	}
	if c.ExportDir() != "/tmp/persona-out" {
		t.Fatalf("wrong export dir %s", c.ExportDir())
	}
	s3 := c.S3()
	if !s3.Enabled() || s3.Prefix != "team" {
		t.Fatalf("unexpected s3 settings %+v", s3)
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	cases := map[string]string{
		"scheme":  "version: 1\nservice:\n  base_url: ftp://example.com",
		"s3 half": "version: 1\nexport:\n  s3:\n    endpoint: localhost:9000",
		"port":    "version: 1\nbridge:\n  port: 70000",
		"yaml":    "version: [",
	}
	for name, body := range cases {
		if _, err := newTestConfig(t, body); err == nil {
			t.Fatalf("%s: expected validation error but got none", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	c, err := newTestConfig(t, "")
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("PERSONA_SERVICE_URL", "http://10.0.0.5:9000/")
	t.Setenv("PERSONA_VOICE", "ru-RU-SvetlanaNeural")
	t.Setenv("PERSONA_S3_ENDPOINT", "s3.local:9000")
	t.Setenv("PERSONA_S3_BUCKET", "exports")
	t.Setenv("PERSONA_S3_USE_SSL", "true")
	if c.ServiceURL() != "http://10.0.0.5:9000" {
		t.Fatalf("env url not applied: %q", c.ServiceURL())
	}
	if c.Voice() != "ru-RU-SvetlanaNeural" {
		t.Fatalf("env voice not applied: %q", c.Voice())
	}
	s3 := c.S3()
	if !s3.Enabled() || !s3.UseSSL || s3.Bucket != "exports" {
		t.Fatalf("env s3 not applied: %+v", s3)
	}
}

func TestSettersPersist(t *testing.T) {
	c, err := newTestConfig(t, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetVoice("  en-GB-SoniaNeural "); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}
	if err := c.SetIncludeAttachments(false); err != nil {
		t.Fatalf("SetIncludeAttachments: %v", err)
	}
	if err := c.SetVoice(" "); err == nil {
		t.Fatalf("expected blank voice to be rejected")
	}

	reloaded, err := NewConfig(c.ProjectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if reloaded.Voice() != "en-GB-SoniaNeural" {
		t.Fatalf("voice not persisted, got %q", reloaded.Voice())
	}
	if reloaded.IncludeAttachments() {
		t.Fatalf("include_attachments not persisted")
	}
}

func TestInitPersonaDirWritesDefaultConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitPersonaDir(projectDir); err != nil {
		t.Fatalf("InitPersonaDir: %v", err)
	}
	for _, sub := range []string{"logs", "exports", "cache"} {
		if info, err := os.Stat(filepath.Join(projectDir, PersonaDir, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory: %v", sub, err)
		}
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("default config should load: %v", err)
	}
	if got := c.PlayerCommand(); len(got) == 0 || got[0] != "ffplay" {
		t.Fatalf("expected ffplay player from default file, got %q", got)
	}
	if c.Project.Bridge.Port != 8766 {
		t.Fatalf("expected bridge port 8766, got %d", c.Project.Bridge.Port)
	}
}
