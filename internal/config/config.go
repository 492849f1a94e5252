// internal/config/config.go
//
// This package handles configuration and the .persona directory structure.
// Every directory persona is started from gets a .persona/ folder holding the
// config file, logs, exported files and scratch space for previews and audio.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// PersonaDir is the name of the directory we create in the working directory
	PersonaDir = ".persona"

	defaultServiceURL = "http://127.0.0.1:8000"
	defaultVoice      = "ru-RU-DariyaNeural"
	defaultExportDir  = "exports"
	defaultResetDelay = 1500 * time.Millisecond
)

const defaultProjectConfigYAML = `# persona configuration
version: 1

# Report service. Timeouts accept Go durations (90s, 2m).
service:
  base_url: http://127.0.0.1:8000
  timeouts:
    analyze: 120s
    extended: 180s
    chat: 60s
    extract: 120s
    fetch: 60s
    synthesize: 120s
    health: 10s

# Speech. The player command gets the audio file path appended.
audio:
  voice: ru-RU-DariyaNeural
  player: [ffplay, -nodisp, -autoexit, -loglevel, quiet]

chat:
  include_attachments: true

analysis:
  progress_reset_delay: 1500ms

# Downloads go to a local directory unless an S3 bucket is configured.
export:
  dir: exports
  # s3:
  #   endpoint: localhost:9000
  #   bucket: persona
  #   access_key_id: minio
  #   secret_access_key: minio123
  #   use_ssl: false
  #   prefix: reports

# Local HTTP bridge used by "persona serve".
bridge:
  enabled: true
  host: 127.0.0.1
  port: 8766
`

// TimeoutConfig bounds each kind of remote call.
type TimeoutConfig struct {
	Analyze    time.Duration `yaml:"analyze,omitempty"`
	Extended   time.Duration `yaml:"extended,omitempty"`
	Chat       time.Duration `yaml:"chat,omitempty"`
	Extract    time.Duration `yaml:"extract,omitempty"`
	Fetch      time.Duration `yaml:"fetch,omitempty"`
	Synthesize time.Duration `yaml:"synthesize,omitempty"`
	Health     time.Duration `yaml:"health,omitempty"`
}

// ServiceConfig locates the report service.
type ServiceConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeouts TimeoutConfig `yaml:"timeouts,omitempty"`
}

// AudioConfig captures speech preferences.
type AudioConfig struct {
	Voice  string   `yaml:"voice"`
	Player []string `yaml:"player,omitempty"`
}

// ChatConfig captures chat preferences.
type ChatConfig struct {
	IncludeAttachments *bool `yaml:"include_attachments,omitempty"`
}

// AnalysisConfig tunes the report pipeline's feedback.
type AnalysisConfig struct {
	ProgressResetDelay time.Duration `yaml:"progress_reset_delay,omitempty"`
}

// S3Config points exports at an S3-compatible bucket.
type S3Config struct {
	Endpoint        string `yaml:"endpoint,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	UseSSL          bool   `yaml:"use_ssl,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
}

// Enabled reports whether an endpoint and bucket are set.
func (s S3Config) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != ""
}

// ExportConfig decides where downloads are written.
type ExportConfig struct {
	Dir string   `yaml:"dir"`
	S3  S3Config `yaml:"s3,omitempty"`
}

// BridgeConfig captures the HTTP bridge preferences.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ProjectConfig models .persona/config.yaml.
type ProjectConfig struct {
	Version  int            `yaml:"version"`
	Service  ServiceConfig  `yaml:"service"`
	Audio    AudioConfig    `yaml:"audio"`
	Chat     ChatConfig     `yaml:"chat"`
	Analysis AnalysisConfig `yaml:"analysis,omitempty"`
	Export   ExportConfig   `yaml:"export"`
	Bridge   BridgeConfig   `yaml:"bridge,omitempty"`
}

// Config holds the runtime configuration for persona.
type Config struct {
	// ProjectDir is the directory persona was started from
	ProjectDir string

	// PersonaProjectDir is ProjectDir/.persona
	PersonaProjectDir string

	Project ProjectConfig
}

// InitPersonaDir creates the .persona directory structure in the given directory.
//
// Structure created:
// .persona/
// ├── config.yaml
// ├── logs/      <- persona.log (diagnostics) and session.log (journal)
// ├── exports/   <- downloaded audio and report text
// └── cache/     <- image previews and playable audio files
func InitPersonaDir(projectDir string) error {
	personaDir := filepath.Join(projectDir, PersonaDir)
	dirs := []string{
		filepath.Join(personaDir, "logs"),
		filepath.Join(personaDir, "exports"),
		filepath.Join(personaDir, "cache"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(personaDir, "config.yaml"))
}

// NewConfig loads .persona/config.yaml (defaults when missing).
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:        projectDir,
		PersonaProjectDir: filepath.Join(projectDir, PersonaDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.PersonaProjectDir, "logs")
}

// CacheDir returns the scratch directory for previews and audio files
func (c *Config) CacheDir() string {
	return filepath.Join(c.PersonaProjectDir, "cache")
}

// ExportDir returns where local downloads are written.
func (c *Config) ExportDir() string {
	dir := c.Project.Export.Dir
	if dir == "" {
		dir = defaultExportDir
	}
	return resolvePath(c.PersonaProjectDir, dir)
}

// ProjectConfigPath returns the on-disk location for the config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.PersonaProjectDir, "config.yaml")
}

// ServiceURL returns the report service root. PERSONA_SERVICE_URL wins.
func (c *Config) ServiceURL() string {
	if value := strings.TrimSpace(os.Getenv("PERSONA_SERVICE_URL")); value != "" {
		return strings.TrimRight(value, "/")
	}
	return c.Project.Service.BaseURL
}

// Timeouts returns the configured remote call limits.
func (c *Config) Timeouts() TimeoutConfig {
	return c.Project.Service.Timeouts
}

// Voice returns the speech voice. PERSONA_VOICE wins.
func (c *Config) Voice() string {
	if value := strings.TrimSpace(os.Getenv("PERSONA_VOICE")); value != "" {
		return value
	}
	return c.Project.Audio.Voice
}

// PlayerCommand returns the audio player command line, possibly empty.
func (c *Config) PlayerCommand() []string {
	return append([]string(nil), c.Project.Audio.Player...)
}

// IncludeAttachments reports whether chat sends attachment text by default.
func (c *Config) IncludeAttachments() bool {
	if c.Project.Chat.IncludeAttachments == nil {
		return true
	}
	return *c.Project.Chat.IncludeAttachments
}

// ResetDelay returns how long final progress stays visible.
func (c *Config) ResetDelay() time.Duration {
	return c.Project.Analysis.ProgressResetDelay
}

// S3 returns the bucket settings with PERSONA_S3_* overrides applied.
func (c *Config) S3() S3Config {
	s3 := c.Project.Export.S3
	override := func(key string, target *string) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*target = value
		}
	}
	override("PERSONA_S3_ENDPOINT", &s3.Endpoint)
	override("PERSONA_S3_BUCKET", &s3.Bucket)
	override("PERSONA_S3_ACCESS_KEY_ID", &s3.AccessKeyID)
	override("PERSONA_S3_SECRET_ACCESS_KEY", &s3.SecretAccessKey)
	override("PERSONA_S3_PREFIX", &s3.Prefix)
	if value := strings.TrimSpace(os.Getenv("PERSONA_S3_USE_SSL")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			s3.UseSSL = parsed
		}
	}
	return s3
}

// SetVoice updates the voice and persists it to .persona/config.yaml.
func (c *Config) SetVoice(voice string) error {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return fmt.Errorf("config: voice is required")
	}
	c.Project.Audio.Voice = voice
	return c.saveProjectConfig()
}

// SetIncludeAttachments updates the chat default and persists it.
func (c *Config) SetIncludeAttachments(include bool) error {
	c.Project.Chat.IncludeAttachments = &include
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Service.BaseURL) == "" {
		pc.Service.BaseURL = defaultServiceURL
	}
	t := &pc.Service.Timeouts
	setDuration(&t.Analyze, 120*time.Second)
	setDuration(&t.Extended, 180*time.Second)
	setDuration(&t.Chat, 60*time.Second)
	setDuration(&t.Extract, 120*time.Second)
	setDuration(&t.Fetch, 60*time.Second)
	setDuration(&t.Synthesize, 120*time.Second)
	setDuration(&t.Health, 10*time.Second)
	if strings.TrimSpace(pc.Audio.Voice) == "" {
		pc.Audio.Voice = defaultVoice
	}
	if pc.Chat.IncludeAttachments == nil {
		include := true
		pc.Chat.IncludeAttachments = &include
	}
	setDuration(&pc.Analysis.ProgressResetDelay, defaultResetDelay)
	if strings.TrimSpace(pc.Export.Dir) == "" {
		pc.Export.Dir = defaultExportDir
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Service.BaseURL = strings.TrimRight(strings.TrimSpace(pc.Service.BaseURL), "/")
	pc.Audio.Voice = strings.TrimSpace(pc.Audio.Voice)
	player := pc.Audio.Player[:0:0]
	for _, arg := range pc.Audio.Player {
		if arg = strings.TrimSpace(arg); arg != "" {
			player = append(player, arg)
		}
	}
	pc.Audio.Player = player
	pc.Export.Dir = strings.TrimSpace(pc.Export.Dir)
	pc.Export.S3.Endpoint = strings.TrimSpace(pc.Export.S3.Endpoint)
	pc.Export.S3.Bucket = strings.TrimSpace(pc.Export.S3.Bucket)
	pc.Export.S3.Prefix = strings.Trim(strings.TrimSpace(pc.Export.S3.Prefix), "/")
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	parsed, err := url.Parse(pc.Service.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("service.base_url must be an http(s) URL, got %q", pc.Service.BaseURL)
	}
	t := pc.Service.Timeouts
	for name, d := range map[string]time.Duration{
		"analyze": t.Analyze, "extended": t.Extended, "chat": t.Chat, "extract": t.Extract,
		"fetch": t.Fetch, "synthesize": t.Synthesize, "health": t.Health,
	} {
		if d < 0 {
			return fmt.Errorf("service.timeouts.%s must not be negative", name)
		}
	}
	if pc.Analysis.ProgressResetDelay < 0 {
		return fmt.Errorf("analysis.progress_reset_delay must not be negative")
	}
	s3 := pc.Export.S3
	if (s3.Endpoint == "") != (s3.Bucket == "") {
		return fmt.Errorf("export.s3 needs both endpoint and bucket")
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	return nil
}

func setDuration(target *time.Duration, fallback time.Duration) {
	if *target == 0 {
		*target = fallback
	}
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.PersonaProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure persona dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
