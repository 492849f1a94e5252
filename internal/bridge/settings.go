package bridge

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/persona/internal/attachment"
	"github.com/kingrea/persona/internal/config"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8766

	// DefaultMaxBodyBytes caps JSON request bodies.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultMaxUploadBytes is one full attachment plus room for the
	// multipart envelope around it.
	DefaultMaxUploadBytes int64 = attachment.MaxUploadBytes + 1<<20
	// DefaultReadTimeout leaves a slow link enough time to push a full
	// attachment upload.
	DefaultReadTimeout = 2 * time.Minute
	// DefaultWriteTimeout has to outlast the slowest route: an extended
	// report that reads every attachment and is then voiced.
	DefaultWriteTimeout = 6 * time.Minute
	DefaultIdleTimeout  = time.Minute
)

// Environment variables that win over the bridge section of config.yaml.
const (
	envEnabled = "PERSONA_BRIDGE_ENABLED"
	envHost    = "PERSONA_BRIDGE_HOST"
	envPort    = "PERSONA_BRIDGE_PORT"
)

// Settings controls where the bridge listens and how much it accepts.
// Zero limits and timeouts fall back to the defaults above.
type Settings struct {
	Enabled        bool
	Host           string
	Port           int
	MaxBodyBytes   int64
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// DefaultSettings is an enabled loopback bridge on DefaultPort.
func DefaultSettings() Settings {
	return Settings{
		Enabled:        true,
		Host:           DefaultHost,
		Port:           DefaultPort,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		MaxUploadBytes: DefaultMaxUploadBytes,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		IdleTimeout:    DefaultIdleTimeout,
	}
}

// SettingsFromConfig layers the bridge section of config.yaml and then the
// PERSONA_BRIDGE_* variables over DefaultSettings. Values that do not parse
// are ignored.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := DefaultSettings()
	if cfg != nil {
		bc := cfg.Project.Bridge
		if bc.Enabled != nil {
			settings.Enabled = *bc.Enabled
		}
		settings.Host = firstNonBlank(bc.Host, settings.Host)
		if port, ok := checkPort(bc.Port); ok {
			settings.Port = port
		}
	}

	if enabled, err := strconv.ParseBool(env(envEnabled)); err == nil {
		settings.Enabled = enabled
	}
	settings.Host = firstNonBlank(env(envHost), settings.Host)
	if port, err := strconv.Atoi(env(envPort)); err == nil {
		if port, ok := checkPort(port); ok {
			settings.Port = port
		}
	}
	return settings.withDefaults()
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	s.Host = firstNonBlank(s.Host, def.Host)
	if _, ok := checkPort(s.Port); !ok {
		s.Port = def.Port
	}
	s.MaxBodyBytes = positive(s.MaxBodyBytes, def.MaxBodyBytes)
	s.MaxUploadBytes = positive(s.MaxUploadBytes, def.MaxUploadBytes)
	s.ReadTimeout = positive(s.ReadTimeout, def.ReadTimeout)
	s.WriteTimeout = positive(s.WriteTimeout, def.WriteTimeout)
	s.IdleTimeout = positive(s.IdleTimeout, def.IdleTimeout)
	return s
}

// Address is the host:port the listener binds.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL is the base URL clients use to reach the bridge.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonBlank(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func checkPort(port int) (int, bool) {
	return port, port > 0 && port <= 65535
}

func positive[T int64 | time.Duration](value, fallback T) T {
	if value > 0 {
		return value
	}
	return fallback
}
