package orchestrator

import (
	"context"
	"fmt"

	"github.com/kingrea/persona/internal/audio"
	"github.com/kingrea/persona/internal/config"
	"github.com/kingrea/persona/internal/export"
	"github.com/kingrea/persona/internal/remote"
)

// FromConfig builds a session from .persona/config.yaml. The export sink is
// an S3 bucket when one is configured and the local export directory
// otherwise. A missing player command falls back to silent playback.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("orchestrator: nil config")
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.logger
	if logger == nil {
		logger = nopLogger{}
	}

	var built []Option
	if o.sink == nil {
		sink, err := SinkFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		built = append(built, WithSink(sink))
	}
	if o.player == nil {
		if command := cfg.PlayerCommand(); len(command) > 0 {
			player, err := audio.NewExecPlayer(command)
			if err != nil {
				logger.Printf("orchestrator: audio player unavailable, playback disabled: %v", err)
			} else {
				built = append(built, WithPlayer(player))
			}
		}
	}

	return NewSession(SettingsFromConfig(cfg), append(built, opts...)...), nil
}

// SettingsFromConfig maps the config file onto session settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	t := cfg.Timeouts()
	return Settings{
		ServiceURL: cfg.ServiceURL(),
		Timeouts: remote.Timeouts{
			Analyze:    t.Analyze,
			Extended:   t.Extended,
			Chat:       t.Chat,
			Extract:    t.Extract,
			Fetch:      t.Fetch,
			Synthesize: t.Synthesize,
			Health:     t.Health,
		},
		Voice:              cfg.Voice(),
		IncludeAttachments: cfg.IncludeAttachments(),
		ResetDelay:         cfg.ResetDelay(),
		WorkDir:            cfg.CacheDir(),
	}
}

// SinkFromConfig returns the configured export destination.
func SinkFromConfig(ctx context.Context, cfg *config.Config) (export.Sink, error) {
	s3 := cfg.S3()
	if !s3.Enabled() {
		return export.NewDirSink(cfg.ExportDir()), nil
	}
	sink, err := export.NewS3Sink(ctx, export.S3Settings{
		Endpoint:        s3.Endpoint,
		Bucket:          s3.Bucket,
		AccessKeyID:     s3.AccessKeyID,
		SecretAccessKey: s3.SecretAccessKey,
		UseSSL:          s3.UseSSL,
		Prefix:          s3.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return sink, nil
}
