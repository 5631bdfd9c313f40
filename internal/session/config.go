package session

import (
	"fmt"

	"github.com/jmylchreest/cpcbridge/internal/audio"
	"github.com/jmylchreest/cpcbridge/internal/config"
	"github.com/jmylchreest/cpcbridge/internal/protocol"
	"github.com/jmylchreest/cpcbridge/internal/video"
)

// Config holds the per-session pipeline settings.
type Config struct {
	MaxPayload    int
	ReadChunkSize int
	Video         video.Config
	Audio         audio.Config
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		MaxPayload:    protocol.MaxPayloadSize,
		ReadChunkSize: 16 * 1024,
		Video:         video.DefaultConfig(),
		Audio:         audio.DefaultConfig(),
	}
}

// ConfigFrom maps application configuration onto session settings.
func ConfigFrom(cfg *config.Config) (Config, error) {
	fill, err := audio.ParseFillMode(cfg.Audio.FillMode)
	if err != nil {
		return Config{}, fmt.Errorf("audio.fill_mode: %w", err)
	}

	c := DefaultConfig()
	c.MaxPayload = int(cfg.Protocol.MaxPayloadSize)
	c.ReadChunkSize = int(cfg.Protocol.ReadChunkSize)
	c.Video.StalenessBudget = cfg.Video.StalenessBudget
	c.Video.StallTimeout = cfg.Video.StallTimeout
	c.Video.KeyframeRetries = cfg.Video.KeyframeRetries
	c.Video.WatchdogInterval = cfg.Video.WatchdogInterval
	c.Video.CacheParameterSets = cfg.Video.CacheParameterSets
	c.Video.MaxBundleSize = c.MaxPayload
	c.Audio.BufferSize = int(cfg.Audio.BufferSize)
	c.Audio.MinPayload = cfg.Audio.MinPayload
	c.Audio.Fill = fill
	return c, nil
}
