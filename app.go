package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/jobs"
	"github.com/dgnsrekt/readaloud/internal/logging"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

func openCache() (*cache.Manager, error) {
	return cache.New(cfg.Cache.Dir, cache.WithLogger(logging.New("cache")))
}

func newClient() (*jobs.Client, error) {
	return jobs.NewClient(cfg.Cloud.BaseURL, cfg.Cloud.APIKey,
		jobs.WithRequestsPerMinute(cfg.Cloud.RequestsPerMinute),
		jobs.WithClientLogger(logging.New("cloud")),
	)
}

func openRegistry(ctx context.Context) (jobs.Registry, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Registry.Path), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create registry directory: %w", err)
	}
	return jobs.OpenRegistry(ctx, cfg.Registry.Backend, cfg.Registry.Path)
}

// cloudSession bundles what the job commands need. Close releases the
// registry.
type cloudSession struct {
	client *jobs.Client
	reg    jobs.Registry
	cache  *cache.Manager
	poller *jobs.Poller
}

func openCloud(ctx context.Context) (*cloudSession, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	m, err := openCache()
	if err != nil {
		return nil, err
	}
	reg, err := openRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return &cloudSession{
		client: client,
		reg:    reg,
		cache:  m,
		poller: jobs.NewPoller(client, reg, m, jobs.WithPollerLogger(logging.New("jobs"))),
	}, nil
}

func (s *cloudSession) Close() error {
	return s.reg.Close()
}

func cloudRequest(text string) jobs.Request {
	return jobs.Request{
		Text:    text,
		VoiceID: cfg.Cloud.Voice,
		Locale:  cfg.Cloud.Locale,
	}
}

// enforceCacheLimit evicts the oldest audio when the cache is over its limit.
func enforceCacheLimit(m *cache.Manager) {
	if cfg.Cache.MaxSize <= 0 {
		return
	}
	n, err := m.EvictToLimit(cfg.Cache.MaxBytes())
	if err != nil {
		log.Warn("Cache eviction failed", "err", err)
		return
	}
	if n > 0 {
		log.Info("Evicted cached audio", "files", n, "limit", humanize.IBytes(uint64(cfg.Cache.MaxBytes()))) //nolint:gosec
	}
}

// newEngine builds the playback engine. Without a piper model only cached
// audio can be played.
func newEngine(player audio.Player, m *cache.Manager) (*playback.Engine, error) {
	var device playback.Backend
	if cfg.Synth.Model != "" {
		p, err := synth.NewPiper(synth.PiperConfig{
			Binary:    cfg.Synth.Binary,
			ModelPath: cfg.Synth.Model,
			MaxLength: cfg.Synth.MaxLength,
		}, player, synth.WithLogger(logging.New("piper")))
		if err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		device = playback.NewDeviceBackend(p,
			playback.WithVoice(synth.Utterance{Rate: cfg.Synth.Rate}),
			playback.WithDeviceLogger(logging.New("device")),
		)
	}
	return playback.NewEngine(device, player, m,
		playback.WithEngineTickRate(cfg.Playback.TickRate),
		playback.WithEngineLogger(logging.New("playback")),
	), nil
}
