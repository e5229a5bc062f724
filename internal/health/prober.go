// Package health polls the backend liveness endpoint on a fixed
// interval, independent of turn activity.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the probe cadence.
const DefaultInterval = 10 * time.Second

// Probe checks backend liveness. Implemented by agent.Client.Healthz.
type Probe func(ctx context.Context) bool

// Prober repeatedly probes the backend and reports transitions.
type Prober struct {
	probe    Probe
	interval time.Duration
	onChange func(online bool)
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	known  bool
}

// NewProber creates a Prober. onChange fires on every online/offline
// transition, including the first probe; it may be nil.
func NewProber(probe Probe, interval time.Duration, onChange func(online bool), logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		probe:    probe,
		interval: interval,
		onChange: onChange,
		logger:   logger,
	}
}

// Online reports the last observed backend state.
func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Run probes immediately, then on every interval tick, until ctx is
// cancelled. A long-running turn never blocks the probe: each probe
// carries its own short timeout inside the Probe implementation.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single probe and fires onChange on transitions.
func (p *Prober) RunOnce(ctx context.Context) {
	online := p.probe(ctx)

	p.mu.Lock()
	changed := !p.known || online != p.online
	p.online = online
	p.known = true
	p.mu.Unlock()

	if changed {
		p.logger.Debug("backend liveness changed", "online", online)
		if p.onChange != nil {
			p.onChange(online)
		}
	}
}
