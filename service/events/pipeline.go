package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Options controls Pipeline.Init.
type Options struct {
	// DisablePolling keeps the polling loop stopped even when one is configured.
	DisablePolling bool
}

// PipelineConfig wires the producers of a Pipeline to its Dispatcher.
type PipelineConfig struct {
	Dispatcher *Dispatcher
	Live       *LiveSubscription
	// Poller is nil when no durable cursor store is configured.
	Poller *PollingLoop
}

// Pipeline owns the lifecycle of both producers and the listener registry.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	polling bool
}

// NewPipeline creates a stopped Pipeline.
func NewPipeline(cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		logger: logger.With("component", "pipeline"),
	}
}

// Init starts the live subscription and, unless suppressed, the polling loop.
func (p *Pipeline) Init(ctx context.Context, opts Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	if p.cfg.Live != nil {
		if err := p.cfg.Live.Start(ctx); err != nil {
			return fmt.Errorf("failed to start live subscription: %w", err)
		}
	}

	polling := p.cfg.Poller != nil && !opts.DisablePolling
	if polling {
		if err := p.cfg.Poller.Start(ctx); err != nil {
			if p.cfg.Live != nil {
				p.cfg.Live.Stop()
			}
			return fmt.Errorf("failed to start polling loop: %w", err)
		}
	}

	p.running = true
	p.polling = polling
	p.logger.InfoContext(ctx, "event pipeline initialised",
		"live", p.cfg.Live != nil,
		"polling", polling,
		"listeners", p.cfg.Dispatcher.Len(),
	)
	return nil
}

// Stop tears down both producers. It is idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	if p.polling {
		p.cfg.Poller.Stop()
	}
	if p.cfg.Live != nil {
		p.cfg.Live.Stop()
	}
	p.running = false
	p.polling = false
	p.logger.Info("event pipeline stopped")
}

// Running reports whether Init has succeeded without a later Stop.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// RegisterListener adds l to the dispatcher.
func (p *Pipeline) RegisterListener(l Listener) ListenerID {
	return p.cfg.Dispatcher.Register(l)
}

// UnregisterListener removes a listener added with RegisterListener.
func (p *Pipeline) UnregisterListener(id ListenerID) bool {
	return p.cfg.Dispatcher.Unregister(id)
}
