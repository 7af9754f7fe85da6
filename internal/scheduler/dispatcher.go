package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluster/fluster/internal/domain"
)

const (
	// SettlementChannel carries fired callbacks to settlement workers.
	SettlementChannel = "settlement"
	// SettlementStream is the durable record of fired callbacks.
	SettlementStream = "settlement:log"

	dispatchLockKey = "scheduler:dispatch"
)

// DispatcherConfig tunes the polling loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	LockTTL      time.Duration
}

func (c *DispatcherConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
}

// Dispatcher polls for due triggers and publishes their callbacks. A
// distributed lock keeps replicas from double-firing; a trigger whose publish
// succeeds but whose mark fails can be delivered again, so settlement
// consumers must tolerate redelivery.
type Dispatcher struct {
	cfg      DispatcherConfig
	triggers domain.TriggerStore
	locks    domain.LockManager
	bus      domain.SignalBus
	logger   *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig, triggers domain.TriggerStore, locks domain.LockManager, bus domain.SignalBus, logger *slog.Logger) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		cfg:      cfg,
		triggers: triggers,
		locks:    locks,
		bus:      bus,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. It returns nil on cancellation so it can
// sit in an errgroup next to the HTTP server.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.InfoContext(ctx, "scheduler: dispatcher started",
		slog.Duration("poll_interval", d.cfg.PollInterval),
		slog.Int("batch_size", d.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "scheduler: dispatcher stopped")
			return nil
		case <-ticker.C:
			if err := d.tick(ctx); err != nil {
				d.logger.WarnContext(ctx, "scheduler: dispatch tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) error {
	unlock, err := d.locks.Acquire(ctx, dispatchLockKey, d.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil
		}
		return fmt.Errorf("scheduler: acquire dispatch lock: %w", err)
	}
	defer unlock()

	due, err := d.triggers.ListDue(ctx, time.Now().UTC(), d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("scheduler: list due triggers: %w", err)
	}

	for _, t := range due {
		if err := d.fire(ctx, t); err != nil {
			d.logger.WarnContext(ctx, "scheduler: fire failed",
				slog.String("thread_id", t.ThreadID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (d *Dispatcher) fire(ctx context.Context, t domain.ScheduledTrigger) error {
	payload, err := json.Marshal(t.Callback)
	if err != nil {
		return fmt.Errorf("scheduler: encode callback %s: %w", t.ThreadID, err)
	}

	if err := d.bus.Publish(ctx, SettlementChannel, payload); err != nil {
		return fmt.Errorf("scheduler: publish callback %s: %w", t.ThreadID, err)
	}
	if err := d.bus.StreamAppend(ctx, SettlementStream, payload); err != nil {
		return fmt.Errorf("scheduler: append callback %s: %w", t.ThreadID, err)
	}

	firedAt := time.Now().UTC()
	if err := d.triggers.MarkFired(ctx, t.ThreadID, firedAt); err != nil {
		return fmt.Errorf("scheduler: mark fired %s: %w", t.ThreadID, err)
	}

	d.logger.InfoContext(ctx, "scheduler: trigger fired",
		slog.String("thread_id", t.ThreadID),
		slog.String("entrypoint", t.Callback.Entrypoint),
		slog.Time("trigger_at", t.TriggerAt),
		slog.Time("fired_at", firedAt),
	)
	return nil
}
