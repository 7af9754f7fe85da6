package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fluster/fluster/internal/domain"
	"github.com/fluster/fluster/internal/scheduler"
	"github.com/fluster/fluster/internal/service"
)

// Watcher bridges the signal bus to the notifier: placed orders and fired
// settlement callbacks become operator notifications. Delivery is best
// effort; a failed send never blocks the pipeline that emitted the event.
type Watcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher over the given bus and notifier.
func NewWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger,
	}
}

// Run subscribes to the order and settlement channels and forwards events
// until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	orders, err := w.bus.Subscribe(ctx, service.OrdersChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe orders: %w", err)
	}
	settlements, err := w.bus.Subscribe(ctx, scheduler.SettlementChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe settlement: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-orders:
			if !ok {
				return nil
			}
			w.handleOrder(ctx, payload)
		case payload, ok := <-settlements:
			if !ok {
				return nil
			}
			w.handleSettlement(ctx, payload)
		}
	}
}

func (w *Watcher) handleOrder(ctx context.Context, payload []byte) {
	var evt domain.OrderPlaced
	if err := json.Unmarshal(payload, &evt); err != nil {
		w.logger.WarnContext(ctx, "notify: malformed order event",
			slog.String("error", err.Error()),
		)
		return
	}

	msg := fmt.Sprintf("pool %s: %s %d at %dx, expires in %ds",
		evt.PoolID, evt.Direction, evt.AmountIn, evt.Leverage, evt.DurationSeconds)
	if err := w.notifier.Notify(ctx, "order_placed", "Bet opened", msg); err != nil {
		w.logger.WarnContext(ctx, "notify: order notification failed",
			slog.String("error", err.Error()),
		)
	}
}

func (w *Watcher) handleSettlement(ctx context.Context, payload []byte) {
	var cb domain.CallbackSpec
	if err := json.Unmarshal(payload, &cb); err != nil {
		w.logger.WarnContext(ctx, "notify: malformed settlement callback",
			slog.String("error", err.Error()),
		)
		return
	}

	msg := fmt.Sprintf("position %s in pool %s is due for settlement", cb.PositionID, cb.PoolID)
	if err := w.notifier.Notify(ctx, "trigger_fired", "Settlement due", msg); err != nil {
		w.logger.WarnContext(ctx, "notify: settlement notification failed",
			slog.String("error", err.Error()),
		)
	}
}
