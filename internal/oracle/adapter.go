// Package oracle wraps a third-party price feed behind a freshness guarantee.
// The adapter is the trust boundary of the betting pipeline: a reading that
// cannot be parsed or is older than the staleness threshold never reaches the
// ledger.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluster/fluster/internal/domain"
)

// DefaultMaxStaleness is the staleness threshold applied when the config does
// not override it. It is the single source of truth shared between the open
// read and the settlement read.
const DefaultMaxStaleness = 10 * time.Second

// FeedSource fetches the latest raw record for a feed reference. The redis
// feed cache satisfies it; tests use a static in-memory source.
type FeedSource interface {
	GetFeed(ctx context.Context, feedRef string) (domain.PriceQuote, error)
}

// Adapter implements the freshness-checked price read over a FeedSource.
type Adapter struct {
	source       FeedSource
	maxStaleness time.Duration
	logger       *slog.Logger
}

// New creates an Adapter. A non-positive maxStaleness falls back to
// DefaultMaxStaleness.
func New(source FeedSource, maxStaleness time.Duration, logger *slog.Logger) *Adapter {
	if maxStaleness <= 0 {
		maxStaleness = DefaultMaxStaleness
	}
	return &Adapter{
		source:       source,
		maxStaleness: maxStaleness,
		logger:       logger,
	}
}

// GetPrice returns the feed's raw mantissa and exponent after checking that
// the record was published no earlier than now minus the staleness threshold.
//
// It fails with domain.ErrOracleUnavailable when the feed record cannot be
// fetched or parsed, and domain.ErrOracleStale when the record is too old.
// The normalized display value is logged only; callers compare raw mantissas.
func (a *Adapter) GetPrice(ctx context.Context, feedRef string, now time.Time) (domain.PriceQuote, error) {
	quote, err := a.source.GetFeed(ctx, feedRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrOracleUnavailable) {
			return domain.PriceQuote{}, fmt.Errorf("oracle: feed %s: %w", feedRef, domain.ErrOracleUnavailable)
		}
		return domain.PriceQuote{}, fmt.Errorf("oracle: fetch feed %s: %w", feedRef, err)
	}

	if now.Sub(quote.PublishedAt) > a.maxStaleness {
		return domain.PriceQuote{}, fmt.Errorf("oracle: feed %s published %s ago: %w",
			feedRef, now.Sub(quote.PublishedAt).Truncate(time.Millisecond), domain.ErrOracleStale)
	}

	a.logger.DebugContext(ctx, "oracle: price read",
		slog.String("feed", feedRef),
		slog.Int64("mantissa", quote.Mantissa),
		slog.Int("exponent", int(quote.Exponent)),
		slog.Float64("display", quote.Display()),
	)

	return quote, nil
}

// MaxStaleness exposes the configured threshold so the settlement read uses
// the same policy as the open read.
func (a *Adapter) MaxStaleness() time.Duration {
	return a.maxStaleness
}

// StaticSource is an in-memory FeedSource keyed by feed reference. It backs
// tests and local development without a running Redis.
type StaticSource map[string]domain.PriceQuote

// GetFeed returns the stored record or domain.ErrNotFound.
func (s StaticSource) GetFeed(_ context.Context, feedRef string) (domain.PriceQuote, error) {
	quote, ok := s[feedRef]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return quote, nil
}
