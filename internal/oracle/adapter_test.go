package oracle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluster/fluster/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetPrice_Fresh(t *testing.T) {
	now := time.Now().UTC()
	src := StaticSource{
		"feeds/sol": {Mantissa: 14_325_000_000, Exponent: -8, PublishedAt: now.Add(-2 * time.Second)},
	}
	a := New(src, 10*time.Second, testLogger())

	quote, err := a.GetPrice(context.Background(), "feeds/sol", now)
	require.NoError(t, err)
	assert.Equal(t, int64(14_325_000_000), quote.Mantissa)
	assert.Equal(t, int32(-8), quote.Exponent)
	assert.InDelta(t, 143.25, quote.Display(), 0.0001)
}

func TestGetPrice_Stale(t *testing.T) {
	now := time.Now().UTC()
	src := StaticSource{
		"feeds/sol": {Mantissa: 14_325_000_000, Exponent: -8, PublishedAt: now.Add(-15 * time.Second)},
	}
	a := New(src, 10*time.Second, testLogger())

	_, err := a.GetPrice(context.Background(), "feeds/sol", now)
	assert.ErrorIs(t, err, domain.ErrOracleStale)
}

func TestGetPrice_ExactlyAtThreshold(t *testing.T) {
	now := time.Now().UTC()
	src := StaticSource{
		"feeds/sol": {Mantissa: 1, Exponent: 0, PublishedAt: now.Add(-10 * time.Second)},
	}
	a := New(src, 10*time.Second, testLogger())

	// a reading aged exactly the threshold is still usable
	_, err := a.GetPrice(context.Background(), "feeds/sol", now)
	assert.NoError(t, err)
}

func TestGetPrice_MissingFeed(t *testing.T) {
	a := New(StaticSource{}, 10*time.Second, testLogger())

	_, err := a.GetPrice(context.Background(), "feeds/none", time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

func TestNew_StalenessFallback(t *testing.T) {
	a := New(StaticSource{}, 0, testLogger())
	assert.Equal(t, DefaultMaxStaleness, a.MaxStaleness())
}
