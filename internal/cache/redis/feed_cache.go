package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluster/fluster/internal/domain"
)

// FeedCache implements domain.PriceFeedCache using Redis hashes. Each feed
// record is a hash at "feed:{ref}" with fields "mantissa", "exponent", and
// "published_ts" (Unix nanosecond timestamp). An external price feeder keeps
// the records current; the oracle adapter only reads them and applies the
// staleness policy itself.
type FeedCache struct {
	rdb *redis.Client
}

// NewFeedCache creates a FeedCache backed by the given Client.
func NewFeedCache(c *Client) *FeedCache {
	return &FeedCache{rdb: c.Underlying()}
}

func feedKey(ref string) string {
	return "feed:" + ref
}

// SetFeed stores the latest feed record for a reference.
func (fc *FeedCache) SetFeed(ctx context.Context, feedRef string, quote domain.PriceQuote) error {
	fields := map[string]interface{}{
		"mantissa":     strconv.FormatInt(quote.Mantissa, 10),
		"exponent":     strconv.FormatInt(int64(quote.Exponent), 10),
		"published_ts": strconv.FormatInt(quote.PublishedAt.UnixNano(), 10),
	}
	if err := fc.rdb.HSet(ctx, feedKey(feedRef), fields).Err(); err != nil {
		return fmt.Errorf("redis: set feed %s: %w", feedRef, err)
	}
	return nil
}

// GetFeed retrieves the latest feed record for a reference. It returns
// domain.ErrNotFound when the key does not exist and domain.ErrOracleUnavailable
// when the record cannot be parsed.
func (fc *FeedCache) GetFeed(ctx context.Context, feedRef string) (domain.PriceQuote, error) {
	vals, err := fc.rdb.HGetAll(ctx, feedKey(feedRef)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get feed %s: %w", feedRef, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, domain.ErrNotFound
	}

	mantissa, err := strconv.ParseInt(vals["mantissa"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, domain.ErrOracleUnavailable
	}
	exponent, err := strconv.ParseInt(vals["exponent"], 10, 32)
	if err != nil {
		return domain.PriceQuote{}, domain.ErrOracleUnavailable
	}
	tsNano, err := strconv.ParseInt(vals["published_ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, domain.ErrOracleUnavailable
	}

	return domain.PriceQuote{
		Mantissa:    mantissa,
		Exponent:    int32(exponent),
		PublishedAt: time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceFeedCache = (*FeedCache)(nil)
