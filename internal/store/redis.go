package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultPriceHash is the Redis hash the market-data layer writes
// instrument → price into.
const DefaultPriceHash = "prices:latest"

// RedisPrices reads live prices from a Redis hash. The market-data
// collaborator owns the writes; the engine polls Latest on its pulse.
type RedisPrices struct {
	rdb  redis.UniversalClient
	hash string
}

// NewRedisPrices creates a price source on hash. An empty hash selects
// DefaultPriceHash.
func NewRedisPrices(rdb redis.UniversalClient, hash string) *RedisPrices {
	if hash == "" {
		hash = DefaultPriceHash
	}
	return &RedisPrices{rdb: rdb, hash: hash}
}

// Latest returns every instrument's current price.
func (p *RedisPrices) Latest(ctx context.Context) (map[string]decimal.Decimal, error) {
	raw, err := p.rdb.HGetAll(ctx, p.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("read prices from %s: %w", p.hash, err)
	}
	return parsePrices(raw)
}

// Publish sets one instrument's price.
func (p *RedisPrices) Publish(ctx context.Context, instrument string, price decimal.Decimal) error {
	if err := p.rdb.HSet(ctx, p.hash, instrument, price.String()).Err(); err != nil {
		return fmt.Errorf("publish %s price: %w", instrument, err)
	}
	return nil
}

// parsePrices decodes a price hash. Every malformed entry is reported.
func parsePrices(raw map[string]string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(raw))
	var bad []string
	for instrument, s := range raw {
		v, err := decimal.NewFromString(s)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s=%q", instrument, s))
			continue
		}
		prices[instrument] = v
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return prices, fmt.Errorf("malformed prices: %s", strings.Join(bad, ", "))
	}
	return prices, nil
}
