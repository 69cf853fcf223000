// Package cache stores sector market research in Redis so repeated runs for
// the same sector skip the research provider.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

const keyPrefix = "market:"

// MarketCache caches market context by sector.
type MarketCache interface {
	Get(ctx context.Context, sectorCode, sectorLabel string) (*model.MarketContext, bool, error)
	Set(ctx context.Context, mc *model.MarketContext) error
}

type redisMarketCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMarketCache returns a Redis-backed MarketCache.
func NewMarketCache(client *redis.Client, ttl time.Duration) MarketCache {
	return &redisMarketCache{client: client, ttl: ttl}
}

func (c *redisMarketCache) Get(ctx context.Context, sectorCode, sectorLabel string) (*model.MarketContext, bool, error) {
	data, err := c.client.Get(ctx, Key(sectorCode, sectorLabel)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: get market context")
	}

	var mc model.MarketContext
	if err := json.Unmarshal(data, &mc); err != nil {
		return nil, false, eris.Wrap(err, "cache: decode market context")
	}
	mc.FromCache = true
	return &mc, true, nil
}

func (c *redisMarketCache) Set(ctx context.Context, mc *model.MarketContext) error {
	if mc == nil {
		return nil
	}
	stored := *mc
	stored.FromCache = false
	data, err := json.Marshal(stored)
	if err != nil {
		return eris.Wrap(err, "cache: encode market context")
	}
	if err := c.client.Set(ctx, Key(mc.SectorCode, mc.SectorLabel), data, c.ttl).Err(); err != nil {
		return eris.Wrap(err, "cache: set market context")
	}
	return nil
}

// Noop is a MarketCache that never hits.
type Noop struct{}

func (Noop) Get(context.Context, string, string) (*model.MarketContext, bool, error) {
	return nil, false, nil
}

func (Noop) Set(context.Context, *model.MarketContext) error { return nil }

// Key builds the cache key for a sector. The code wins when present; labels
// are folded so "Boulangerie-Pâtisserie" and "boulangerie patisserie" share
// an entry.
func Key(sectorCode, sectorLabel string) string {
	if code := strings.TrimSpace(sectorCode); code != "" {
		return keyPrefix + "code:" + strings.ToLower(code)
	}
	return keyPrefix + "label:" + Fold(sectorLabel)
}

// Fold lowercases s, strips diacritics and collapses punctuation and
// whitespace into single dashes.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
