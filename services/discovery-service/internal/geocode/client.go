package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beautyon-app/beautyon/services/discovery-service/internal/geo"
)

// ErrNoResult means the provider found nothing for the address.
var ErrNoResult = errors.New("geocode: no result for address")

// Client resolves free-form addresses to coordinates through a provider REST
// API, caching hits in Redis. The cache is an optimization only: every Redis
// failure falls open to a direct provider call.
type Client struct {
	http     *http.Client
	rdb      *redis.Client
	logger   *slog.Logger
	baseURL  string
	cacheTTL time.Duration
}

type Config struct {
	BaseURL  string
	CacheTTL time.Duration
}

func New(rdb *redis.Client, logger *slog.Logger, cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	return &Client{
		http:     &http.Client{Timeout: 10 * time.Second},
		rdb:      rdb,
		logger:   logger,
		baseURL:  baseURL,
		cacheTTL: cfg.CacheTTL,
	}
}

func cacheKey(address string) string {
	return "geocode:" + strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Resolve returns coordinates for an address, preferring the cache.
func (c *Client) Resolve(ctx context.Context, address string) (geo.Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return geo.Point{}, errors.New("geocode: empty address")
	}

	key := cacheKey(address)
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			var p geo.Point
			if err := json.Unmarshal([]byte(raw), &p); err == nil {
				return p, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("geocode cache read failed", "err", err)
		}
	}

	p, err := c.lookup(ctx, address)
	if err != nil {
		return geo.Point{}, err
	}

	if c.rdb != nil {
		if raw, err := json.Marshal(p); err == nil {
			if err := c.rdb.Set(ctx, key, raw, c.cacheTTL).Err(); err != nil {
				c.logger.Warn("geocode cache write failed", "err", err)
			}
		}
	}
	return p, nil
}

func (c *Client) lookup(ctx context.Context, address string) (geo.Point, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return geo.Point{}, err
	}
	req.Header.Set("User-Agent", "beautyon-discovery/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return geo.Point{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return geo.Point{}, fmt.Errorf("geocode provider returned %d", resp.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return geo.Point{}, fmt.Errorf("geocode decode: %w", err)
	}
	if len(results) == 0 {
		return geo.Point{}, ErrNoResult
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("geocode parse lat: %w", err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("geocode parse lon: %w", err)
	}
	return geo.Point{Lat: lat, Lng: lng}, nil
}
