package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"p402-router/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/sliding_window.lua
var slidingWindowScript string

//go:embed scripts/record_outcome.lua
var recordOutcomeScript string

const analyticsTTL = 90 * 24 * time.Hour

type Client struct {
	rdb           *redis.Client
	windowScript  *redis.Script
	outcomeScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		windowScript:  redis.NewScript(slidingWindowScript),
		outcomeScript: redis.NewScript(recordOutcomeScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func rateKey(tenantID, routeID string) string {
	if routeID == "" {
		routeID = "*"
	}
	return fmt.Sprintf("ratelimit:%s:%s", tenantID, routeID)
}

// Increment records one request in the trailing window and returns the
// number of requests inside it
func (c *Client) Increment(ctx context.Context, tenantID, routeID string, window time.Duration) (int64, error) {
	now := time.Now().UnixMilli()

	result, err := c.windowScript.Run(ctx, c.rdb,
		[]string{rateKey(tenantID, routeID)},
		now, window.Milliseconds(), fmt.Sprintf("%d-%s", now, uuid.New().String()),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("sliding window script failed: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	return count, nil
}

func analyticsKey(tenantID, day string) string {
	return fmt.Sprintf("analytics:%s:%s", tenantID, day)
}

// RecordOutcome adds one attempt to the tenant's daily analytics hash
func (c *Client) RecordOutcome(ctx context.Context, tenantID string, at time.Time, outcome, spend string) error {
	if spend == "" {
		spend = "0"
	}
	day := at.UTC().Format("2006-01-02")
	_, err := c.outcomeScript.Run(ctx, c.rdb,
		[]string{analyticsKey(tenantID, day)},
		outcome, spend, int64(analyticsTTL.Seconds()),
	).Result()
	if err != nil {
		return fmt.Errorf("record outcome script failed: %w", err)
	}
	return nil
}

// DailyAnalytics is the aggregated view for one tenant and day
type DailyAnalytics struct {
	TenantID string           `json:"tenantId"`
	Day      string           `json:"day"`
	Attempts int64            `json:"attempts"`
	Spend    string           `json:"spend"`
	Outcomes map[string]int64 `json:"outcomes"`
}

// GetAnalytics reads the tenant's daily analytics hash
func (c *Client) GetAnalytics(ctx context.Context, tenantID, day string) (*DailyAnalytics, error) {
	result, err := c.rdb.HGetAll(ctx, analyticsKey(tenantID, day)).Result()
	if err != nil {
		return nil, err
	}

	out := &DailyAnalytics{TenantID: tenantID, Day: day, Spend: "0", Outcomes: map[string]int64{}}
	for field, raw := range result {
		switch {
		case field == "attempts":
			out.Attempts, _ = strconv.ParseInt(raw, 10, 64)
		case field == "spend":
			out.Spend = raw
		case strings.HasPrefix(field, "outcome:"):
			n, _ := strconv.ParseInt(raw, 10, 64)
			out.Outcomes[strings.TrimPrefix(field, "outcome:")] = n
		}
	}
	return out, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// ReplayStore is a Redis replay backend. Records expire through key TTLs.
type ReplayStore struct {
	c *Client
}

// Replay returns the Redis replay backend
func (c *Client) Replay() *ReplayStore {
	return &ReplayStore{c: c}
}

func replayKey(authorizationID string) string {
	return fmt.Sprintf("replay:%s", authorizationID)
}

// Exists reports whether the authorization has been consumed
func (r *ReplayStore) Exists(ctx context.Context, authorizationID string) (bool, error) {
	n, err := r.c.rdb.Exists(ctx, replayKey(authorizationID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertIfAbsent uses SETNX so only one caller creates the key
func (r *ReplayStore) InsertIfAbsent(ctx context.Context, rec *models.ReplayRecord) (bool, error) {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	value := fmt.Sprintf("%s|%s|%d", rec.TenantID, rec.DecisionID, rec.FirstSeenAt.Unix())
	return r.c.rdb.SetNX(ctx, replayKey(rec.AuthorizationID), value, ttl).Result()
}

// DeleteOlderThan is a no-op; Redis expires records on its own
func (r *ReplayStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
