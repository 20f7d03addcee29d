package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linkedin-autodm/internal/models"
)

const (
	redisKeyPrefix = "quota"
	// Counters outlive their window so late completions still land
	redisCounterTTL = 48 * time.Hour
	redisMaxRetries = 10
)

// RedisStore keeps daily counters in Redis hashes so several processes can
// share one quota. Updates use WATCH/MULTI optimistic transactions.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisClient connects to the Redis URL and pings it
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a Redis-backed counter store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func counterKey(userID string, category models.Category, window string) string {
	return fmt.Sprintf("%s:%s:%s:%s", redisKeyPrefix, userID, category, window)
}

// hashReader is satisfied by both *redis.Client and *redis.Tx
type hashReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func readCounter(ctx context.Context, c hashReader, key string) (sent, scheduled int, err error) {
	vals, err := c.HMGet(ctx, key, "sent", "scheduled").Result()
	if err != nil {
		return 0, 0, err
	}
	return toInt(vals[0]), toInt(vals[1]), nil
}

func toInt(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

// watch retries fn while another client modifies key concurrently
func (s *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < redisMaxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("quota counter %s: too much contention", key)
}

func (s *RedisStore) GetCounter(ctx context.Context, userID string, category models.Category, window string) (*models.DailyCounter, error) {
	sent, scheduled, err := readCounter(ctx, s.client, counterKey(userID, category, window))
	if err != nil {
		return nil, err
	}
	return &models.DailyCounter{
		UserID:    userID,
		Category:  category,
		WindowKey: window,
		Sent:      sent,
		Scheduled: scheduled,
	}, nil
}

func (s *RedisStore) ReserveSlot(ctx context.Context, userID string, category models.Category, window string, limit int) (bool, error) {
	key := counterKey(userID, category, window)
	reserved := false

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		reserved = false
		sent, scheduled, err := readCounter(ctx, tx, key)
		if err != nil {
			return err
		}
		if sent+scheduled >= limit {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "scheduled", 1)
			pipe.Expire(ctx, key, redisCounterTTL)
			return nil
		})
		if err == nil {
			reserved = true
		}
		return err
	})
	return reserved, err
}

func (s *RedisStore) CompleteSlot(ctx context.Context, userID string, category models.Category, window string) error {
	key := counterKey(userID, category, window)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		_, scheduled, err := readCounter(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if scheduled > 0 {
				pipe.HIncrBy(ctx, key, "scheduled", -1)
			}
			pipe.HIncrBy(ctx, key, "sent", 1)
			pipe.Expire(ctx, key, redisCounterTTL)
			return nil
		})
		return err
	})
}

func (s *RedisStore) ReleaseSlot(ctx context.Context, userID string, category models.Category, window string) error {
	key := counterKey(userID, category, window)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		_, scheduled, err := readCounter(ctx, tx, key)
		if err != nil || scheduled == 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "scheduled", -1)
			return nil
		})
		return err
	})
}
