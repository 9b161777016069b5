package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// NewRedisClient returns a configured go-redis client and validates the connection with PING.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// RedisStore keeps balances in redis under a namespaced key per credential.
// Values are decimal strings with two fraction digits.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a redis-backed balance store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(credential string) string {
	return fmt.Sprintf("balance:%s", credential)
}

// Get returns the stored balance in paise, zero for unknown credentials.
func (s *RedisStore) Get(ctx context.Context, credential string) (int64, error) {
	result, err := s.client.Get(ctx, s.key(credential)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	rupees, err := strconv.ParseFloat(result, 64)
	if err != nil {
		return 0, fmt.Errorf("store: parse balance %q: %w", result, err)
	}
	return int64(rupees*100 + 0.5), nil
}

// Put stores the balance, keeping the two-fraction-digit string format.
func (s *RedisStore) Put(ctx context.Context, credential string, paise int64) error {
	value := strconv.FormatFloat(float64(paise)/100, 'f', 2, 64)
	return s.client.Set(ctx, s.key(credential), value, 0).Err()
}
