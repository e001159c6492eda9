package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/optimode/deliverkit/types"
)

const redisKeyPrefix = "deliverkit:result:"

// RedisAPI is the subset of the go-redis client the store uses.
type RedisAPI interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Redis stores each result as a JSON value. A zero ttl keeps results
// forever.
type Redis struct {
	client RedisAPI
	ttl    time.Duration
}

// NewRedis returns a store on an existing client.
func NewRedis(client RedisAPI, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// DialRedis connects to addr and checks the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedis(client, 0), nil
}

func redisKey(address string) string { return redisKeyPrefix + Key(address) }

func (r *Redis) Upsert(ctx context.Context, res types.VerificationResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(res.Address), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", res.Address, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, address string) (types.VerificationResult, error) {
	b, err := r.client.Get(ctx, redisKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.VerificationResult{}, ErrNotFound
	}
	if err != nil {
		return types.VerificationResult{}, fmt.Errorf("redis get %s: %w", address, err)
	}
	var res types.VerificationResult
	if err := json.Unmarshal(b, &res); err != nil {
		return types.VerificationResult{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}
