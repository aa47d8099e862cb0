package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the token; the issue time lives at key+":issued".
const DefaultRedisKey = "optbot:access_token"

// tokenTTL outlives one broker session.
const tokenTTL = 24 * time.Hour

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type RedisSource struct {
	client kv
	key    string
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewRedisSource dials lazily; the first Load or Save reports
// connection problems.
func NewRedisSource(opts RedisOptions) (*RedisSource, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	key := opts.Key
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key}, client
}

func (r *RedisSource) Load(ctx context.Context) (Token, error) {
	v, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	if v == "" {
		return Token{}, ErrNoToken
	}

	t := Token{Value: v}
	if s, err := r.client.Get(ctx, r.key+":issued").Result(); err == nil {
		if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.IssuedAt = time.Unix(sec, 0)
		}
	}
	return t, nil
}

func (r *RedisSource) Save(ctx context.Context, t Token) error {
	if t.Value == "" {
		return ErrNoToken
	}
	if t.IssuedAt.IsZero() {
		t.IssuedAt = time.Now()
	}
	if err := r.client.Set(ctx, r.key, t.Value, tokenTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	if err := r.client.Set(ctx, r.key+":issued", strconv.FormatInt(t.IssuedAt.Unix(), 10), tokenTTL).Err(); err != nil {
		return fmt.Errorf("redis set %s:issued: %w", r.key, err)
	}
	return nil
}
