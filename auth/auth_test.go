package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func TestTokenExpired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		issued time.Time
		now    time.Time
		want   bool
	}{
		{"same morning", time.Date(2025, 6, 10, 7, 0, 0, 0, ist), time.Date(2025, 6, 10, 14, 0, 0, 0, ist), false},
		{"yesterday", time.Date(2025, 6, 9, 8, 0, 0, 0, ist), time.Date(2025, 6, 10, 9, 0, 0, 0, ist), true},
		{"before reset still valid", time.Date(2025, 6, 9, 8, 0, 0, 0, ist), time.Date(2025, 6, 10, 5, 0, 0, 0, ist), false},
		{"issued just before reset", time.Date(2025, 6, 10, 5, 59, 0, 0, ist), time.Date(2025, 6, 10, 6, 1, 0, 0, ist), true},
		{"unknown issue time", time.Time{}, time.Date(2025, 6, 10, 9, 0, 0, 0, ist), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tok := Token{Value: "abcdefgh", IssuedAt: tt.issued}
			assert.Equal(t, tt.want, tok.Expired(tt.now, ist))
		})
	}
}

func TestTokenMasked(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abcdef...", Token{Value: "abcdefghijkl"}.Masked())
	assert.Equal(t, "***", Token{Value: "abc"}.Masked())
}

func TestFileSourceRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "access_token.txt")
	fsrc := NewFileSource(path)

	_, err := fsrc.Load(ctx)
	assert.ErrorIs(t, err, ErrNoToken)

	issued := time.Date(2025, 6, 10, 8, 30, 0, 0, ist)
	require.NoError(t, fsrc.Save(ctx, Token{Value: "tok-123456", IssuedAt: issued}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := fsrc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-123456", got.Value)
	assert.True(t, got.IssuedAt.Equal(issued))

	meta, err := os.ReadFile(path + ".meta")
	require.NoError(t, err)
	assert.Contains(t, string(meta), "tok-12...")
	assert.NotContains(t, string(meta), "tok-123456")
}

func TestFileSourceWithoutMeta(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "access_token.txt")
	require.NoError(t, os.WriteFile(path, []byte("  plain-token\n"), 0o600))

	got, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "plain-token", got.Value)
	assert.False(t, got.IssuedAt.IsZero())

	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))
	_, err = NewFileSource(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFileSourceRejectsEmpty(t *testing.T) {
	t.Parallel()
	err := NewFileSource(filepath.Join(t.TempDir(), "t.txt")).Save(context.Background(), Token{})
	assert.ErrorIs(t, err, ErrNoToken)
}

type memKV struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func (m *memKV) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	m.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func TestRedisSourceRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &memKV{data: map[string]string{}}
	r := &RedisSource{client: store, key: DefaultRedisKey}

	_, err := r.Load(ctx)
	assert.ErrorIs(t, err, ErrNoToken)

	issued := time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)
	require.NoError(t, r.Save(ctx, Token{Value: "redis-token", IssuedAt: issued}))
	assert.Equal(t, "redis-token", store.data["optbot:access_token"])

	got, err := r.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "redis-token", got.Value)
	assert.True(t, got.IssuedAt.Equal(issued))
}

func TestRedisSourceError(t *testing.T) {
	t.Parallel()

	r := &RedisSource{client: &memKV{err: errors.New("connection refused")}, key: "k"}
	_, err := r.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoToken)
	assert.Error(t, r.Save(context.Background(), Token{Value: "x"}))
}

func TestNewRedisSourceDefaults(t *testing.T) {
	t.Parallel()

	r, client := NewRedisSource(RedisOptions{Addr: "127.0.0.1:0"})
	defer client.Close()
	assert.Equal(t, DefaultRedisKey, r.key)
}

func TestChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "none.txt")

	got, err := Chain{Static(""), NewFileSource(path), Static("env-token")}.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "env-token", got.Value)

	_, err = Chain{Static(""), nil}.Load(ctx)
	assert.ErrorIs(t, err, ErrNoToken)

	broken := &RedisSource{client: &memKV{err: errors.New("down")}, key: "k"}
	_, err = Chain{broken, Static("env-token")}.Load(ctx)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoToken)
}
