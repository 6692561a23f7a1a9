package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMirror(t *testing.T, ttl time.Duration) (*RedisTranscriptMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisTranscriptMirror(rdb, ttl), mr
}

func TestAppendAndLoad(t *testing.T) {
	r, mr := newTestMirror(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, r.AppendExchange(ctx, "anon:abc", "oi", "olá!"))
	require.NoError(t, r.AppendExchange(ctx, "anon:abc", "tudo bem?", "tudo sim."))

	msgs, err := r.Load(ctx, "anon:abc")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, "olá!", msgs[1].Content)
	assert.Equal(t, schema.Assistant, msgs[3].Role)

	assert.Equal(t, time.Hour, mr.TTL(r.transcriptKey("anon:abc")))
}

func TestLoadMissingKey(t *testing.T) {
	r, _ := newTestMirror(t, 0)

	msgs, err := r.Load(context.Background(), "anon:none")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLoadSkipsGarbage(t *testing.T) {
	r, mr := newTestMirror(t, 0)
	ctx := context.Background()

	_, err := mr.Push(r.transcriptKey("anon:x"), "{not json")
	require.NoError(t, err)
	require.NoError(t, r.AppendExchange(ctx, "anon:x", "ok", "certo"))

	msgs, err := r.Load(ctx, "anon:x")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ok", msgs[0].Content)
}

func TestClear(t *testing.T) {
	r, mr := newTestMirror(t, 0)
	ctx := context.Background()

	require.NoError(t, r.AppendExchange(ctx, "anon:y", "oi", "olá"))
	require.NoError(t, r.Clear(ctx, "anon:y"))
	assert.False(t, mr.Exists(r.transcriptKey("anon:y")))
}

func TestRedisFailureIsWrapped(t *testing.T) {
	r, mr := newTestMirror(t, 0)
	mr.Close()

	err := r.AppendExchange(context.Background(), "anon:z", "oi", "olá")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis operation failed")
}
