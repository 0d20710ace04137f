package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottle_MemoryLimiter(t *testing.T) {
	var calls int
	limiter := NewMemoryLimiter(ThrottlePolicy{PerSecond: 0.001, Burst: 2})
	w := NewThrottle(countingWriter(&calls), limiter)
	ctx := context.Background()
	call := Call{Name: CallRecordMetric, From: "0xaaa"}

	_, err := w.Write(ctx, call)
	require.NoError(t, err)
	_, err = w.Write(ctx, call)
	require.NoError(t, err)
	_, err = w.Write(ctx, call)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2, calls)

	// Other wallets have their own bucket.
	_, err = w.Write(ctx, Call{Name: CallRecordMetric, From: "0xbbb"})
	assert.NoError(t, err)
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string, int) (bool, error) {
	return false, errors.New("limiter down")
}

func TestThrottle_FailsOpen(t *testing.T) {
	var calls int
	w := NewThrottle(countingWriter(&calls), errLimiter{})
	_, err := w.Write(context.Background(), Call{Name: CallCreateStartup})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// fakeScripter answers EvalSha with a canned token-bucket result.
type fakeScripter struct {
	allowed int64
	keys    []string
}

func (f *fakeScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, "", keys, args...)
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	f.keys = append(f.keys, keys...)
	return redis.NewCmdResult([]interface{}{f.allowed, "0"}, nil)
}

func (f *fakeScripter) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func TestRedisLimiter(t *testing.T) {
	fake := &fakeScripter{allowed: 1}
	limiter := NewRedisLimiterWithClient(fake, ThrottlePolicy{PerSecond: 1, Burst: 5})

	ok, err := limiter.Allow(context.Background(), "0xaaa", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"startupops:limiter:0xaaa"}, fake.keys)

	fake.allowed = 0
	ok, err = limiter.Allow(context.Background(), "0xaaa", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, call Call) (TxHandle, error) {
		select {
		case <-time.After(time.Second):
			return "0xlate", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	_, err := WithTimeout(slow, 10*time.Millisecond).Write(context.Background(), Call{Name: CallRecordMetric})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var calls int
	tx, err := WithTimeout(countingWriter(&calls), time.Second).Write(context.Background(), Call{Name: CallRecordMetric})
	require.NoError(t, err)
	assert.Equal(t, TxHandle("0xabc"), tx)

	// A zero timeout leaves the writer unwrapped.
	_, err = WithTimeout(countingWriter(&calls), 0).Write(context.Background(), Call{Name: CallRecordMetric})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
