package modeladapter_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/germanamz/modelrouter/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a test double for modeladapter.Backend.
type fakeBackend struct {
	completes atomic.Int32
	streams   atomic.Int32
}

func (f *fakeBackend) Complete(_ context.Context, _ modeladapter.Request) (string, error) {
	f.completes.Add(1)
	return "ok", nil
}

func (f *fakeBackend) Stream(_ context.Context, _ modeladapter.Request) (modeladapter.Stream, error) {
	f.streams.Add(1)
	return modeladapter.TextStream("ok"), nil
}

func TestRateLimitedBackend_PassthroughWithoutLimit(t *testing.T) {
	fb := &fakeBackend{}
	rl := modeladapter.NewRateLimitedBackend(fb, modeladapter.RateLimitOpts{})
	rl.SetSleepFunc(func(_ context.Context, _ time.Duration) error {
		t.Fatal("unexpected sleep")
		return nil
	})

	for range 10 {
		out, err := rl.Complete(context.Background(), modeladapter.Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}

	assert.Equal(t, int32(10), fb.completes.Load())
}

func TestRateLimitedBackend_ThrottlesAtRPM(t *testing.T) {
	fb := &fakeBackend{}
	currentTime := time.Now()
	var slept time.Duration

	rl := modeladapter.NewRateLimitedBackend(fb, modeladapter.RateLimitOpts{RPM: 2})
	rl.SetNowFunc(func() time.Time { return currentTime })
	rl.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		slept += d
		currentTime = currentTime.Add(d)
		return nil
	})

	_, err := rl.Complete(context.Background(), modeladapter.Request{})
	require.NoError(t, err)
	_, err = rl.Stream(context.Background(), modeladapter.Request{})
	require.NoError(t, err)
	assert.Zero(t, slept)

	// Third request in the same minute must wait for the window to slide.
	_, err = rl.Complete(context.Background(), modeladapter.Request{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, slept, time.Minute)
	assert.Equal(t, int32(2), fb.completes.Load())
	assert.Equal(t, int32(1), fb.streams.Load())
}

func TestRateLimitedBackend_ContextCancellation(t *testing.T) {
	fb := &fakeBackend{}
	ctx, cancel := context.WithCancel(context.Background())

	rl := modeladapter.NewRateLimitedBackend(fb, modeladapter.RateLimitOpts{RPM: 1})
	rl.SetSleepFunc(func(_ context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := rl.Complete(ctx, modeladapter.Request{})
	require.NoError(t, err)

	_, err = rl.Stream(ctx, modeladapter.Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), fb.streams.Load())
}

func TestContextSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := modeladapter.ContextSleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
