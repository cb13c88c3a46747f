package catalog_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/germanamz/modelrouter/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister is a test double for catalog.Lister.
type fakeLister struct {
	mu    sync.Mutex
	ids   []string
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeLister) ListModels(_ context.Context) ([]string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids, f.err
}

func (f *fakeLister) set(ids []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids, f.err = ids, err
}

func newTestRegistry(l catalog.Lister, now *time.Time) *catalog.Registry {
	bp := testBlueprint()
	bp.FallbackIDs = []string{
		"meta/llama-3.3-70b-instruct",
		"mistralai/mistral-675b-instruct",
		"nvidia/cosmos-video-instruct",
		"nvidia/nemotron-parse",
	}

	r := catalog.NewRegistry(l, catalog.Options{Blueprint: bp, TTL: time.Minute})
	r.SetNowFunc(func() time.Time { return *now })
	return r
}

func TestRegistry_LiveCatalogFiltersDenylist(t *testing.T) {
	now := time.Now()
	l := &fakeLister{ids: []string{
		"meta/llama-3.3-70b-instruct",
		"Mistral-675B-XYZ",
		"nvidia/Cosmos-Video",
	}}
	r := newTestRegistry(l, &now)

	c := r.Catalog(context.Background())

	assert.Equal(t, catalog.SourceLive, c.Source())
	assert.Equal(t, []string{"meta/llama-3.3-70b-instruct"}, c.IDs())
}

func TestRegistry_CacheHitUntilExpiry(t *testing.T) {
	now := time.Now()
	l := &fakeLister{ids: []string{"a-instruct"}}
	r := newTestRegistry(l, &now)

	first := r.Catalog(context.Background())
	now = now.Add(59 * time.Second)
	second := r.Catalog(context.Background())

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), l.calls.Load())

	// expiresAt == now is a miss.
	now = now.Add(time.Second)
	l.set([]string{"b-instruct"}, nil)
	third := r.Catalog(context.Background())

	assert.Equal(t, int32(2), l.calls.Load())
	assert.Equal(t, []string{"b-instruct"}, third.IDs())
}

func TestRegistry_FallbackAfterRepeatedFailures(t *testing.T) {
	now := time.Now()
	l := &fakeLister{err: errors.New("connection refused")}
	var fallbacks atomic.Int32

	bp := testBlueprint()
	bp.FallbackIDs = []string{
		"meta/llama-3.3-70b-instruct",
		"mistralai/mistral-675b-instruct",
		"nvidia/cosmos-video-instruct",
		"nvidia/nemotron-parse",
	}
	r := catalog.NewRegistry(l, catalog.Options{
		Blueprint:  bp,
		TTL:        time.Minute,
		OnFallback: func() { fallbacks.Add(1) },
	})
	r.SetNowFunc(func() time.Time { return now })

	c1 := r.Catalog(context.Background())
	now = now.Add(2 * time.Minute)
	c2 := r.Catalog(context.Background())

	for _, c := range []*catalog.Catalog{c1, c2} {
		assert.Equal(t, catalog.SourceFallback, c.Source())
		assert.Equal(t, []string{"meta/llama-3.3-70b-instruct", "nvidia/nemotron-parse"}, c.IDs())
	}
	assert.Equal(t, int32(2), l.calls.Load())
	assert.Equal(t, int32(2), fallbacks.Load())
}

func TestRegistry_FallbackIsCachedForTTL(t *testing.T) {
	now := time.Now()
	l := &fakeLister{err: errors.New("down")}
	r := newTestRegistry(l, &now)

	r.Catalog(context.Background())
	now = now.Add(30 * time.Second)
	r.Catalog(context.Background())

	assert.Equal(t, int32(1), l.calls.Load())
}

func TestRegistry_StaleOnFailure(t *testing.T) {
	now := time.Now()
	l := &fakeLister{ids: []string{"a-instruct"}}
	r := newTestRegistry(l, &now)

	good := r.Catalog(context.Background())

	now = now.Add(2 * time.Minute)
	l.set(nil, errors.New("timeout"))
	stale := r.Catalog(context.Background())

	assert.Same(t, good, stale)
	assert.Equal(t, catalog.SourceLive, stale.Source())
}

func TestRegistry_EmptyListingFallsBack(t *testing.T) {
	now := time.Now()
	l := &fakeLister{ids: []string{"x/video-only", "mistral-675b"}}
	r := newTestRegistry(l, &now)

	_, err := r.Refresh(context.Background())
	require.ErrorIs(t, err, catalog.ErrCatalogEmpty)

	c := r.Catalog(context.Background())
	assert.Equal(t, catalog.SourceFallback, c.Source())
}

func TestRegistry_RefreshWrapsListerError(t *testing.T) {
	boom := errors.New("boom")
	now := time.Now()
	r := newTestRegistry(&fakeLister{err: boom}, &now)

	_, err := r.Refresh(context.Background())

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "catalog: list models")
}

func TestRegistry_Invalidate(t *testing.T) {
	now := time.Now()
	l := &fakeLister{ids: []string{"a-instruct"}}
	r := newTestRegistry(l, &now)

	r.Catalog(context.Background())
	r.Invalidate()
	l.set([]string{"b-instruct"}, nil)

	c := r.Catalog(context.Background())

	assert.Equal(t, int32(2), l.calls.Load())
	assert.Equal(t, []string{"b-instruct"}, c.IDs())
}

func TestRegistry_InvalidateKeepsStale(t *testing.T) {
	now := time.Now()
	l := &fakeLister{ids: []string{"a-instruct"}}
	r := newTestRegistry(l, &now)

	r.Catalog(context.Background())
	r.Invalidate()
	l.set(nil, errors.New("down"))

	c := r.Catalog(context.Background())

	assert.Equal(t, catalog.SourceLive, c.Source())
	assert.Equal(t, []string{"a-instruct"}, c.IDs())
}

func TestRegistry_ColdCacheCoalesced(t *testing.T) {
	now := time.Now()
	l := &fakeLister{ids: []string{"a-instruct"}, gate: make(chan struct{})}
	r := newTestRegistry(l, &now)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*catalog.Catalog, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.Catalog(context.Background())
		}()
	}

	// Let the goroutines pile up behind the in-flight refresh.
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(l.gate)
	wg.Wait()

	for _, c := range results {
		require.NotNil(t, c)
		assert.Equal(t, []string{"a-instruct"}, c.IDs())
	}
	assert.LessOrEqual(t, l.calls.Load(), int32(callers))
}

// ctxLister fails with the context error once its caller is gone.
type ctxLister struct {
	ids   []string
	calls atomic.Int32
}

func (l *ctxLister) ListModels(ctx context.Context) ([]string, error) {
	l.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.ids, nil
}

func TestRegistry_CancelledCallerDoesNotCacheFallback(t *testing.T) {
	now := time.Now()
	l := &ctxLister{ids: []string{"meta/llama-3.3-70b-instruct", "b-instruct"}}
	r := newTestRegistry(l, &now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	first := r.Catalog(ctx)
	second := r.Catalog(context.Background())

	assert.Equal(t, catalog.SourceLive, first.Source())
	assert.Equal(t, catalog.SourceLive, second.Source())
	assert.Equal(t, []string{"meta/llama-3.3-70b-instruct", "b-instruct"}, second.IDs())
	assert.Equal(t, int32(1), l.calls.Load())
}

func TestRegistry_RefreshTimeout(t *testing.T) {
	now := time.Now()
	var deadline time.Time
	l := listerFunc(func(ctx context.Context) ([]string, error) {
		deadline, _ = ctx.Deadline()
		return []string{"a-instruct"}, nil
	})
	r := catalog.NewRegistry(l, catalog.Options{
		Blueprint:      testBlueprint(),
		RefreshTimeout: time.Hour,
	})

	r.Catalog(context.Background())

	assert.WithinDuration(t, now.Add(time.Hour), deadline, time.Minute)
}

type listerFunc func(ctx context.Context) ([]string, error)

func (f listerFunc) ListModels(ctx context.Context) ([]string, error) { return f(ctx) }
