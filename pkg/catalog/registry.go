package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrCatalogEmpty is returned by Refresh when no usable model remains after
// denylist filtering.
var ErrCatalogEmpty = errors.New("catalog_empty")

// DefaultTTL is the cache lifetime used when Options.TTL is zero.
const DefaultTTL = 10 * time.Minute

// DefaultRefreshTimeout bounds a shared refresh when Options.RefreshTimeout
// is zero.
const DefaultRefreshTimeout = 30 * time.Second

// Lister returns the raw model ids served upstream.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Options configures a Registry.
type Options struct {
	Blueprint Blueprint
	TTL       time.Duration
	// RefreshTimeout bounds the upstream listing done on behalf of all
	// waiting callers.
	RefreshTimeout time.Duration
	Logger         *slog.Logger
	// OnFallback is called each time the static fallback catalog is served.
	OnFallback func()
}

// entry is the cache cell. It is replaced whole, never mutated.
type entry struct {
	catalog   *Catalog
	expiresAt time.Time
}

// Registry caches the catalog and refreshes it from a Lister on expiry.
// It is safe for concurrent use.
type Registry struct {
	lister     Lister
	bp         Blueprint
	ttl        time.Duration
	timeout    time.Duration
	log        *slog.Logger
	onFallback func()

	cell  atomic.Pointer[entry]
	group singleflight.Group

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// NewRegistry creates a Registry backed by lister.
func NewRegistry(lister Lister, opts Options) *Registry {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	timeout := opts.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Registry{
		lister:     lister,
		bp:         opts.Blueprint,
		ttl:        ttl,
		timeout:    timeout,
		log:        logger,
		onFallback: opts.OnFallback,
		nowFunc:    time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *Registry) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// Blueprint returns the role configuration used for inference.
func (r *Registry) Blueprint() Blueprint { return r.bp }

// IsDenied reports whether id is excluded by the registry's denylist.
func (r *Registry) IsDenied(id string) bool { return IsDenied(r.bp.Denylist, id) }

// Refresh lists upstream models and builds a live catalog from the ids that
// survive the denylist. It does not touch the cache.
func (r *Registry) Refresh(ctx context.Context) (*Catalog, error) {
	ids, err := r.lister.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list models: %w", err)
	}

	allowed := r.filter(ids)
	if len(allowed) == 0 {
		return nil, ErrCatalogEmpty
	}

	return Build(r.bp, allowed, SourceLive, r.log), nil
}

// Catalog returns the cached catalog, refreshing it when expired. It never
// fails: on refresh failure it serves the last good catalog, or else a
// catalog built from the static fallback ids, which is then cached for one
// TTL. Concurrent refreshes are coalesced and run detached from the
// caller's cancellation, so one abandoned request cannot cache the fallback.
func (r *Registry) Catalog(ctx context.Context) *Catalog {
	if e := r.cell.Load(); e != nil && e.expiresAt.After(r.nowFunc()) {
		return e.catalog
	}

	v, _, _ := r.group.Do("catalog", func() (any, error) {
		now := r.nowFunc()
		if e := r.cell.Load(); e != nil && e.expiresAt.After(now) {
			return e.catalog, nil
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		c, err := r.Refresh(rctx)
		if err != nil {
			r.log.WarnContext(ctx, "catalog: refresh failed", "error", err)

			if e := r.cell.Load(); e != nil {
				return e.catalog, nil
			}

			c = Build(r.bp, r.filter(r.bp.FallbackIDs), SourceFallback, r.log)
			if r.onFallback != nil {
				r.onFallback()
			}
		}

		r.cell.Store(&entry{catalog: c, expiresAt: now.Add(r.ttl)})

		return c, nil
	})

	return v.(*Catalog)
}

// Invalidate expires the cached catalog so the next call refreshes. The
// expired catalog is still served if that refresh fails.
func (r *Registry) Invalidate() {
	if e := r.cell.Load(); e != nil {
		r.cell.Store(&entry{catalog: e.catalog})
	}
}

func (r *Registry) filter(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !r.IsDenied(id) {
			out = append(out, id)
		}
	}
	return out
}
