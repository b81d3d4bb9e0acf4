// Package nfsconn implements the connection pool: keyed, refcounted network
// contexts with per-context serialization and a short-TTL stat cache.
//
// A NetworkContext is the Go analogue of the original C++ code's opaque
// `struct nfs_context*` — something that can mount an export and perform
// blocking reads/writes/stats against it. pkg/nfsv3 provides the real NFSv3
// implementation; pkg/nfsconn/nfsconntest provides an in-memory fake for
// tests.
package nfsconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/retrofs/nfsvfs/internal/logger"
	"github.com/retrofs/nfsvfs/pkg/statcache"
)

// Metrics receives counters and gauges for pool activity. A nil Metrics
// passed to NewWithMetrics falls back to a no-op implementation.
type Metrics interface {
	ObserveMount(server, export string, duration time.Duration, err error)
	RecordActiveConnections(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveMount(string, string, time.Duration, error) {}
func (noopMetrics) RecordActiveConnections(int)                       {}

// ErrMountFailed is returned when a fresh mount attempt fails.
var ErrMountFailed = errors.New("nfsconn: mount failed")

// FileRef is an opaque handle returned by NetworkContext.Open; its shape is
// transport-specific (an NFSv3 file handle, for instance) and never
// interpreted by this package.
type FileRef any

// Attr is the subset of file metadata the pool's stat cache needs.
type Attr = statcache.Attr

// NetworkContext is the blocking transport used by a single (server, export)
// endpoint. Every method must be safe to call concurrently only in the sense
// that the CALLER serializes access via the mutex returned by Pool.Acquire —
// implementations are not required to be internally reentrant, matching the
// spec's "the underlying network library is not reentrant per-context" note.
type NetworkContext interface {
	// Mount establishes the connection to server:export. Called once, before
	// the context is installed in the pool.
	Mount(ctx context.Context, server, export string) error

	// Open opens relativePath for reading, or for read/write if writable.
	Open(ctx context.Context, relativePath string, writable bool) (FileRef, error)

	// Pread issues one blocking read at offset, returning bytes copied.
	Pread(ctx context.Context, fh FileRef, buf []byte, offset int64) (int, error)

	// Pwrite issues one blocking write at offset, returning bytes written.
	Pwrite(ctx context.Context, fh FileRef, data []byte, offset int64) (int, error)

	// Getattr stats relativePath without requiring it to be open.
	Getattr(ctx context.Context, relativePath string) (Attr, error)

	// Close releases a file opened via Open.
	Close(ctx context.Context, fh FileRef) error

	// Unmount tears the context down. Called only at pool shutdown.
	Unmount(ctx context.Context) error
}

// Factory constructs a fresh, unmounted NetworkContext. Separated from
// NetworkContext itself so the pool can create new instances on demand
// without depending on a concrete transport package.
type Factory func() NetworkContext

// connection is the pool's bookkeeping record for one mounted endpoint.
type connection struct {
	ctx      NetworkContext
	server   string
	export   string
	refCount int
	mu       sync.Mutex // per-context serialization; every transport call holds this
}

// Handle is what Acquire hands back to a caller: the mounted context plus
// the mutex that must be held for every call made through it.
type Handle struct {
	Context NetworkContext
	Mutex   *sync.Mutex

	pool *Pool
	key  string
}

// Release returns the handle to the pool, decrementing its refcount.
// Connections are never destroyed on refcount 0 — see Pool.Shutdown.
func (h Handle) Release() {
	h.pool.release(h.key)
}

// Pool owns network contexts keyed by "server:export" and a short-TTL stat
// cache, each guarded by its own mutex (never held simultaneously, and the
// pool mutex is released before the network mount call).
type Pool struct {
	factory Factory
	metrics Metrics

	mu    sync.Mutex
	conns map[string]*connection

	Stats *statcache.Cache
}

// New returns a pool that creates fresh contexts via factory on demand.
func New(factory Factory) *Pool {
	return NewWithMetrics(factory, nil)
}

// NewWithMetrics is New with an explicit metrics sink.
func NewWithMetrics(factory Factory, metrics Metrics) *Pool {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Pool{
		factory: factory,
		metrics: metrics,
		conns:   make(map[string]*connection),
		Stats:   statcache.New(),
	}
}

func key(server, export string) string {
	return fmt.Sprintf("%s:%s", server, export)
}

// Acquire returns a handle to the mounted context for server:export,
// mounting it if this is the first request for that key.
//
// The double-checked insert is load-bearing: the (potentially multi-second)
// mount runs with the pool mutex released, so one slow mount never stalls
// acquisitions for other endpoints. If a concurrent caller wins the race and
// installs the connection first, this call's own freshly-mounted context is
// discarded in favor of the one already in the pool.
func (p *Pool) Acquire(ctx context.Context, server, export string) (Handle, error) {
	k := key(server, export)

	p.mu.Lock()
	if c, ok := p.conns[k]; ok {
		c.refCount++
		p.mu.Unlock()
		return Handle{Context: c.ctx, Mutex: &c.mu, pool: p, key: k}, nil
	}
	p.mu.Unlock()

	fresh := p.factory()
	mountStart := time.Now()
	err := fresh.Mount(ctx, server, export)
	p.metrics.ObserveMount(server, export, time.Since(mountStart), err)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %s: %v", ErrMountFailed, k, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[k]; ok {
		// Someone else mounted the same endpoint while we were mounting.
		// Discard ours; the expensive mount was wasted, but correctness
		// and a single live connection per endpoint matter more.
		c.refCount++
		go fresh.Unmount(context.Background())
		return Handle{Context: c.ctx, Mutex: &c.mu, pool: p, key: k}, nil
	}

	c := &connection{ctx: fresh, server: server, export: export, refCount: 1}
	p.conns[k] = c
	p.metrics.RecordActiveConnections(len(p.conns))
	logger.Info("nfsconn: mounted %s", k)
	return Handle{Context: c.ctx, Mutex: &c.mu, pool: p, key: k}, nil
}

// Getattr resolves cacheKey's attributes, consulting the pool's stat cache
// first and falling back to a network GETATTR issued under handle's mutex on
// a miss, populating the cache with the result. cacheKey should uniquely
// identify the path within the whole pool (server+export+relative path),
// since Stats is shared across endpoints.
func (p *Pool) Getattr(ctx context.Context, handle Handle, cacheKey, relativePath string) (Attr, error) {
	if attr, ok := p.Stats.Get(cacheKey); ok {
		return attr, nil
	}

	handle.Mutex.Lock()
	attr, err := handle.Context.Getattr(ctx, relativePath)
	handle.Mutex.Unlock()
	if err != nil {
		return Attr{}, err
	}

	p.Stats.Put(cacheKey, attr)
	return attr, nil
}

func (p *Pool) release(k string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[k]; ok {
		c.refCount--
	}
}

// Shutdown unmounts and destroys every connection in the pool. Intended for
// process shutdown only; connections are never torn down before this is
// called, trading a bounded per-endpoint leak for avoiding repeated mounts.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, c := range p.conns {
		if err := c.ctx.Unmount(ctx); err != nil {
			logger.Warn("nfsconn: unmount %s: %v", k, err)
		}
	}
	p.conns = make(map[string]*connection)
	p.metrics.RecordActiveConnections(0)
}
