package nfsconn_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/retrofs/nfsvfs/pkg/nfsconn"
	"github.com/retrofs/nfsvfs/pkg/nfsconn/nfsconntest"
)

func TestAcquireReusesExistingConnection(t *testing.T) {
	var built int
	pool := nfsconn.New(func() nfsconn.NetworkContext {
		built++
		return nfsconntest.New()
	})

	ctx := context.Background()
	h1, err := pool.Acquire(ctx, "server1", "/export")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	h2, err := pool.Acquire(ctx, "server1", "/export")
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	if h1.Context != h2.Context {
		t.Fatalf("expected the same context to be reused for the same key")
	}
	if built != 1 {
		t.Fatalf("expected exactly one context built, got %d", built)
	}

	h1.Release()
	h2.Release()
}

func TestAcquireMountFailure(t *testing.T) {
	pool := nfsconn.New(func() nfsconn.NetworkContext {
		c := nfsconntest.New()
		c.FailMount = true
		return c
	})

	if _, err := pool.Acquire(context.Background(), "bad", "/export"); err == nil {
		t.Fatalf("expected mount failure to surface as an error")
	}
}

func TestAcquireConcurrentDoubleCheckedInsert(t *testing.T) {
	var built int32Counter
	pool := nfsconn.New(func() nfsconn.NetworkContext {
		built.inc()
		c := nfsconntest.New()
		c.MountDelay = 10 * time.Millisecond
		return c
	})

	const n = 8
	var wg sync.WaitGroup
	handles := make([]nfsconn.Handle, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := pool.Acquire(context.Background(), "shared", "/export")
			handles[i] = h
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if handles[i].Context != handles[0].Context {
			t.Fatalf("expected every concurrent acquire to converge on one connection")
		}
	}

	for _, h := range handles {
		h.Release()
	}
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func TestStatCacheTTL(t *testing.T) {
	pool := nfsconn.New(func() nfsconn.NetworkContext { return nfsconntest.New() })

	pool.Stats.Put("/a", nfsconn.Attr{Size: 10})
	if attr, ok := pool.Stats.Get("/a"); !ok || attr.Size != 10 {
		t.Fatalf("expected cached stat entry")
	}
}

func TestShutdownUnmountsAll(t *testing.T) {
	fake := nfsconntest.New()
	pool := nfsconn.New(func() nfsconn.NetworkContext { return fake })

	if _, err := pool.Acquire(context.Background(), "s", "/e"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Shutdown(context.Background())

	if _, err := pool.Acquire(context.Background(), "s", "/e"); err != nil {
		t.Fatalf("re-acquire after shutdown should mount again: %v", err)
	}
}
