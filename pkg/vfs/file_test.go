package vfs

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/retrofs/nfsvfs/pkg/blockcache"
	"github.com/retrofs/nfsvfs/pkg/nfsconn"
	"github.com/retrofs/nfsvfs/pkg/nfsconn/nfsconntest"
	"github.com/retrofs/nfsvfs/pkg/urlhint"
)

func pattern(n int, b byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = b
	}
	return data
}

func newTestFilesystem(t *testing.T, fake *nfsconntest.Context, prefetch PrefetchFunc) *Filesystem {
	t.Helper()
	cache := blockcache.New(4 * blockcache.BlockSize)
	pool := nfsconn.New(func() nfsconn.NetworkContext { return fake })
	hints := urlhint.NewRegistry()
	hints.AddPathHint("nfs://server/export/save.srm", "server", "/export", "save.srm")
	return NewFilesystem(cache, pool, hints, prefetch)
}

func TestColdReadFallsBackToSyncAndBackfills(t *testing.T) {
	fake := nfsconntest.New()
	data := append(pattern(blockcache.BlockSize, 'A'), pattern(blockcache.BlockSize, 'B')...)
	fake.Seed("save.srm", data)

	fs := newTestFilesystem(t, fake, nil)
	f, err := fs.Open(context.Background(), "nfs://server/export/save.srm", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	out := make([]byte, len(data))
	n, err := f.Read(context.Background(), out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(data) {
		t.Fatalf("expected %d bytes, got %d", len(data), n)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("read data mismatch")
	}

	if !fs.Cache.Has(0) || !fs.Cache.Has(1) {
		t.Fatalf("expected both whole blocks to be backfilled after a large sync read")
	}
}

func TestWarmCacheServesWithoutTouchingNetwork(t *testing.T) {
	fake := nfsconntest.New()
	fake.Seed("save.srm", pattern(blockcache.BlockSize, 'Z'))

	fs := newTestFilesystem(t, fake, nil)

	cached := pattern(blockcache.BlockSize, 'C')
	fs.Cache.Put(0, cached)

	f, err := fs.Open(context.Background(), "nfs://server/export/save.srm", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	out := make([]byte, blockcache.BlockSize)
	n, err := f.Read(context.Background(), out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != blockcache.BlockSize {
		t.Fatalf("expected full block, got %d", n)
	}
	if !bytes.Equal(out, cached) {
		t.Fatalf("expected cached bytes ('C'), got network bytes instead")
	}
}

func TestReadPastEOFReturnsShortRead(t *testing.T) {
	fake := nfsconntest.New()
	fake.Seed("save.srm", pattern(100, 'X'))

	fs := newTestFilesystem(t, fake, nil)
	f, err := fs.Open(context.Background(), "nfs://server/export/save.srm", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	out := make([]byte, 500)
	n, err := f.Read(context.Background(), out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 100 {
		t.Fatalf("expected short read of 100 bytes at EOF, got %d", n)
	}
}

func TestWriteInvalidatesSpannedBlocks(t *testing.T) {
	fake := nfsconntest.New()
	fake.Seed("save.srm", pattern(2*blockcache.BlockSize, 'A'))

	fs := newTestFilesystem(t, fake, nil)
	fs.Cache.Put(0, pattern(blockcache.BlockSize, 'A'))
	fs.Cache.Put(1, pattern(blockcache.BlockSize, 'A'))

	f, err := fs.Open(context.Background(), "nfs://server/export/save.srm", true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	f.Seek(blockcache.BlockSize-10, SeekStart)
	if _, err := f.Write(context.Background(), pattern(20, 'W')); err != nil {
		t.Fatalf("write: %v", err)
	}

	if fs.Cache.Has(0) || fs.Cache.Has(1) {
		t.Fatalf("expected both blocks spanned by the write to be invalidated")
	}
}

func TestPrefetchFiredForCurrentAndNextTwoBlocks(t *testing.T) {
	fake := nfsconntest.New()
	fake.Seed("save.srm", pattern(blockcache.BlockSize, 'A'))

	var mu sync.Mutex
	var fired []uint64
	prefetch := func(blockID uint64) {
		mu.Lock()
		fired = append(fired, blockID)
		mu.Unlock()
	}

	fs := newTestFilesystem(t, fake, prefetch)
	f, err := fs.Open(context.Background(), "nfs://server/export/save.srm", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	out := make([]byte, 10)
	if _, err := f.Read(context.Background(), out); err != nil {
		t.Fatalf("read: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) < 3 || fired[0] != 0 || fired[1] != 1 || fired[2] != 2 {
		t.Fatalf("expected prefetch hints for blocks 0,1,2, got %v", fired)
	}
}

func TestPartialHitReturnsImmediatelyOnTimeout(t *testing.T) {
	fake := nfsconntest.New()
	fake.Seed("save.srm", pattern(2*blockcache.BlockSize, 'A'))

	fs := newTestFilesystem(t, fake, nil)
	fs.Cache.Put(0, pattern(blockcache.BlockSize, 'A'))
	// Block 1 is deliberately left uncached and un-prefetched, so the wait
	// for it times out.

	f, err := fs.Open(context.Background(), "nfs://server/export/save.srm", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	out := make([]byte, 2*blockcache.BlockSize)
	n, err := f.Read(context.Background(), out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != blockcache.BlockSize {
		t.Fatalf("expected partial read of exactly one cached block (%d bytes) on timeout, got %d", blockcache.BlockSize, n)
	}
}

func TestStatServesFromCacheOnSecondCall(t *testing.T) {
	fake := nfsconntest.New()
	fake.Seed("save.srm", pattern(100, 'A'))

	fs := newTestFilesystem(t, fake, nil)

	attr, err := fs.Stat(context.Background(), "nfs://server/export/save.srm")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if attr.Size != 100 {
		t.Fatalf("expected size 100, got %d", attr.Size)
	}

	// Mutate the backing file directly, bypassing Write (which would
	// invalidate the stat cache). A second Stat within the TTL window
	// should still report the cached size.
	fake.Seed("save.srm", pattern(200, 'A'))

	attr2, err := fs.Stat(context.Background(), "nfs://server/export/save.srm")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if attr2.Size != 100 {
		t.Fatalf("expected cached stat to still report size 100, got %d", attr2.Size)
	}
}

func TestWriteInvalidatesStatCache(t *testing.T) {
	fake := nfsconntest.New()
	fake.Seed("save.srm", pattern(100, 'A'))

	fs := newTestFilesystem(t, fake, nil)

	if _, err := fs.Stat(context.Background(), "nfs://server/export/save.srm"); err != nil {
		t.Fatalf("stat: %v", err)
	}

	f, err := fs.Open(context.Background(), "nfs://server/export/save.srm", true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.Seek(100, SeekStart)
	if _, err := f.Write(context.Background(), pattern(50, 'B')); err != nil {
		t.Fatalf("write: %v", err)
	}

	attr, err := fs.Stat(context.Background(), "nfs://server/export/save.srm")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if attr.Size != 150 {
		t.Fatalf("expected stat cache to reflect post-write size 150, got %d", attr.Size)
	}
}

func TestSeekClampsToFileBounds(t *testing.T) {
	fake := nfsconntest.New()
	fake.Seed("save.srm", pattern(100, 'A'))

	fs := newTestFilesystem(t, fake, nil)
	f, err := fs.Open(context.Background(), "nfs://server/export/save.srm", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if got := f.Seek(1000, SeekStart); got != 100 {
		t.Fatalf("expected seek to clamp to file size 100, got %d", got)
	}
	if got := f.Seek(-50, SeekCurrent); got != 50 {
		t.Fatalf("expected clamped-then-relative seek to land at 50, got %d", got)
	}
	if got := f.Seek(-1000, SeekCurrent); got != 0 {
		t.Fatalf("expected seek to clamp to 0, got %d", got)
	}
}
