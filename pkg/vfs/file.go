// Package vfs implements the read path the emulator core actually calls
// through: a File type backed by the block cache, connection pool and a
// synchronous NFS fallback, presenting the handful of operations a
// libretro-style retro_vfs_interface needs.
package vfs

import (
	"context"
	"fmt"
	"time"

	"github.com/retrofs/nfsvfs/internal/logger"
	"github.com/retrofs/nfsvfs/pkg/blockcache"
	"github.com/retrofs/nfsvfs/pkg/nfsconn"
	"github.com/retrofs/nfsvfs/pkg/urlhint"
)

// PrefetchFunc is invoked fire-and-forget with a block ID whenever the read
// path wants a block warmed in the background. The original shim calls this
// synchronously into host code (a Dart callback); here it's just a function
// value, typically wired to pkg/filler's work queue.
type PrefetchFunc func(blockID uint64)

// Metrics receives counters for read-path behavior: how often a read has to
// fall through to a synchronous network read, and how often a read returns
// fewer bytes than requested (from a cache partial hit or a short fallback
// read). A nil Metrics passed to
// NewFilesystemWithMetrics falls back to a no-op implementation.
type Metrics interface {
	ObserveSyncFallback(bytesRequested, bytesFromSync int)
	ObservePartialRead(bytesRequested, bytesReturned int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSyncFallback(int, int) {}
func (noopMetrics) ObservePartialRead(int, int)  {}

// Filesystem bundles everything a File needs to resolve a path and perform
// reads that fall through the cache: the shared block cache, the connection
// pool, and the path-hint registry.
type Filesystem struct {
	Cache    *blockcache.Cache
	Pool     *nfsconn.Pool
	Hints    *urlhint.Registry
	Prefetch PrefetchFunc
	metrics  Metrics
}

// NewFilesystem wires the three components together. Prefetch may be nil,
// in which case no prefetch hints are ever fired.
func NewFilesystem(cache *blockcache.Cache, pool *nfsconn.Pool, hints *urlhint.Registry, prefetch PrefetchFunc) *Filesystem {
	return NewFilesystemWithMetrics(cache, pool, hints, prefetch, nil)
}

// NewFilesystemWithMetrics is NewFilesystem with an explicit metrics sink.
func NewFilesystemWithMetrics(cache *blockcache.Cache, pool *nfsconn.Pool, hints *urlhint.Registry, prefetch PrefetchFunc, metrics Metrics) *Filesystem {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Filesystem{Cache: cache, Pool: pool, Hints: hints, Prefetch: prefetch, metrics: metrics}
}

// File is one open handle, analogous to the original RetroNfsFile. It holds
// its own cursor; all reads/writes against the network go through the
// handle's connection mutex.
type File struct {
	fs      *Filesystem
	handle  nfsconn.Handle
	fh      nfsconn.FileRef
	path    string // relative path on the export, for logging
	statKey string // key under which this file's attrs live in fs.Pool.Stats
	size    uint64
	offset  uint64
}

// statCacheKey builds the key a path's attributes are stored under in the
// pool's shared stat cache: the stat cache is keyed process-wide, so server
// and export must be folded in alongside the relative path to avoid
// collisions between identically-named files on different exports.
func statCacheKey(server, export, relativePath string) string {
	return server + ":" + export + ":" + relativePath
}

// Whence values mirroring io.Seeker / RETRO_VFS_SEEK_POSITION_*.
const (
	SeekStart   = 0
	SeekCurrent = 1
	SeekEnd     = 2
)

// Open resolves path via the hint registry, acquires a pooled connection,
// and opens the file. writable requests read/write access.
func (fs *Filesystem) Open(ctx context.Context, path string, writable bool) (*File, error) {
	hint, err := fs.Hints.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("vfs: resolve %s: %w", path, err)
	}

	handle, err := fs.Pool.Acquire(ctx, hint.Server, hint.Export)
	if err != nil {
		return nil, fmt.Errorf("vfs: acquire %s:%s: %w", hint.Server, hint.Export, err)
	}

	handle.Mutex.Lock()
	fh, err := handle.Context.Open(ctx, hint.RelativePath, writable)
	handle.Mutex.Unlock()
	if err != nil {
		handle.Release()
		return nil, fmt.Errorf("vfs: open %s: %w", path, err)
	}

	statKey := statCacheKey(hint.Server, hint.Export, hint.RelativePath)
	attr, err := fs.Pool.Getattr(ctx, handle, statKey, hint.RelativePath)
	if err != nil {
		handle.Release()
		return nil, fmt.Errorf("vfs: stat %s: %w", path, err)
	}

	return &File{
		fs:      fs,
		handle:  handle,
		fh:      fh,
		path:    hint.RelativePath,
		statKey: statKey,
		size:    attr.Size,
	}, nil
}

// Stat resolves path via the hint registry and returns its metadata,
// consulting the pool's stat cache before issuing a network GETATTR. Unlike
// Open, this never opens a file handle.
func (fs *Filesystem) Stat(ctx context.Context, path string) (nfsconn.Attr, error) {
	hint, err := fs.Hints.Resolve(path)
	if err != nil {
		return nfsconn.Attr{}, fmt.Errorf("vfs: resolve %s: %w", path, err)
	}

	handle, err := fs.Pool.Acquire(ctx, hint.Server, hint.Export)
	if err != nil {
		return nfsconn.Attr{}, fmt.Errorf("vfs: acquire %s:%s: %w", hint.Server, hint.Export, err)
	}
	defer handle.Release()

	statKey := statCacheKey(hint.Server, hint.Export, hint.RelativePath)
	attr, err := fs.Pool.Getattr(ctx, handle, statKey, hint.RelativePath)
	if err != nil {
		return nfsconn.Attr{}, fmt.Errorf("vfs: stat %s: %w", path, err)
	}
	return attr, nil
}

func (f *File) Close(ctx context.Context) error {
	f.handle.Mutex.Lock()
	err := f.handle.Context.Close(ctx, f.fh)
	f.handle.Mutex.Unlock()
	f.handle.Release()
	return err
}

func (f *File) Size() int64 { return int64(f.size) }

func (f *File) Tell() int64 { return int64(f.offset) }

func (f *File) Seek(offset int64, whence int) int64 {
	target := int64(f.offset)
	switch whence {
	case SeekStart:
		target = offset
	case SeekCurrent:
		target += offset
	case SeekEnd:
		target = int64(f.size) + offset
	}
	if target < 0 {
		target = 0
	}
	if target > int64(f.size) {
		target = int64(f.size)
	}
	f.offset = uint64(target)
	return target
}

func (f *File) Flush() error { return nil }

// Read implements the hybrid cache/wait/sync-fallback/backfill algorithm.
// See Filesystem.readAt for the full walkthrough.
func (f *File) Read(ctx context.Context, out []byte) (int, error) {
	n, err := f.fs.readAt(ctx, f.handle, f.fh, f.path, f.offset, out)
	f.offset += uint64(n)
	return n, err
}

// Write issues a synchronous write-through and invalidates every block the
// write spans, per the write-invalidate policy: the cache never holds data
// the network copy no longer matches.
func (f *File) Write(ctx context.Context, data []byte) (int, error) {
	f.handle.Mutex.Lock()
	n, err := f.handle.Context.Pwrite(ctx, f.fh, data, int64(f.offset))
	f.handle.Mutex.Unlock()
	if err != nil {
		return n, fmt.Errorf("vfs: write %s: %w", f.path, err)
	}

	if n > 0 {
		startBlock := f.offset / blockcache.BlockSize
		endBlock := (f.offset + uint64(n) - 1) / blockcache.BlockSize
		for b := startBlock; b <= endBlock; b++ {
			f.fs.Cache.Invalidate(b)
		}
		f.fs.Pool.Stats.Invalidate(f.statKey)
		f.offset += uint64(n)
		if f.offset > f.size {
			f.size = f.offset
		}
	}
	return n, nil
}

// readAt is split out of File.Read so it only needs the pieces of a File it
// actually touches, making it easy to unit test against a fake
// nfsconn.NetworkContext without a full Filesystem/Open round trip.
func (fs *Filesystem) readAt(ctx context.Context, handle nfsconn.Handle, fh nfsconn.FileRef, path string, offset uint64, out []byte) (int, error) {
	length := len(out)
	if length == 0 {
		return 0, nil
	}

	startBlock := offset / blockcache.BlockSize
	fs.firePrefetch(startBlock)
	fs.firePrefetch(startBlock + 1)
	fs.firePrefetch(startBlock + 2)

	totalRead := 0

	for totalRead < length {
		currentPos := offset + uint64(totalRead)
		n := fs.Cache.Read(currentPos, out[totalRead:])

		if n > 0 {
			totalRead += n
			if totalRead >= length {
				break
			}

			missingBlock := (offset + uint64(totalRead)) / blockcache.BlockSize
			if fs.waitForBlock(missingBlock) {
				continue
			}
			// Timed out with bytes already in hand: return the partial read
			// now rather than blocking further on a synchronous fallback.
			fs.metrics.ObservePartialRead(length, totalRead)
			return totalRead, nil
		}

		// n == blockcache.Miss: nothing copied yet for this position.
		missingBlock := currentPos / blockcache.BlockSize
		if fs.waitForBlock(missingBlock) {
			continue
		}
		// Timed out with nothing copied yet: fall through to the
		// synchronous fallback below rather than returning an empty read.
		break
	}

	if totalRead < length {
		remaining := length - totalRead
		currentPos := offset + uint64(totalRead)

		handle.Mutex.Lock()
		n, err := handle.Context.Pread(ctx, fh, out[totalRead:totalRead+remaining], int64(currentPos))
		handle.Mutex.Unlock()
		fs.metrics.ObserveSyncFallback(remaining, n)

		if err != nil && totalRead == 0 {
			return 0, fmt.Errorf("vfs: read %s: %w", path, err)
		}

		if n > 0 {
			fs.backfill(currentPos, out[totalRead:totalRead+n])
			totalRead += n
		}
	}

	if totalRead < length {
		fs.metrics.ObservePartialRead(length, totalRead)
	}

	if totalRead == 0 {
		return 0, nil
	}
	return totalRead, nil
}

func (fs *Filesystem) waitForBlock(blockID uint64) bool {
	timeout := sharedTimeout.current()
	start := time.Now()
	ok := fs.Cache.WaitFor(blockID, timeout)
	elapsed := time.Since(start)

	if ok {
		sharedTimeout.recordFastWait(elapsed)
	} else {
		sharedTimeout.recordTimeout()
	}
	return ok
}

// backfill inserts every whole block spanned by a synchronous read into the
// cache. When the whole read was shorter than one block, it also fires a
// prefetch hint for each block the read touched (too little to backfill,
// worth warming for next time); a longer read fires no hints for the
// partially covered blocks at its ends.
func (fs *Filesystem) backfill(pos uint64, data []byte) {
	end := pos + uint64(len(data))
	firstBlock := pos / blockcache.BlockSize
	lastBlock := (end - 1) / blockcache.BlockSize

	for b := firstBlock; b <= lastBlock; b++ {
		blockStart := b * blockcache.BlockSize
		blockEnd := blockStart + blockcache.BlockSize

		if pos <= blockStart && end >= blockEnd {
			offset := blockStart - pos
			fs.Cache.Put(b, data[offset:offset+blockcache.BlockSize])
		} else if len(data) < blockcache.BlockSize {
			fs.firePrefetch(b)
		}
	}
}

func (fs *Filesystem) firePrefetch(blockID uint64) {
	if fs.Prefetch == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("vfs: prefetch callback panicked for block %d: %v", blockID, r)
		}
	}()
	fs.Prefetch(blockID)
}
