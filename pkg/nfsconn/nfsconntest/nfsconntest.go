// Package nfsconntest provides an in-memory fake NetworkContext for tests
// that exercise the connection pool and VFS read path without a real NFS
// server.
package nfsconntest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/retrofs/nfsvfs/pkg/nfsconn"
)

// ErrNotFound is returned by Open/Getattr for a path that was never seeded.
var ErrNotFound = errors.New("nfsconntest: not found")

type file struct {
	data []byte
	mode uint32
}

type fileRef struct {
	path string
}

// Context is a fake NetworkContext backed by an in-memory map of path ->
// bytes. The MountDelay and FailMount knobs let tests exercise the pool's
// double-checked-insert race and its mount-failure path.
type Context struct {
	mu    sync.Mutex
	files map[string]*file

	MountDelay time.Duration
	FailMount  bool

	mounted bool
	server  string
	export  string
}

// New returns an empty fake context.
func New() *Context {
	return &Context{files: make(map[string]*file)}
}

// Seed registers relativePath with the given content, as if it already
// existed on the remote export.
func (c *Context) Seed(relativePath string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[relativePath] = &file{data: append([]byte(nil), data...), mode: 0o644}
}

func (c *Context) Mount(ctx context.Context, server, export string) error {
	if c.MountDelay > 0 {
		select {
		case <-time.After(c.MountDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.FailMount {
		return fmt.Errorf("simulated mount failure")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounted = true
	c.server, c.export = server, export
	return nil
}

func (c *Context) Open(ctx context.Context, relativePath string, writable bool) (nfsconn.FileRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[relativePath]; !ok {
		if !writable {
			return nil, ErrNotFound
		}
		c.files[relativePath] = &file{mode: 0o644}
	}
	return fileRef{path: relativePath}, nil
}

func (c *Context) Pread(ctx context.Context, fh nfsconn.FileRef, buf []byte, offset int64) (int, error) {
	ref := fh.(fileRef)
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[ref.path]
	if !ok {
		return 0, ErrNotFound
	}
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (c *Context) Pwrite(ctx context.Context, fh nfsconn.FileRef, data []byte, offset int64) (int, error) {
	ref := fh.(fileRef)
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[ref.path]
	if !ok {
		return 0, ErrNotFound
	}
	end := offset + int64(len(data))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:], data)
	return len(data), nil
}

func (c *Context) Getattr(ctx context.Context, relativePath string) (nfsconn.Attr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[relativePath]
	if !ok {
		return nfsconn.Attr{}, ErrNotFound
	}
	return nfsconn.Attr{Size: uint64(len(f.data)), Mode: f.mode, ModTime: time.Now()}, nil
}

func (c *Context) Close(ctx context.Context, fh nfsconn.FileRef) error {
	return nil
}

func (c *Context) Unmount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounted = false
	return nil
}
