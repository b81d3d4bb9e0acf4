package nfsv3

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/retrofs/nfsvfs/internal/logger"
	"github.com/retrofs/nfsvfs/pkg/nfsconn"
)

// DialTimeout bounds the single TCP connect that MOUNT and NFS calls share.
var DialTimeout = 10 * time.Second

// Port is the well-known NFSv3 data port. The MOUNT protocol classically
// runs behind rpcbind on a separate, dynamically-assigned port; this client
// assumes the common simplified deployment where both protocols are served
// on the same TCP port.
const Port = 2049

type fileRef struct {
	handle []byte
	path   string
}

// Context is the production nfsconn.NetworkContext: one TCP connection
// speaking MOUNT+NFSv3 against a single server:export.
type Context struct {
	mu         sync.Mutex
	t          *transport
	rootHandle []byte
	server     string
	export     string

	// handleCache avoids a fresh LOOKUP walk for every Open of a path
	// already resolved once during this mount's lifetime.
	handleCache map[string][]byte
}

// New returns an unmounted client context. Satisfies nfsconn.Factory.
func New() *Context {
	return &Context{handleCache: make(map[string][]byte)}
}

func (c *Context) Mount(ctx context.Context, server, export string) error {
	addr := fmt.Sprintf("%s:%d", server, Port)
	t, err := dial(ctx, addr, DialTimeout)
	if err != nil {
		return fmt.Errorf("nfsv3: dial %s: %w", addr, err)
	}

	root, err := mount(t, export)
	if err != nil {
		t.close()
		return fmt.Errorf("nfsv3: mount %s:%s: %w", server, export, err)
	}

	c.t = t
	c.rootHandle = root
	c.server = server
	c.export = export
	c.handleCache = make(map[string][]byte)
	logger.Info("nfsv3: mounted %s:%s", server, export)
	return nil
}

// resolve walks relativePath one LOOKUP per component starting from the
// root handle, caching the resolved handle for reuse on later opens of the
// same path.
func (c *Context) resolve(relativePath string) ([]byte, error) {
	clean := path.Clean("/" + relativePath)
	if h, ok := c.handleCache[clean]; ok {
		return h, nil
	}

	handle := c.rootHandle
	parts := strings.Split(strings.Trim(clean, "/"), "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		fh, _, err := lookup(c.t, handle, part)
		if err != nil {
			return nil, err
		}
		handle = fh
	}

	c.handleCache[clean] = handle
	return handle, nil
}

func (c *Context) Open(ctx context.Context, relativePath string, writable bool) (nfsconn.FileRef, error) {
	handle, err := c.resolve(relativePath)
	if err != nil {
		return nil, fmt.Errorf("nfsv3: open %s: %w", relativePath, err)
	}
	return fileRef{handle: handle, path: relativePath}, nil
}

func (c *Context) Pread(ctx context.Context, fh nfsconn.FileRef, buf []byte, offset int64) (int, error) {
	ref, ok := fh.(fileRef)
	if !ok {
		return 0, fmt.Errorf("nfsv3: invalid file reference")
	}

	total := 0
	for total < len(buf) {
		data, eof, err := read(c.t, ref.handle, uint64(offset)+uint64(total), uint32(len(buf)-total))
		if err != nil {
			return total, fmt.Errorf("nfsv3: pread %s: %w", ref.path, err)
		}
		n := copy(buf[total:], data)
		total += n
		if eof || n == 0 {
			break
		}
	}
	return total, nil
}

func (c *Context) Pwrite(ctx context.Context, fh nfsconn.FileRef, data []byte, offset int64) (int, error) {
	ref, ok := fh.(fileRef)
	if !ok {
		return 0, fmt.Errorf("nfsv3: invalid file reference")
	}

	total := 0
	for total < len(data) {
		n, err := write(c.t, ref.handle, uint64(offset)+uint64(total), data[total:])
		if err != nil {
			return total, fmt.Errorf("nfsv3: pwrite %s: %w", ref.path, err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

func (c *Context) Getattr(ctx context.Context, relativePath string) (nfsconn.Attr, error) {
	handle, err := c.resolve(relativePath)
	if err != nil {
		return nfsconn.Attr{}, fmt.Errorf("nfsv3: getattr %s: %w", relativePath, err)
	}
	a, err := getattr(c.t, handle)
	if err != nil {
		return nfsconn.Attr{}, fmt.Errorf("nfsv3: getattr %s: %w", relativePath, err)
	}
	return nfsconn.Attr{
		Size:    a.Size,
		Mode:    a.Mode,
		IsDir:   a.Type == nf3Dir,
		ModTime: a.Mtime.toTime(),
	}, nil
}

func (c *Context) Close(ctx context.Context, fh nfsconn.FileRef) error {
	// NFSv3 is stateless: there is no server-side open file object to
	// release, unlike POSIX close(2). Nothing to do.
	return nil
}

func (c *Context) Unmount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.t == nil {
		return nil
	}
	if err := umount(c.t, c.export); err != nil {
		logger.Warn("nfsv3: umount %s: %v", c.export, err)
	}
	err := c.t.close()
	c.t = nil
	return err
}
