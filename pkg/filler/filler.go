// Package filler provides a background worker pool that turns block-id
// prefetch hints into actual network reads that populate the block cache
// ahead of time.
//
// The worker lifecycle is a stop/done channel pair around a goroutine,
// draining a work queue instead of firing on a ticker: prefetch work
// arrives continuously as hints rather than on a schedule.
package filler

import (
	"context"
	"sync"
	"time"

	"github.com/retrofs/nfsvfs/internal/logger"
	"github.com/retrofs/nfsvfs/pkg/blockcache"
	"github.com/retrofs/nfsvfs/pkg/nfsconn"
)

// Config controls the worker pool's size and queueing behavior.
type Config struct {
	// Workers is how many goroutines drain the hint queue concurrently
	// (default: 2).
	Workers int

	// QueueSize bounds how many pending hints may be buffered before new
	// hints are dropped rather than blocking the caller (default: 256).
	QueueSize int

	// FetchTimeout bounds each background Pread (default: 2s).
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 2 * time.Second
	}
	return c
}

// hint names the block to warm and the connection handle to fetch it
// through; the handle's (server, export) determines where the block lives.
type hint struct {
	blockID uint64
	handle  nfsconn.Handle
	fh      nfsconn.FileRef
}

// Pool is a bounded background prefetcher: Submit queues a hint, and the
// workers started by Start perform the actual blocking reads against the
// NFS connection and insert results into the shared block cache. Submit
// does not have the vfs.PrefetchFunc signature: besides the block ID it
// takes the connection handle and file reference to read through.
type Pool struct {
	cache  *blockcache.Cache
	config Config

	mu       sync.Mutex
	inFlight map[uint64]struct{}

	queue  chan hint
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New builds a pool that writes fetched blocks into cache. Start must be
// called before Submit does useful work.
func New(cache *blockcache.Cache, config Config) *Pool {
	config = config.withDefaults()
	return &Pool{
		cache:    cache,
		config:   config,
		inFlight: make(map[uint64]struct{}),
		queue:    make(chan hint, config.QueueSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the worker goroutines. Safe to call once; subsequent calls
// are no-ops.
func (p *Pool) Start() {
	p.once.Do(func() {
		var wg sync.WaitGroup
		wg.Add(p.config.Workers)
		for i := 0; i < p.config.Workers; i++ {
			go p.worker(&wg)
		}
		go func() {
			wg.Wait()
			close(p.doneCh)
		}()
		logger.Info("filler: started %d prefetch workers", p.config.Workers)
	})
}

// Stop signals every worker to exit, waiting up to ctx's deadline. Hints
// still in the queue are not guaranteed to be fetched.
func (p *Pool) Stop(ctx context.Context) error {
	close(p.stopCh)
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues a prefetch request for blockID through handle/fh. Already
// cached or already-queued blocks are skipped; a full queue drops the hint
// silently, matching the original shim's fire-and-forget prefetch callback,
// which never blocks the caller that fired it.
func (p *Pool) Submit(blockID uint64, handle nfsconn.Handle, fh nfsconn.FileRef) {
	if p.cache.Has(blockID) {
		return
	}

	p.mu.Lock()
	if _, queued := p.inFlight[blockID]; queued {
		p.mu.Unlock()
		return
	}
	p.inFlight[blockID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- hint{blockID: blockID, handle: handle, fh: fh}:
	default:
		p.mu.Lock()
		delete(p.inFlight, blockID)
		p.mu.Unlock()
		logger.Debug("filler: queue full, dropping prefetch hint for block %d", blockID)
	}
}

func (p *Pool) worker(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case h := <-p.queue:
			p.fetch(h)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) fetch(h hint) {
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, h.blockID)
		p.mu.Unlock()
	}()

	if p.cache.Has(h.blockID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.FetchTimeout)
	defer cancel()

	buf := make([]byte, blockcache.BlockSize)
	offset := int64(h.blockID * blockcache.BlockSize)

	h.handle.Mutex.Lock()
	n, err := h.handle.Context.Pread(ctx, h.fh, buf, offset)
	h.handle.Mutex.Unlock()

	if err != nil {
		logger.Debug("filler: prefetch block %d failed: %v", h.blockID, err)
		return
	}
	if n == 0 {
		return
	}
	if n < blockcache.BlockSize {
		clear(buf[n:])
	}
	p.cache.Put(h.blockID, buf)
}
