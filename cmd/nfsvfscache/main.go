// Command nfsvfscache runs the VFS cache shim as a standalone process: it
// serves the exports named in its config, reads going through the block
// cache / connection pool / sync fallback, and exposes Prometheus metrics.
// Each configured export is mounted on the first open or stat that needs
// it; startup only registers the configured path hints.
//
// It also exposes a small line-oriented debug surface on stdin/stdout,
// standing in for the host runtime (a libretro core) that would otherwise
// drive pkg/vfs directly: "open <path>", "read <path> <offset> <len>",
// "stat <path>", "close <path>", "quit".
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retrofs/nfsvfs/internal/logger"
	"github.com/retrofs/nfsvfs/pkg/blockcache"
	"github.com/retrofs/nfsvfs/pkg/config"
	"github.com/retrofs/nfsvfs/pkg/filler"
	"github.com/retrofs/nfsvfs/pkg/metrics"
	"github.com/retrofs/nfsvfs/pkg/nfsconn"
	"github.com/retrofs/nfsvfs/pkg/nfsv3"
	"github.com/retrofs/nfsvfs/pkg/statcache"
	"github.com/retrofs/nfsvfs/pkg/urlhint"
	"github.com/retrofs/nfsvfs/pkg/vfs"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to the XDG config dir)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("nfsvfscache: config: %v", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.Info("nfsvfscache: starting, cache=%d bytes, mounts=%d", cfg.Cache.CapacityBytes, len(cfg.Mounts))

	vfs.ConfigureTimeoutBounds(cfg.Cache.MinTimeoutMs, cfg.Cache.MaxTimeoutMs)
	statcache.SetTTL(cfg.Connection.StatTTL)

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		go serveMetrics(cfg.Metrics.Addr)
	}

	cache := blockcache.NewWithMetrics(cfg.Cache.CapacityBytes, metrics.NewCacheMetrics())

	pool := nfsconn.NewWithMetrics(func() nfsconn.NetworkContext {
		return nfsv3.New()
	}, metrics.NewPoolMetrics())
	nfsv3.DialTimeout = cfg.Connection.DialTimeout

	hints := urlhint.NewRegistry()
	for _, mount := range cfg.Mounts {
		for _, h := range mount.Hints {
			hints.AddPathHint(h.FullPath, mount.Server, mount.Export, h.RelativePath)
		}
	}

	fillPool := filler.New(cache, filler.Config{})
	fillPool.Start()

	fs := vfs.NewFilesystemWithMetrics(cache, pool, hints, nil, metrics.NewVFSMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stdinDone := make(chan struct{})
	go func() {
		defer close(stdinDone)
		runDebugShell(ctx, fs)
	}()

	logger.Info("nfsvfscache: running, type 'quit' or press Ctrl+C to stop")
	select {
	case <-sigCh:
	case <-stdinDone:
	}

	logger.Info("nfsvfscache: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Connection.DialTimeout)
	defer shutdownCancel()

	if err := fillPool.Stop(shutdownCtx); err != nil {
		logger.Warn("nfsvfscache: filler stop: %v", err)
	}
	pool.Shutdown(shutdownCtx)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	logger.Info("nfsvfscache: metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("nfsvfscache: metrics server: %v", fmt.Errorf("listen %s: %w", addr, err))
	}
}

// runDebugShell is the stand-in control surface a host runtime would
// otherwise replace with direct calls into pkg/vfs. It keeps at most one
// open File per path for the lifetime of the process.
func runDebugShell(ctx context.Context, fs *vfs.Filesystem) {
	open := make(map[string]*vfs.File)
	defer func() {
		for _, f := range open {
			f.Close(ctx)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return

		case "open":
			if len(fields) != 2 {
				fmt.Println("usage: open <path>")
				continue
			}
			f, err := fs.Open(ctx, fields[1], false)
			if err != nil {
				fmt.Printf("open: %v\n", err)
				continue
			}
			if prev, ok := open[fields[1]]; ok {
				prev.Close(ctx)
			}
			open[fields[1]] = f
			fmt.Printf("ok size=%d\n", f.Size())

		case "stat":
			if len(fields) != 2 {
				fmt.Println("usage: stat <path>")
				continue
			}
			attr, err := fs.Stat(ctx, fields[1])
			if err != nil {
				fmt.Printf("stat: %v\n", err)
				continue
			}
			fmt.Printf("size=%d mode=%o dir=%v\n", attr.Size, attr.Mode, attr.IsDir)

		case "read":
			if len(fields) != 4 {
				fmt.Println("usage: read <path> <offset> <len>")
				continue
			}
			f, ok := open[fields[1]]
			if !ok {
				fmt.Println("read: not open")
				continue
			}
			offset, err1 := strconv.ParseInt(fields[2], 10, 64)
			length, err2 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil || length < 0 {
				fmt.Println("read: bad offset/len")
				continue
			}
			f.Seek(offset, vfs.SeekStart)
			buf := make([]byte, length)
			n, err := f.Read(ctx, buf)
			if err != nil {
				fmt.Printf("read: %v\n", err)
				continue
			}
			fmt.Printf("ok bytes=%d\n", n)

		case "close":
			if len(fields) != 2 {
				fmt.Println("usage: close <path>")
				continue
			}
			f, ok := open[fields[1]]
			if !ok {
				fmt.Println("close: not open")
				continue
			}
			if err := f.Close(ctx); err != nil {
				fmt.Printf("close: %v\n", err)
			}
			delete(open, fields[1])

		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}
