package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"voxelstream.ai/internal/chunkcache"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/transport"
	"voxelstream.ai/internal/transport/api"
	"voxelstream.ai/internal/transport/ws"
	"voxelstream.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "run the cache memory-only and skip the request index")
		disableLog = flag.Bool("disable_request_log", false, "do not write the zstd JSONL request log")

		snapIn  = flag.String("snapshot_in", "", "warm the cache from this snapshot (optional)")
		snapOut = flag.String("snapshot_out", "", "write a cache snapshot here on shutdown (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.LoadOrDefault(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	defaults := tune.Params()
	logger.Printf("chunk defaults size=%d seed=%q base=%s", defaults.Size, defaults.Seed, defaults.Base)

	ctx, cancel := signalContext()
	defer cancel()

	backend, kind, err := openBackend(ctx, *dataDir, tune, *disableDB)
	if err != nil {
		logger.Fatalf("open cache backend: %v", err)
	}
	logger.Printf("cache backend=%s max_entries=%d", kind, tune.Cache.MaxEntries)

	opts := chunkcache.Options{
		MaxEntries: tune.Cache.MaxEntries,
		Logger:     logger,
	}
	if backend != nil {
		opts.Store = backend
	}
	cache := chunkcache.New(opts)
	defer cache.Close()

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("bucket mirror: %v", err)
	}
	if mirror != nil {
		logger.Printf("bucket mirror enabled")
	}

	if p := strings.TrimSpace(*snapIn); p != "" {
		n, size, err := warmFromSnapshot(cache, p)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		logger.Printf("warmed %d chunks (%s) from %s", n, humanize.Bytes(uint64(size)), filepath.Base(p))
	}

	sink := &requestSink{index: backend, logger: logger}
	if !*disableLog {
		sink.log = persistlog.NewRequestLogger(*dataDir)
		if mirror != nil {
			sink.log.OnClose(mirror.Enqueue)
		}
	}

	srv := &server{
		cache:   cache,
		backend: backend,
		sink:    sink,
		mirror:  mirror,
		dataDir: *dataDir,
		logger:  logger,
		api: api.NewHandler(cache, api.Options{
			Logger:   logger,
			Observer: transport.Observer(sink),
			Defaults: &defaults,
		}),
		ws: ws.NewServer(cache, ws.Options{
			Logger:      logger,
			Observer:    transport.Observer(sink),
			Defaults:    &defaults,
			MaxInflight: tune.Stream.MaxInflight * 8,
		}),
		enableAdmin: envBool("VS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
	}
	if !srv.enableAdmin {
		logger.Printf("admin endpoints disabled (VS_ENABLE_ADMIN_HTTP=false)")
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return httpSrv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		logger.Printf("server stopped: %v", err)
	}

	if p := strings.TrimSpace(*snapOut); p != "" {
		n, size, err := writeSnapshot(cache, p)
		if err != nil {
			logger.Printf("snapshot write: %v", err)
		} else {
			logger.Printf("wrote %d chunks (%s) to %s", n, humanize.Bytes(uint64(size)), p)
			mirror.Enqueue(p)
		}
	}
	if sink.log != nil {
		_ = sink.log.Close()
	}
	mirror.Close()
	st := cache.Stats()
	logger.Printf("shutdown: %s chunks cached, %s served from memory, %s generated",
		humanize.Comma(int64(st.Entries)), humanize.Comma(int64(st.MemoryHits)), humanize.Comma(int64(st.Misses)))
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
