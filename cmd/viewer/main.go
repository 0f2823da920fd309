package main

import (
	"context"
	"flag"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"voxelstream.ai/internal/instancing"
	"voxelstream.ai/internal/stream"
	"voxelstream.ai/internal/tuning"
)

func main() {
	var (
		server     = flag.String("server", "http://127.0.0.1:8080", "chunk server base url")
		mode       = flag.String("transport", "http", "chunk transport: http or ws")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed       = flag.String("seed", "", "override the world seed")
		radius     = flag.Int("radius", -1, "override the view radius")

		speed    = flag.Float64("speed", 30, "viewpoint speed in blocks per second")
		heading  = flag.Float64("heading", 0, "walk heading in degrees (0 = +x)")
		tick     = flag.Duration("tick", 50*time.Millisecond, "frame interval")
		duration = flag.Duration("duration", 0, "stop after this long (0 = until interrupted)")
		report   = flag.Duration("report", 5*time.Second, "stats interval")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.LoadOrDefault(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	params := tune.Params()
	if *seed != "" {
		params.Seed = *seed
	}
	viewRadius := tune.Stream.ViewRadius
	if *radius >= 0 {
		viewRadius = *radius
	}

	ctx, cancel := signalContext()
	defer cancel()
	if *duration > 0 {
		var c2 context.CancelFunc
		ctx, c2 = context.WithTimeout(ctx, *duration)
		defer c2()
	}

	timeout := time.Duration(tune.Stream.FetchTimeoutMs) * time.Millisecond
	var acq stream.Acquirer
	switch *mode {
	case "http":
		acq = stream.NewHTTPAcquirer(*server, stream.WithHTTPClient(&http.Client{Timeout: timeout}))
	case "ws":
		url := "ws" + strings.TrimPrefix(strings.TrimRight(*server, "/"), "http") + "/v1/ws"
		wsa, err := stream.DialWS(ctx, url, "viewer", params, tune.Stream.MaxInflight)
		if err != nil {
			// Every chunk falls back to local synthesis.
			logger.Printf("ws dial: %v; running offline", err)
			break
		}
		defer wsa.Close()
		logger.Printf("ws session=%s", wsa.SessionID())
		acq = wsa
	default:
		logger.Fatalf("unknown -transport %q", *mode)
	}

	scene := stream.NewMemoryScene()
	mgr := stream.NewManager(stream.Config{
		Params:  params,
		Radius:  viewRadius,
		Workers: tune.Stream.MaxInflight,
	}, acq, scene,
		stream.WithLogger(logger),
		stream.WithRegistry(instancing.NewDefaultRegistry()),
		stream.WithBillboards(instancing.Flowers(), instancing.BillboardOptions{}),
	)
	defer mgr.Close()

	logger.Printf("streaming seed=%q size=%d radius=%d via %s", params.Seed, params.Size, viewRadius, *mode)

	anchors := make(chan stream.Key, 1)
	go walk(ctx, anchors, params.Size, *speed, *heading, *tick, logger)

	statsTicker := time.NewTicker(*report)
	defer statsTicker.Stop()
	runDone := make(chan error, 1)
	runCtx, stopRun := context.WithCancel(ctx)
	go func() { runDone <- mgr.Run(runCtx, anchors) }()

	for {
		select {
		case <-statsTicker.C:
			logStats(logger, mgr, scene)
		case err := <-runDone:
			stopRun()
			if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
				logger.Printf("manager stopped: %v", err)
			}
			logStats(logger, mgr, scene)
			return
		}
	}
}

// walk moves the viewpoint in a straight line and sends the anchor whenever it
// crosses a chunk boundary.
func walk(ctx context.Context, anchors chan<- stream.Key, size int, speed, headingDeg float64, tick time.Duration, logger *log.Logger) {
	tr := stream.NewTracker(size)
	t := time.NewTicker(tick)
	defer t.Stop()
	var x, z float64
	rad := headingDeg * math.Pi / 180
	for {
		if k, changed := tr.Update(x, z); changed {
			logger.Printf("anchor %s (pos %.1f,%.1f)", k, x, z)
			select {
			case anchors <- k:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		x, z = step(x, z, speed, rad, tick)
	}
}

func step(x, z, speed, rad float64, dt time.Duration) (float64, float64) {
	d := speed * dt.Seconds()
	return x + d*math.Cos(rad), z + d*math.Sin(rad)
}

func logStats(logger *log.Logger, mgr *stream.Manager, scene *stream.MemoryScene) {
	st := mgr.Stats()
	logger.Printf("loaded=%d inflight=%d remote=%s fallback=%s failed=%d pruned=%s instances=%s",
		st.Loaded, st.InFlight,
		humanize.Comma(int64(st.Remote)), humanize.Comma(int64(st.Fallbacks)),
		st.Failed, humanize.Comma(int64(st.Pruned)),
		humanize.Comma(int64(scene.Instances())))
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
