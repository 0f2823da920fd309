package bucket

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client a Mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type MirrorConfig struct {
	// DataDir is stripped from local paths to form object keys.
	DataDir string
	Prefix  string
	Workers int
	Queue   int
	// EnqueueWait bounds how long Enqueue blocks on a full queue before dropping.
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
	Logger      *log.Logger
}

type MirrorStats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Enqueued      uint64 `json:"enqueued"`
	Saturated     uint64 `json:"saturated"`
	Dropped       uint64 `json:"dropped"`
	Uploaded      uint64 `json:"uploaded"`
	Failed        uint64 `json:"failed"`
	LastSuccess   int64  `json:"last_success_unix"`
	LastError     int64  `json:"last_error_unix"`
}

// Mirror copies finished files (snapshots, rotated request logs) to a bucket in
// the background. A nil *Mirror is a no-op.
type Mirror struct {
	up  Uploader
	cfg MirrorConfig

	mu     sync.RWMutex
	closed bool
	jobs   chan string
	wg     sync.WaitGroup

	enqueued    atomic.Uint64
	saturated   atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
	lastError   atomic.Int64
}

func NewMirror(up Uploader, cfg MirrorConfig) *Mirror {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	cfg.Prefix = strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/")
	m := &Mirror{up: up, cfg: cfg, jobs: make(chan string, cfg.Queue)}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It never blocks longer than
// EnqueueWait and is safe to call after Close.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	m.saturated.Add(1)
	t := time.NewTimer(m.cfg.EnqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		n := m.dropped.Add(1)
		m.printf("mirror drop %s: queue full (dropped=%d)", localPath, n)
	}
}

// Close stops accepting work and waits for queued uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() MirrorStats {
	if m == nil {
		return MirrorStats{}
	}
	return MirrorStats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Enqueued:      m.enqueued.Load(),
		Saturated:     m.saturated.Load(),
		Dropped:       m.dropped.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
		LastSuccess:   m.lastSuccess.Load(),
		LastError:     m.lastError.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.ObjectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.printf("mirror skip %s: %v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			break
		}
		if attempt < m.cfg.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.cfg.Backoff)
		}
	}
	if lastErr != nil {
		m.failed.Add(1)
		m.lastError.Store(time.Now().Unix())
		m.printf("mirror upload %s failed: %v", key, lastErr)
		return
	}
	m.uploaded.Add(1)
	m.lastSuccess.Store(time.Now().Unix())
	m.printf("mirror uploaded %s", key)
}

// ObjectKey maps a file under DataDir to its bucket key.
func (m *Mirror) ObjectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty path")
	}
	base, err := filepath.Abs(m.cfg.DataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	if m.cfg.Prefix != "" {
		rel = path.Join(m.cfg.Prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Printf(format, args...)
	}
}
