package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	lines   uint64
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// OnClose registers fn to run with the path of every file the writer finishes,
// on hourly rotation and on Close.
func (w *JSONLZstdWriter) OnClose(fn func(path string)) {
	w.mu.Lock()
	w.onClose = fn
	w.mu.Unlock()
}

// Lines is the number of records written since creation.
func (w *JSONLZstdWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		path := w.f.Name()
		_ = w.f.Close()
		w.f = nil
		if w.onClose != nil {
			w.onClose(path)
		}
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// RequestEntry is one chunk request as written to the request log.
type RequestEntry struct {
	ID         string  `json:"id"`
	TS         string  `json:"ts"`
	Transport  string  `json:"transport"`
	Key        string  `json:"key"`
	CX         int     `json:"cx"`
	CY         int     `json:"cy"`
	CZ         int     `json:"cz"`
	Size       int     `json:"size"`
	Status     int     `json:"status"`
	Source     string  `json:"source,omitempty"`
	Bytes      int     `json:"bytes"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// RequestLogger writes one JSONL entry per served chunk (compressed, hourly files).
type RequestLogger struct{ w *JSONLZstdWriter }

func NewRequestLogger(dataDir string) *RequestLogger {
	return &RequestLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "requests"), "requests")}
}

func (l *RequestLogger) OnClose(fn func(path string)) { l.w.OnClose(fn) }

func (l *RequestLogger) WriteRequest(e RequestEntry) error { return l.w.Write(e) }
func (l *RequestLogger) Close() error                     { return l.w.Close() }
