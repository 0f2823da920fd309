package chunkdb

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"
)

// tsLayout is fixed width so that ts sorts lexically.
const tsLayout = "2006-01-02T15:04:05.000000Z"

// RequestRow is one served chunk request.
type RequestRow struct {
	ID         string    `json:"id"`
	TS         time.Time `json:"ts"`
	Key        string    `json:"key"`
	CX         int       `json:"cx"`
	CY         int       `json:"cy"`
	CZ         int       `json:"cz"`
	Status     int       `json:"status"`
	Source     string    `json:"source"`
	DurationMS float64   `json:"duration_ms"`
}

// requestWriter batches request rows into the database from a single
// goroutine. Rows are dropped when the queue is full; the JSONL request log
// stays the complete record.
type requestWriter struct {
	db     *sql.DB
	insert string

	mu      sync.RWMutex
	closed  bool
	ch      chan RequestRow
	wg      sync.WaitGroup
	dropped atomic.Uint64
	written atomic.Uint64
}

func newRequestWriter(db *sql.DB, insert string, queue int) *requestWriter {
	w := &requestWriter{db: db, insert: insert, ch: make(chan RequestRow, queue)}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
	return w
}

func (w *requestWriter) record(r RequestRow) {
	if w == nil {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- r:
	default:
		w.dropped.Add(1)
	}
}

func (w *requestWriter) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *requestWriter) loop() {
	ctx := context.Background()
	stmt, err := w.db.Prepare(w.insert)
	if err != nil {
		for range w.ch {
			w.dropped.Add(1)
		}
		return
	}
	defer stmt.Close()

	exec := func(tx *sql.Tx, r RequestRow) {
		if _, err := tx.Stmt(stmt).ExecContext(ctx,
			r.ID,
			r.TS.UTC().Format(tsLayout),
			r.Key,
			r.CX, r.CY, r.CZ,
			r.Status,
			r.Source,
			r.DurationMS,
		); err != nil {
			w.dropped.Add(1)
			return
		}
		w.written.Add(1)
	}

	for r := range w.ch {
		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			w.dropped.Add(1)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		exec(tx, r)
		// Drain whatever else is queued into the same transaction.
	drain:
		for i := 0; i < 512; i++ {
			select {
			case more, ok := <-w.ch:
				if !ok {
					break drain
				}
				exec(tx, more)
			default:
				break drain
			}
		}
		_ = tx.Commit()
	}
}

func scanRequests(rows *sql.Rows) ([]RequestRow, error) {
	defer rows.Close()
	var out []RequestRow
	for rows.Next() {
		var (
			r  RequestRow
			ts string
		)
		if err := rows.Scan(&r.ID, &ts, &r.Key, &r.CX, &r.CY, &r.CZ, &r.Status, &r.Source, &r.DurationMS); err != nil {
			return nil, err
		}
		r.TS, _ = time.Parse(tsLayout, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
