package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	get "github.com/hashicorp/go-getter"
	_ "modernc.org/sqlite"

	"voxelstream.ai/internal/persistence/chunkdb"
	"voxelstream.ai/internal/persistence/snapshot"
)

func cacheDBPath(dataDir, dbPath string) string {
	if p := strings.TrimSpace(dbPath); p != "" {
		return p
	}
	return filepath.Join(dataDir, "cache", "chunks.sqlite")
}

func openStore(dataDir, dbPath string) *chunkdb.SQLiteStore {
	path := cacheDBPath(dataDir, dbPath)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	s, err := chunkdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return s
}

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	asJSON := fs.Bool("json", false, "print JSON")
	_ = fs.Parse(args)

	s := openStore(*dataDir, *dbPath)
	defer s.Close()
	st, err := s.Stats(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "stats:", err)
		os.Exit(1)
	}
	if *asJSON {
		printJSON(st)
		return
	}
	fmt.Print(formatStats(st))
}

func formatStats(st chunkdb.Stats) string {
	ratio := 0.0
	if st.StoredBytes > 0 {
		ratio = float64(st.RawBytes) / float64(st.StoredBytes)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "chunks:   %s\n", humanize.Comma(st.Chunks))
	fmt.Fprintf(&sb, "raw:      %s\n", humanize.Bytes(uint64(st.RawBytes)))
	fmt.Fprintf(&sb, "stored:   %s (%.1fx)\n", humanize.Bytes(uint64(st.StoredBytes)), ratio)
	fmt.Fprintf(&sb, "requests: %s\n", humanize.Comma(st.Requests))
	return sb.String()
}

func requestsCmd(args []string) {
	fs := flag.NewFlagSet("requests", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	summary := fs.Bool("summary", false, "group by status and source instead of listing rows")
	_ = fs.Parse(args)

	if *summary {
		db, err := sql.Open("sqlite", cacheDBPath(*dataDir, *dbPath))
		if err != nil {
			fmt.Fprintln(os.Stderr, "open:", err)
			os.Exit(1)
		}
		defer db.Close()
		rows, err := requestSummary(db)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			printJSON(r)
		}
		return
	}

	s := openStore(*dataDir, *dbPath)
	defer s.Close()
	rows, err := s.Requests(context.Background(), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

type summaryRow struct {
	Status int     `json:"status"`
	Source string  `json:"source"`
	Count  int64   `json:"count"`
	AvgMS  float64 `json:"avg_ms"`
	MaxMS  float64 `json:"max_ms"`
}

func requestSummary(db *sql.DB) ([]summaryRow, error) {
	rows, err := db.Query(`SELECT status, source, COUNT(*), AVG(duration_ms), MAX(duration_ms) FROM requests GROUP BY status, source ORDER BY status, source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []summaryRow
	for rows.Next() {
		var r summaryRow
		if err := rows.Scan(&r.Status, &r.Source, &r.Count, &r.AvgMS, &r.MaxMS); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	out := fs.String("out", "", "output snapshot path (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(os.Stderr, "missing -out")
		os.Exit(2)
	}
	s := openStore(*dataDir, *dbPath)
	defer s.Close()
	n, size, err := exportStore(context.Background(), s, *out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "export:", err)
		os.Exit(1)
	}
	fmt.Printf("export ok: chunks=%d bytes=%s out=%s\n", n, humanize.Bytes(uint64(size)), *out)
}

func exportStore(ctx context.Context, s *chunkdb.SQLiteStore, out string) (int, int64, error) {
	var entries []snapshot.EntryV1
	var size int64
	err := s.Each(ctx, func(r chunkdb.ChunkRow) error {
		entries = append(entries, snapshot.EntryV1{Key: r.Key, ETag: r.ETag, Size: r.Size, Data: r.Grid})
		size += int64(len(r.Grid))
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if err := snapshot.WriteSnapshot(out, snapshot.New("admin export", entries)); err != nil {
		return 0, 0, err
	}
	return len(entries), size, nil
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	src := fs.String("src", "", "snapshot source: local path or any go-getter url (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*src) == "" {
		fmt.Fprintln(os.Stderr, "missing -src")
		os.Exit(2)
	}
	s, err := chunkdb.OpenSQLite(cacheDBPath(*dataDir, *dbPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer s.Close()

	n, skipped, err := importSnapshot(context.Background(), s, *src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "import:", err)
		os.Exit(1)
	}
	fmt.Printf("import ok: chunks=%d skipped=%d src=%s\n", n, skipped, *src)
}

// importSnapshot fetches src into a temp file and saves every well-formed entry.
func importSnapshot(ctx context.Context, s *chunkdb.SQLiteStore, src string) (int, int, error) {
	tmp, err := os.MkdirTemp("", "voxelstream-import-")
	if err != nil {
		return 0, 0, err
	}
	defer os.RemoveAll(tmp)
	dst := filepath.Join(tmp, "import.snap.zst")

	pwd, _ := os.Getwd()
	client := &get.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  pwd,
		Mode: get.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return 0, 0, fmt.Errorf("fetch %s: %w", src, err)
	}

	snap, err := snapshot.ReadSnapshot(dst)
	if err != nil {
		return 0, 0, err
	}
	n, skipped := 0, 0
	for _, e := range snap.Entries {
		if e.Size <= 0 || len(e.Data) != e.Size*e.Size*e.Size {
			skipped++
			continue
		}
		if err := s.Save(ctx, e.Key, e.Size, e.ETag, e.Data); err != nil {
			return n, skipped, err
		}
		n++
	}
	return n, skipped, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
