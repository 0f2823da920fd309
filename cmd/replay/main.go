package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/chunkcache"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/snapshot"
	"voxelstream.ai/internal/terrain"
)

func main() {
	var (
		snapPath    = flag.String("snapshot", "", "path to .snap.zst to re-synthesize and verify (optional)")
		requestsDir = flag.String("requests", "", "dir containing requests-*.jsonl.zst to replay against a cache (optional)")
		maxEntries  = flag.Int("max_entries", 4096, "cache capacity for request replay (0 = unbounded)")
	)
	flag.Parse()

	if *snapPath == "" && *requestsDir == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot or -requests")
		os.Exit(2)
	}

	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d created=%s source=%s entries=%d\n",
			snap.Header.Version, snap.Header.CreatedAt, snap.Header.Source, len(snap.Entries))
		checked, err := verifySnapshot(snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		fmt.Printf("verify ok: checked=%d chunks\n", checked)
	}

	if *requestsDir != "" {
		files, err := listRequestFiles(*requestsDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list requests:", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			fmt.Fprintln(os.Stderr, "no request files found in", *requestsDir)
			os.Exit(1)
		}
		res, err := replayRequests(files, *maxEntries)
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		fmt.Printf("replay ok: requests=%s distinct=%s hits=%s misses=%s hit_ratio=%.3f evictions=%s\n",
			humanize.Comma(int64(res.Requests)), humanize.Comma(int64(res.Distinct)),
			humanize.Comma(int64(res.Hits)), humanize.Comma(int64(res.Misses)),
			res.HitRatio(), humanize.Comma(int64(res.Evictions)))
	}
}

// verifySnapshot re-synthesizes every entry from its key and checks that bytes
// and validator still match.
func verifySnapshot(snap snapshot.SnapshotV1) (int, error) {
	checked := 0
	for _, e := range snap.Entries {
		p, err := terrain.ParseKey(e.Key)
		if err != nil {
			return checked, err
		}
		if p.Size != e.Size {
			return checked, fmt.Errorf("size mismatch for %q: key=%d entry=%d", e.Key, p.Size, e.Size)
		}
		if want := chunkcache.ETag(p); e.ETag != want {
			return checked, fmt.Errorf("etag mismatch for %q: got=%s want=%s", e.Key, e.ETag, want)
		}
		if got := terrain.Synthesize(p).Bytes(); !bytes.Equal(got, e.Data) {
			return checked, fmt.Errorf("grid mismatch for %q", e.Key)
		}
		checked++
	}
	return checked, nil
}

func listRequestFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "requests-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type replayResult struct {
	Requests  uint64
	Distinct  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

func (r replayResult) HitRatio() float64 {
	if r.Requests == 0 {
		return 0
	}
	return float64(r.Hits) / float64(r.Requests)
}

// replayRequests feeds every successfully served key through a cache of the
// given capacity. Grids are not synthesized; only hit accounting matters here.
func replayRequests(files []string, maxEntries int) (replayResult, error) {
	cache := chunkcache.New(chunkcache.Options{
		MaxEntries: maxEntries,
		Generate: func(p terrain.Params) terrain.Grid {
			return terrain.NewGrid(p.Size, terrain.Air)
		},
	})
	defer cache.Close()

	var res replayResult
	seen := map[string]struct{}{}
	ctx := context.Background()
	for _, path := range files {
		if err := replayFile(ctx, cache, path, seen, &res); err != nil {
			return res, err
		}
	}
	st := cache.Stats()
	res.Distinct = len(seen)
	res.Hits = st.MemoryHits
	res.Misses = st.Misses
	res.Evictions = st.Evictions
	return res, nil
}

func replayFile(ctx context.Context, cache *chunkcache.Cache, path string, seen map[string]struct{}, res *replayResult) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var entry persistlog.RequestEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if entry.Status != 200 || entry.Key == "" {
			continue
		}
		p, err := terrain.ParseKey(entry.Key)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if _, err := cache.Get(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		seen[entry.Key] = struct{}{}
		res.Requests++
	}
	return sc.Err()
}
