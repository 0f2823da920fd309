package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	persistlog "voxelstream.ai/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "requests":
			requestsCmd(os.Args[2:])
			return
		case "log":
			logCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "purge":
			purgeCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the snapshots under the data directory, newest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	for _, p := range listSnapshots(filepath.Join(*dataDir, "snapshots")) {
		fmt.Println(p)
	}
}

// logCmd filters the zstd JSONL request log.
func logCmd(args []string) {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	status := fs.Int("status", 0, "only this HTTP status (0 = all)")
	transport := fs.String("transport", "", "only this transport (http or ws)")
	limit := fs.Int("limit", 0, "stop after this many entries (0 = all)")
	_ = fs.Parse(args)

	entries, err := readRequestLog(filepath.Join(*dataDir, "requests"), func(e persistlog.RequestEntry) bool {
		if *status != 0 && e.Status != *status {
			return false
		}
		return *transport == "" || e.Transport == *transport
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read request log:", err)
		os.Exit(1)
	}
	for i, e := range entries {
		if *limit > 0 && i >= *limit {
			break
		}
		printJSON(e)
	}
}

func readRequestLog(dir string, keep func(persistlog.RequestEntry) bool) ([]persistlog.RequestEntry, error) {
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

	var out []persistlog.RequestEntry
	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		sc := bufio.NewScanner(dec)
		sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for sc.Scan() {
			var e persistlog.RequestEntry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				dec.Close()
				_ = f.Close()
				return nil, fmt.Errorf("%s: unmarshal: %w", name, err)
			}
			if keep == nil || keep(e) {
				out = append(out, e)
			}
		}
		err = sc.Err()
		dec.Close()
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return out, nil
}

// listSnapshots returns <unix>.snap.zst files in dir, newest first.
func listSnapshots(dir string) []string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type snap struct {
		path string
		ts   int64
	}
	var snaps []snap
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap{path: filepath.Join(dir, name), ts: ts})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ts > snaps[j].ts })
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.path
	}
	return out
}
