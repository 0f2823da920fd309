package main

import (
	"path/filepath"
	"testing"

	"voxelstream.ai/internal/chunkcache"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/snapshot"
	"voxelstream.ai/internal/terrain"
)

func smallParams(x int) terrain.Params {
	p := terrain.DefaultParams()
	p.Size = 8
	p.Coord.X = x
	return p
}

func entryFor(p terrain.Params) snapshot.EntryV1 {
	return snapshot.EntryV1{
		Key:  p.Key(),
		ETag: chunkcache.ETag(p),
		Size: p.Size,
		Data: terrain.Synthesize(p).Bytes(),
	}
}

func TestVerifySnapshot(t *testing.T) {
	good := snapshot.New("test", []snapshot.EntryV1{entryFor(smallParams(0)), entryFor(smallParams(1))})
	if n, err := verifySnapshot(good); err != nil || n != 2 {
		t.Fatalf("checked=%d err=%v want=2/nil", n, err)
	}

	bad := entryFor(smallParams(2))
	bad.Data = append([]byte(nil), bad.Data...)
	bad.Data[0] ^= 1
	if _, err := verifySnapshot(snapshot.New("test", []snapshot.EntryV1{bad})); err == nil {
		t.Fatalf("expected grid mismatch")
	}

	stale := entryFor(smallParams(3))
	stale.ETag = `W/"0-8"`
	if _, err := verifySnapshot(snapshot.New("test", []snapshot.EntryV1{stale})); err == nil {
		t.Fatalf("expected etag mismatch")
	}
}

func TestReplayRequests_CountsHits(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewRequestLogger(dir)
	keys := []string{smallParams(0).Key(), smallParams(1).Key(), smallParams(0).Key(), smallParams(0).Key()}
	for _, k := range keys {
		if err := l.WriteRequest(persistlog.RequestEntry{Key: k, Status: 200}); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.WriteRequest(persistlog.RequestEntry{Key: smallParams(5).Key(), Status: 500}); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	files, err := listRequestFiles(filepath.Join(dir, "requests"))
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	res, err := replayRequests(files, 0)
	if err != nil {
		t.Fatalf("replayRequests: %v", err)
	}
	if res.Requests != 4 || res.Distinct != 2 {
		t.Fatalf("requests=%d distinct=%d want=4/2", res.Requests, res.Distinct)
	}
	if res.Hits != 2 || res.Misses != 2 {
		t.Fatalf("hits=%d misses=%d want=2/2", res.Hits, res.Misses)
	}
	if r := res.HitRatio(); r != 0.5 {
		t.Fatalf("ratio=%v want=0.5", r)
	}
}
