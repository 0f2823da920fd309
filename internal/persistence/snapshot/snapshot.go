// Package snapshot writes and reads cache snapshots: a zstd stream holding one
// JSON header line followed by a gob payload.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
	Entries   int    `json:"entries"`
	Source    string `json:"source,omitempty"`
}

// EntryV1 is one cached chunk.
type EntryV1 struct {
	Key  string `json:"key"`
	ETag string `json:"etag"`
	Size int    `json:"size"`
	Data []byte `json:"data"`
}

type SnapshotV1 struct {
	Header  Header    `json:"header"`
	Entries []EntryV1 `json:"entries"`
}

// New stamps a header for entries.
func New(source string, entries []EntryV1) SnapshotV1 {
	return SnapshotV1{
		Header: Header{
			Version:   Version,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
			Entries:   len(entries),
			Source:    source,
		},
		Entries: entries,
	}
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader reads only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
