package chunkdb

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// compress packs a grid. Chunk grids are long runs of a few ids and shrink well.
func compress(grid []byte) ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(grid, make([]byte, 0, len(grid)/8)), nil
}

func decompress(blob []byte, rawLen int) ([]byte, error) {
	_, dec, err := codec()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(blob, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if len(out) != rawLen {
		return nil, fmt.Errorf("zstd decode: got %d bytes want %d", len(out), rawLen)
	}
	return out, nil
}
