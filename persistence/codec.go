package persistence

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// frame is one chunk as stored in the content section.
type frame struct {
	raw  uint32
	data []byte // compressed bytes, or the raw chunk when zip is false
	zip  bool
}

// runChunks runs fn for every chunk index on a bounded set of goroutines and
// waits for all of them. Each call touches only its own chunk.
func runChunks(ctx context.Context, n int, o options, fn func(i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.controller.AcquireWorker(ctx); err != nil {
				return err
			}
			defer o.controller.ReleaseWorker()
			return fn(i)
		})
	}
	return g.Wait()
}

// encodeChunks compresses chunks in parallel.
func encodeChunks(ctx context.Context, chunks [][]byte, o options) ([]frame, error) {
	frames := make([]frame, len(chunks))
	err := runChunks(ctx, len(chunks), o, func(i int) error {
		out, ok, err := compressBlock(chunks[i], o.compression)
		if err != nil {
			return fmt.Errorf("%w: chunk %d: %w", ErrCodec, i, err)
		}
		if ok {
			frames[i] = frame{raw: uint32(len(chunks[i])), data: out, zip: true}
		} else {
			frames[i] = frame{raw: uint32(len(chunks[i])), data: chunks[i]}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}

// decodeChunks decompresses frames in parallel into dst, whose buffers are
// already sized to the raw chunk lengths.
func decodeChunks(ctx context.Context, frames []frame, dst [][]byte, c Compression, o options) error {
	return runChunks(ctx, len(frames), o, func(i int) error {
		f := frames[i]
		if !f.zip {
			copy(dst[i], f.data)
			return nil
		}
		if err := decompressBlock(f.data, dst[i], c); err != nil {
			return fmt.Errorf("%w: chunk %d: %w", ErrCodec, i, err)
		}
		return nil
	})
}
