package manifest

import (
	"context"
	"io"
)

const copyChunk = 1 << 20

// copyContext copies src to dst in chunks, stopping when ctx is done
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := io.CopyN(dst, src, copyChunk)
		total += n
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
