package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// sendChunks uploads every chunk the session still misses. The first chunk
// that exhausts its retries cancels the rest; chunks already stored stay
// recorded on the server, so a later resume skips them.
func (c *Client) sendChunks(ctx context.Context, src io.ReaderAt, session *Session) error {
	missing := session.MissingChunks
	if missing == nil {
		missing = session.UploadSession.MissingChunks()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for _, n := range missing {
		g.Go(func() error {
			size := session.ExpectedChunkSize(n)
			buf := make([]byte, size)
			off := int64(n-1) * session.ChunkSize
			if read, err := src.ReadAt(buf, off); int64(read) != size {
				return fmt.Errorf("read chunk %d: %w", n, err)
			}
			return c.putWithRetry(gctx, session.UploadID, n, buf)
		})
	}
	return g.Wait()
}

func (c *Client) putWithRetry(ctx context.Context, uploadID string, n int, body []byte) error {
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		progress, err := c.PutChunk(ctx, uploadID, n, body)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if c.onProgress != nil {
			c.onProgress(progress)
		}
		return nil
	}, b, func(err error, wait time.Duration) {
		c.logger.Warn("chunk retry", "upload_id", uploadID, "chunk", n, "wait", wait, "error", err)
	})
}
