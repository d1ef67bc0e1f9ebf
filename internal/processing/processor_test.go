package processing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

func TestProcessorRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	handle := func(_ context.Context, o upload.Orphan) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("store unavailable")
		}
		close(done)
		return nil
	}
	p := New(handle, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	if err := p.ReportOrphan(ctx, upload.Orphan{Bucket: "b", Key: "k"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orphan never processed")
	}
	cancel()
	p.Wait()
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestProcessorDropsWhenFull(t *testing.T) {
	p := New(func(context.Context, upload.Orphan) error { return nil }, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Workers are not started, so the buffer fills up.
	for i := 0; i < cap(p.queue)+5; i++ {
		if err := p.ReportOrphan(context.Background(), upload.Orphan{Bucket: "b", Key: "k"}); err != nil {
			t.Fatal(err)
		}
	}
	if len(p.queue) != cap(p.queue) {
		t.Fatalf("queue length = %d, want %d", len(p.queue), cap(p.queue))
	}
}
