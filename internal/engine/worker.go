package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const maxSegmentAttempts = 10

// backoffDelay returns the sleep before retry attempt a+1, capped
// exponential: min(1000 * 1.5^a, 10000) milliseconds.
func backoffDelay(attempt int) time.Duration {
	ms := 1000 * math.Pow(1.5, float64(attempt))
	if ms > 10000 {
		ms = 10000
	}
	return time.Duration(ms) * time.Millisecond
}

// superviseSegment drives one segment to completion with bounded retries.
// Each attempt resumes from the segment's current counter, so bytes already
// written are never re-fetched. Cancellation short-circuits the loop and is
// not an error.
func (j *Job) superviseSegment(ctx context.Context, seg Segment) error {
	var lastErr error
	for attempt := 1; attempt <= maxSegmentAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		err := j.downloadSegment(ctx, seg)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if isFatal(err) {
			return err
		}
		lastErr = err
		j.logger.Warn("segment attempt failed",
			"job", j.cfg.JobID, "segment", seg.Index, "attempt", attempt, "error", err)
		if attempt == maxSegmentAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(j.backoff(attempt)):
		}
	}
	return fmt.Errorf("segment %d failed after %d attempts: %w", seg.Index, maxSegmentAttempts, lastErr)
}

// downloadSegment streams one ranged response into the shared file at
// absolute offsets. It returns nil on clean end-of-stream or cancellation;
// any transport error, bad status or truncated body is reported to the
// supervisor.
func (j *Job) downloadSegment(ctx context.Context, seg Segment) error {
	start := seg.Start + j.progress[seg.Index].Load()
	if start > seg.End {
		return nil
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, j.cfg.URL, nil)
	if err != nil {
		return fatal(err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, seg.End))
	req.Header.Set("User-Agent", j.userAgent())
	req.Header.Set("Connection", "keep-alive")

	resp, err := j.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status for range %d-%d: %s", start, seg.End, resp.Status)
	}

	// Watchdog: abort the read if the body stalls for the idle deadline.
	watchdog := time.AfterFunc(segmentIdleTimeout, cancel)
	defer watchdog.Stop()

	bufPtr := j.buffers.Get().(*[]byte)
	defer j.buffers.Put(bufPtr)
	buf := *bufPtr

	pos := start
	for {
		if ctx.Err() != nil {
			// In-flight bytes buffered by the transport are discarded.
			return nil
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(segmentIdleTimeout)
			if _, writeErr := j.file.WriteAt(buf[:n], pos); writeErr != nil {
				return fatal(writeErr)
			}
			pos += int64(n)
			j.progress[seg.Index].Add(int64(n))
			j.agg.probe()
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			return readErr
		}
	}

	if got := j.progress[seg.Index].Load(); seg.Start+got <= seg.End {
		return fmt.Errorf("truncated stream for segment %d: %d of %d bytes", seg.Index, got, seg.Size())
	}
	return nil
}
