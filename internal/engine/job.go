package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"turbodl/internal/events"
	"turbodl/internal/filesystem"
)

// Status is the controller state machine position.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusProbing     Status = "probing"
	StatusPlanning    Status = "planning"
	StatusDownloading Status = "downloading"
	StatusCompleting  Status = "completing"
	StatusCompleted   Status = "completed"
	StatusPaused      Status = "paused"
	StatusFailed      Status = "failed"
)

// Job orchestrates one download: probe, plan, parallel segment workers over
// a shared sparse temp file, durable resume state, finalization. A Job may
// go through several Start calls (start, pause, start again); progress
// counters carry across them within the process, and the resume record
// carries them across process lifetimes.
type Job struct {
	cfg       Config
	paths     filesystem.JobPaths
	client    *http.Client
	logger    *slog.Logger
	emitter   events.Emitter
	allocator *filesystem.Allocator
	persistor *StatePersistor
	buffers   *sync.Pool

	progress []atomic.Int64
	agg      *aggregator
	file     *os.File

	mu             sync.Mutex
	status         Status
	cancel         context.CancelFunc
	pauseRequested bool
	startTime      time.Time

	// test seams; production values set in NewJob
	backoff   func(attempt int) time.Duration
	emitEvery time.Duration
	saveEvery time.Duration
}

// NewJob validates the configuration and prepares a job. No I/O happens
// until Start.
func NewJob(cfg Config, logger *slog.Logger, emitter events.Emitter) (*Job, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = events.Discard
	}

	j := &Job{
		cfg:       cfg,
		client:    newClient(cfg.Connections),
		logger:    logger,
		emitter:   emitter,
		allocator: filesystem.NewAllocator(),
		buffers: &sync.Pool{
			New: func() interface{} {
				b := make([]byte, BufferSize)
				return &b
			},
		},
		progress:  make([]atomic.Int64, cfg.Connections),
		status:    StatusIdle,
		backoff:   backoffDelay,
		emitEvery: progressInterval,
		saveEvery: snapshotInterval,
	}
	j.persistor = NewStatePersistor(filepath.Join(cfg.StateDir, cfg.JobID+".json"), logger)
	for i, n := range cfg.DownloadedBytesPerChunk {
		j.progress[i].Store(n)
	}
	return j, nil
}

// Resume reconstructs a job from a persisted record.
func Resume(rec *ResumeRecord, logger *slog.Logger, emitter events.Emitter) (*Job, error) {
	return NewJob(rec.Config(), logger, emitter)
}

func (j *Job) ID() string { return j.cfg.JobID }

func (j *Job) FileName() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cfg.FileName
}

func (j *Job) TotalBytes() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cfg.TotalBytes
}

// Downloaded returns the bytes written so far across all segments.
func (j *Job) Downloaded() int64 { return sumCounters(j.progress) }

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) userAgent() string {
	if j.cfg.UserAgent != "" {
		return j.cfg.UserAgent
	}
	return GenericUserAgent
}

// record snapshots current progress into a resume record.
func (j *Job) record() *ResumeRecord {
	vec := make([]int64, len(j.progress))
	for i := range j.progress {
		vec[i] = j.progress[i].Load()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return &ResumeRecord{
		URL:                     j.cfg.URL,
		OutputDir:               j.cfg.OutputDir,
		FileName:                j.cfg.FileName,
		TotalBytes:              j.cfg.TotalBytes,
		DownloadedBytesPerChunk: vec,
		NumConnections:          j.cfg.Connections,
		UUID:                    j.cfg.JobID,
		StateDir:                j.cfg.StateDir,
	}
}

// Pause requests cancellation and forces a snapshot. It returns before the
// workers have unwound; the paused event is emitted by Start once they have.
func (j *Job) Pause() {
	j.mu.Lock()
	cancel := j.cancel
	if cancel == nil {
		j.mu.Unlock()
		return
	}
	j.pauseRequested = true
	j.mu.Unlock()

	cancel()
	j.persistor.SaveAsync(j.record())
}

func (j *Job) paused() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pauseRequested
}

// Start runs the job to a terminal state: completed, paused or failed. It
// blocks until then and returns the escalated error on failure. Pausing is
// not an error. Start may be called again after a pause.
func (j *Job) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	j.mu.Lock()
	j.cancel = cancel
	j.pauseRequested = false
	j.startTime = time.Now()
	j.mu.Unlock()

	err := j.run(runCtx, cancel)

	j.mu.Lock()
	j.cancel = nil
	j.mu.Unlock()

	switch {
	case j.paused():
		j.setStatus(StatusPaused)
		if saveErr := j.persistor.Save(j.record()); saveErr != nil {
			j.logger.Warn("state save on pause failed", "job", j.cfg.JobID, "error", saveErr)
		}
		j.logger.Info("download paused", "job", j.cfg.JobID, "downloaded", j.Downloaded())
		j.emitter.Emit(events.Event{Type: events.Paused, JobID: j.cfg.JobID})
		return nil
	case err != nil:
		j.setStatus(StatusFailed)
		if saveErr := j.persistor.Save(j.record()); saveErr != nil {
			j.logger.Warn("state save on failure failed", "job", j.cfg.JobID, "error", saveErr)
		}
		j.logger.Error("download failed", "job", j.cfg.JobID, "error", err)
		if !errors.Is(err, context.Canceled) {
			// Caller-initiated cancellation is never surfaced as an error.
			j.emitter.Emit(events.Event{Type: events.Error, JobID: j.cfg.JobID, Message: friendlyMessage(err)})
		}
		return err
	default:
		j.setStatus(StatusCompleted)
		j.logger.Info("download completed", "job", j.cfg.JobID, "path", j.paths.FinalPath,
			"elapsed", time.Since(j.startTime).Round(time.Millisecond))
		j.emitter.Emit(events.Event{Type: events.Complete, JobID: j.cfg.JobID, FinalPath: j.paths.FinalPath})
		return nil
	}
}

// run executes the start sequence. The caller translates its outcome plus
// the pause flag into the terminal event.
func (j *Job) run(ctx context.Context, cancel context.CancelFunc) error {
	// 1. Probe unless the total is already known.
	if j.TotalBytes() == 0 {
		j.setStatus(StatusProbing)
		probe, err := j.probe(ctx)
		if err != nil {
			if j.paused() {
				return nil
			}
			return err
		}
		j.mu.Lock()
		j.cfg.TotalBytes = probe.size
		j.cfg.FileName = filesystem.ResolveFileName(j.cfg.FileName, probe.fileName, j.cfg.URL)
		j.mu.Unlock()
	} else if j.FileName() == "" {
		j.mu.Lock()
		j.cfg.FileName = filesystem.ResolveFileName("", "", j.cfg.URL)
		j.mu.Unlock()
	}
	j.mu.Lock()
	j.paths = filesystem.ResolvePaths(j.cfg.OutputDir, j.cfg.StateDir, j.cfg.FileName, j.cfg.JobID)
	j.mu.Unlock()
	j.setStatus(StatusPlanning)

	total := j.TotalBytes()
	j.emitter.Emit(events.Event{
		Type:       events.Start,
		JobID:      j.cfg.JobID,
		TotalBytes: total,
		FileName:   j.FileName(),
	})

	// 2. Directories, initial state, temp file.
	if err := os.MkdirAll(j.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.MkdirAll(j.cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := j.persistor.Save(j.record()); err != nil {
		j.logger.Warn("initial state save failed", "job", j.cfg.JobID, "error", err)
	}

	file, err := j.allocator.OpenTemp(j.paths.TempPath, total)
	if err != nil {
		return err
	}
	j.file = file
	defer func() {
		file.Close()
		j.file = nil
	}()

	// 3. Plan and dispatch.
	plan := BuildPlan(total, j.cfg.Connections)
	j.agg = newAggregator(j.cfg.JobID, total, j.progress, j.emitter,
		func() { j.persistor.SaveAsync(j.record()) }, j.emitEvery, j.saveEvery)

	j.setStatus(StatusDownloading)
	var wg sync.WaitGroup
	errCh := make(chan error, len(plan)+1)
	for _, seg := range plan {
		if j.progress[seg.Index].Load() >= seg.Size() {
			continue // already complete; never re-issued
		}
		wg.Add(1)
		go func(seg Segment) {
			defer wg.Done()
			if err := j.superviseSegment(ctx, seg); err != nil {
				errCh <- err
				cancel() // abort peers; pause flag stays unset
			}
		}(seg)
	}
	wg.Wait()
	close(errCh)

	if j.paused() {
		return nil
	}
	if workerErr := <-errCh; workerErr != nil {
		return workerErr
	}
	if ctx.Err() != nil {
		// External context cancellation without a pause request.
		return ctx.Err()
	}

	// 4. Finalize: rename over any pre-existing destination, drop the state.
	j.setStatus(StatusCompleting)
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Remove(j.paths.FinalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing existing destination: %w", err)
	}
	if err := os.Rename(j.paths.TempPath, j.paths.FinalPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	if err := j.persistor.Remove(); err != nil {
		j.logger.Warn("state file removal failed", "job", j.cfg.JobID, "error", err)
	}
	return nil
}

// FinalPath reports the destination path once the file name is resolved.
func (j *Job) FinalPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.paths.FinalPath
}
