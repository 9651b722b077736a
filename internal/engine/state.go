package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ResumeRecord is the durable snapshot that lets an interrupted job restart
// byte-accurately from a later process lifetime. It is stored as JSON at
// <stateDir>/<uuid>.json; absence of the file is the canonical "no resume
// pending" signal.
type ResumeRecord struct {
	URL                     string  `json:"url"`
	OutputDir               string  `json:"outputDir"`
	FileName                string  `json:"fileName"`
	TotalBytes              int64   `json:"totalBytes"`
	DownloadedBytesPerChunk []int64 `json:"downloadedBytesPerChunk"`
	NumConnections          int     `json:"numConnections"`
	UUID                    string  `json:"uuid"`
	StateDir                string  `json:"stateDir"`
}

// Config reconstructs a job configuration from a loaded record.
func (r *ResumeRecord) Config() Config {
	return Config{
		URL:                     r.URL,
		OutputDir:               r.OutputDir,
		StateDir:                r.StateDir,
		JobID:                   r.UUID,
		Connections:             r.NumConnections,
		FileName:                r.FileName,
		TotalBytes:              r.TotalBytes,
		DownloadedBytesPerChunk: r.DownloadedBytesPerChunk,
	}
}

func (r *ResumeRecord) validate() error {
	if r.NumConnections < 1 {
		return fmt.Errorf("%w: numConnections %d", ErrCorruptResumeRecord, r.NumConnections)
	}
	if r.TotalBytes < 0 {
		return fmt.Errorf("%w: negative totalBytes", ErrCorruptResumeRecord)
	}
	if len(r.DownloadedBytesPerChunk) != r.NumConnections {
		return fmt.Errorf("%w: progress vector has %d entries for %d connections",
			ErrCorruptResumeRecord, len(r.DownloadedBytesPerChunk), r.NumConnections)
	}
	sizes := make(map[int]int64, r.NumConnections)
	for _, seg := range BuildPlan(r.TotalBytes, r.NumConnections) {
		sizes[seg.Index] = seg.Size()
	}
	for i, n := range r.DownloadedBytesPerChunk {
		if n < 0 || n > sizes[i] {
			return fmt.Errorf("%w: chunk %d progress %d out of range", ErrCorruptResumeRecord, i, n)
		}
	}
	return nil
}

// LoadResumeRecord reads and validates a state file. A missing file returns
// os.ErrNotExist; an unparsable or invalid record returns
// ErrCorruptResumeRecord so the caller can fall back to a fresh start. Other
// read errors are returned unwrapped.
func LoadResumeRecord(path string) (*ResumeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec ResumeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptResumeRecord, err)
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// StatePersistor owns the on-disk resume record for one job. Saves are
// best-effort: a lost snapshot costs re-downloaded progress, never
// correctness.
type StatePersistor struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	saving atomic.Bool
}

func NewStatePersistor(path string, logger *slog.Logger) *StatePersistor {
	return &StatePersistor{path: path, logger: logger}
}

// Save writes the record synchronously, creating the state directory if
// needed.
func (p *StatePersistor) Save(rec *ResumeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0644)
}

// SaveAsync schedules a snapshot without blocking the caller. Overlapping
// requests collapse into the one already in flight.
func (p *StatePersistor) SaveAsync(rec *ResumeRecord) {
	if !p.saving.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.saving.Store(false)
		if err := p.Save(rec); err != nil {
			p.logger.Warn("state snapshot failed", "path", p.path, "error", err)
		}
	}()
}

// Remove deletes the state file after a successful completion.
func (p *StatePersistor) Remove() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
