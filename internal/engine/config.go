package engine

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"turbodl/internal/filesystem"
)

// DefaultConnections is the planner fanout used when the caller does not
// specify one. It also caps the per-host socket pool.
const DefaultConnections = 8

// Config describes one download job. URL and OutputDir are required;
// everything else has a usable zero value.
type Config struct {
	URL       string
	OutputDir string

	// StateDir holds the resume record; defaults to OutputDir.
	StateDir string

	// JobID names the state file and correlates events. Defaults to a
	// time-derived string.
	JobID string

	// Connections is the number of segments fetched in parallel.
	Connections int

	// FileName overrides the URL- or server-derived name. Sanitized on use.
	FileName string

	// TotalBytes, when non-zero, bypasses the probe (resume path).
	TotalBytes int64

	// DownloadedBytesPerChunk primes per-segment progress on resume. Its
	// length must match Connections when set.
	DownloadedBytesPerChunk []int64

	// UserAgent overrides the default request User-Agent.
	UserAgent string
}

func (c *Config) normalize() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid download URL %q", c.URL)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.Connections <= 0 {
		c.Connections = DefaultConnections
	}
	if c.StateDir == "" {
		c.StateDir = c.OutputDir
	}
	if c.JobID == "" {
		c.JobID = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	if c.FileName != "" {
		c.FileName = filesystem.SanitizeFileName(c.FileName)
	}
	if len(c.DownloadedBytesPerChunk) > 0 && len(c.DownloadedBytesPerChunk) != c.Connections {
		return fmt.Errorf("%w: progress vector has %d entries for %d connections",
			ErrCorruptResumeRecord, len(c.DownloadedBytesPerChunk), c.Connections)
	}
	return nil
}
