package engine

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbodl/internal/logger"
)

func sampleRecord(stateDir string) *ResumeRecord {
	return &ResumeRecord{
		URL:                     "http://example.com/archive.zip",
		OutputDir:               "/downloads",
		FileName:                "archive.zip",
		TotalBytes:              1000,
		DownloadedBytesPerChunk: []int64{250, 100, 0, 0},
		NumConnections:          4,
		UUID:                    "job-42",
		StateDir:                stateDir,
	}
}

func TestResumeRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job-42.json")
	p := NewStatePersistor(path, logger.Discard())

	rec := sampleRecord(dir)
	require.NoError(t, p.Save(rec))

	loaded, err := LoadResumeRecord(path)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)

	// Re-planning from the loaded record must match the original plan.
	assert.Equal(t, BuildPlan(rec.TotalBytes, rec.NumConnections),
		BuildPlan(loaded.TotalBytes, loaded.NumConnections))
}

// The on-disk field set is a wire contract.
func TestResumeRecordJSONFields(t *testing.T) {
	data, err := json.Marshal(sampleRecord("/state"))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{
		"url", "outputDir", "fileName", "totalBytes",
		"downloadedBytesPerChunk", "numConnections", "uuid", "stateDir",
	} {
		assert.Contains(t, raw, key)
	}
	assert.Len(t, raw, 8)
}

func TestLoadResumeRecordCorrupt(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	tests := []struct {
		name    string
		content string
	}{
		{"truncated json", `{"url": "http://x", "totalBytes": 10`},
		{"not json", "hello"},
		{"vector length mismatch", `{"url":"http://x","outputDir":"/d","fileName":"f","totalBytes":100,"downloadedBytesPerChunk":[1,2],"numConnections":4,"uuid":"u","stateDir":"/s"}`},
		{"negative progress", `{"url":"http://x","outputDir":"/d","fileName":"f","totalBytes":100,"downloadedBytesPerChunk":[-1,0],"numConnections":2,"uuid":"u","stateDir":"/s"}`},
		{"progress exceeds segment", `{"url":"http://x","outputDir":"/d","fileName":"f","totalBytes":100,"downloadedBytesPerChunk":[51,0],"numConnections":2,"uuid":"u","stateDir":"/s"}`},
		{"zero connections", `{"url":"http://x","outputDir":"/d","fileName":"f","totalBytes":100,"downloadedBytesPerChunk":[],"numConnections":0,"uuid":"u","stateDir":"/s"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(tt.name+".json", tt.content)
			_, err := LoadResumeRecord(path)
			assert.ErrorIs(t, err, ErrCorruptResumeRecord)
		})
	}
}

func TestLoadResumeRecordMissing(t *testing.T) {
	_, err := LoadResumeRecord(filepath.Join(t.TempDir(), "nope.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPersistorRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.json")
	p := NewStatePersistor(path, logger.Discard())

	require.NoError(t, p.Save(sampleRecord(dir)))
	require.NoError(t, p.Remove())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing an already-absent file is not an error.
	assert.NoError(t, p.Remove())
}

func TestRecordConfig(t *testing.T) {
	rec := sampleRecord("/state")
	cfg := rec.Config()

	assert.Equal(t, rec.URL, cfg.URL)
	assert.Equal(t, rec.UUID, cfg.JobID)
	assert.Equal(t, rec.NumConnections, cfg.Connections)
	assert.Equal(t, rec.TotalBytes, cfg.TotalBytes)
	assert.Equal(t, rec.DownloadedBytesPerChunk, cfg.DownloadedBytesPerChunk)
}
