package filesystem

import "path/filepath"

// TempSuffix is appended to the final path to form the staging file. The
// temp file lives next to the destination so the finishing rename never
// crosses a volume boundary.
const TempSuffix = ".part"

// JobPaths holds the three derived locations of a download job.
type JobPaths struct {
	FinalPath string
	TempPath  string
	StatePath string
}

// ResolvePaths derives the final, temp and state paths for a job. Call it
// again whenever the file name is refined; handles must only be opened on
// the freshest paths.
func ResolvePaths(outputDir, stateDir, fileName, jobID string) JobPaths {
	final := filepath.Join(outputDir, fileName)
	return JobPaths{
		FinalPath: final,
		TempPath:  final + TempSuffix,
		StatePath: filepath.Join(stateDir, jobID+".json"),
	}
}
