package models

import "time"

// TargetKind distinguishes file targets from directory targets.
type TargetKind string

const (
	TargetFile      TargetKind = "file"
	TargetDirectory TargetKind = "directory"
)

// Target is a file or directory nominated for sending.
type Target struct {
	Path string
	Kind TargetKind
}

// TransferRequest holds what the user asked to send in one invocation.
type TransferRequest struct {
	Files     []string
	Directory string
	Caption   string // applied to every file sent
}

// Targets returns the request's targets in processing order: files first, then the directory.
func (r TransferRequest) Targets() []Target {
	targets := make([]Target, 0, len(r.Files)+1)
	for _, f := range r.Files {
		targets = append(targets, Target{Path: f, Kind: TargetFile})
	}
	if r.Directory != "" {
		targets = append(targets, Target{Path: r.Directory, Kind: TargetDirectory})
	}
	return targets
}

// Empty reports whether the request names no targets.
func (r TransferRequest) Empty() bool {
	return len(r.Files) == 0 && r.Directory == ""
}

// ArchiveResult holds the result of zipping a directory.
type ArchiveResult struct {
	Path         string // the written archive
	SourceDir    string
	Files        int
	SourceBytes  int64 // sum of regular file sizes under SourceDir
	ArchiveBytes int64
	Duration     time.Duration
}

// UploadResult holds the outcome of sending one target.
type UploadResult struct {
	Target   Target
	Path     string // the file actually uploaded (archive path for directories)
	Success  bool
	Reason   string
	Bytes    int64
	Duration time.Duration
	Error    error
}

// RunResult holds the per-target outcomes of one invocation.
type RunResult struct {
	Uploads []UploadResult
}

// Succeeded returns the number of targets that were delivered.
func (r *RunResult) Succeeded() int {
	n := 0
	for _, u := range r.Uploads {
		if u.Success {
			n++
		}
	}
	return n
}

// Failed returns the number of targets that were not delivered.
func (r *RunResult) Failed() int {
	return len(r.Uploads) - r.Succeeded()
}

// ProgressFunc receives the bytes processed so far and the expected total.
type ProgressFunc func(done, total int64)
