package models

import (
	"fmt"
	"time"
)

// ConfigError reports missing or malformed credentials or settings.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// NotFoundError reports a target path that is missing or of the wrong type.
type NotFoundError struct {
	Path string
	Kind TargetKind
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' does not exist", e.Kind, e.Path)
}

// SizeLimitError reports a file larger than the remote document ceiling.
type SizeLimitError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("file '%s' is %d bytes, exceeding the %d byte limit", e.Path, e.Size, e.Limit)
}

// ArchiveError reports a failure while building a directory archive.
type ArchiveError struct {
	Dir string
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("failed to archive '%s': %v", e.Dir, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// TransportError reports a network or HTTP failure talking to Telegram.
type TransportError struct {
	Method      string
	StatusCode  int           // zero when no response was received
	Description string        // Telegram's error description, if any
	RetryAfter  time.Duration // wait requested by Telegram on 429
	Err         error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Description != "":
		return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.StatusCode, e.Description)
	case e.StatusCode != 0:
		return fmt.Sprintf("telegram %s: status %d", e.Method, e.StatusCode)
	default:
		return fmt.Sprintf("telegram %s: %v", e.Method, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the request may succeed.
func (e *TransportError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// UnexpectedError wraps a recovered panic.
type UnexpectedError struct {
	Value any
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error: %v", e.Value)
}
