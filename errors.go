package main

import (
	"fmt"

	"github.com/pkg/errors"
)

// =============================================================================
// Errors
// =============================================================================

// ErrUnsupportedContainer is returned when no writer can embed metadata in a
// file's container format.
var ErrUnsupportedContainer = errors.New("unsupported container")

// NoExportFoundError aborts a run: no export folder exists under the search root.
type NoExportFoundError struct {
	SearchRoot string
	Folder     string
}

func (e *NoExportFoundError) Error() string {
	return fmt.Sprintf("no %q folder found under %s", e.Folder, e.SearchRoot)
}

// MetadataReadError means the image's metadata block could not be read or initialized.
type MetadataReadError struct {
	Path string
	Err  error
}

func (e *MetadataReadError) Error() string {
	return fmt.Sprintf("reading metadata of %s: %v", e.Path, e.Err)
}

func (e *MetadataReadError) Unwrap() error { return e.Err }

// MetadataWriteError means building or persisting the image's metadata failed.
type MetadataWriteError struct {
	Path string
	Err  error
}

func (e *MetadataWriteError) Error() string {
	return fmt.Sprintf("writing metadata of %s: %v", e.Path, e.Err)
}

func (e *MetadataWriteError) Unwrap() error { return e.Err }

// SidecarParseError means the sidecar exists but does not describe a usable record.
type SidecarParseError struct {
	Path string
	Err  error
}

func (e *SidecarParseError) Error() string {
	return fmt.Sprintf("parsing sidecar %s: %v", e.Path, e.Err)
}

func (e *SidecarParseError) Unwrap() error { return e.Err }

// VideoToolError reports a failed or timed out external metadata tool run.
type VideoToolError struct {
	Path     string
	ExitCode int // -1 when the process did not exit on its own
	Err      error
}

func (e *VideoToolError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("metadata tool on %s exited with status %d", e.Path, e.ExitCode)
	}
	return fmt.Sprintf("metadata tool on %s: %v", e.Path, e.Err)
}

func (e *VideoToolError) Unwrap() error { return e.Err }
