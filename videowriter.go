package main

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/pkg/errors"
)

// =============================================================================
// Video Metadata
// =============================================================================

// overwriteFlag tells exiftool to rewrite the target instead of keeping a
// "_original" backup next to it.
const overwriteFlag = "-overwrite_original"

// MetadataSink applies "-Tag=value" assignments to a file through an external
// metadata tool.
type MetadataSink interface {
	Write(ctx context.Context, path string, assignments []string) error
	Close() error
}

// VideoWriter embeds a MetadataRecord into a video container by way of a sink.
type VideoWriter struct {
	sink MetadataSink
}

// NewVideoWriter returns a VideoWriter that sends its assignments to sink.
func NewVideoWriter(sink MetadataSink) *VideoWriter {
	return &VideoWriter{sink: sink}
}

// Apply writes rec into the video at path.
func (w *VideoWriter) Apply(ctx context.Context, path string, rec *MetadataRecord) error {
	return w.sink.Write(ctx, path, videoToolArgs(rec))
}

// videoToolArgs translates a record into the three container date fields and
// the description. The overwrite flag and target path are added by the sink.
func videoToolArgs(rec *MetadataRecord) []string {
	var args []string
	if rec.CapturedAt != nil {
		dt := rec.CapturedAtString()
		args = append(args, "-CreateDate="+dt, "-MediaCreateDate="+dt, "-ModifyDate="+dt)
	}
	if rec.Description != nil {
		args = append(args, "-Description="+*rec.Description)
	}
	return args
}

// =============================================================================
// One-shot Tool Invocation
// =============================================================================

// execSink runs the tool once per file as a blocking subprocess with its
// output discarded.
type execSink struct {
	tool    string
	timeout time.Duration
	strict  bool // report non-zero exits and timeouts as errors
}

func newExecSink(tool string, timeout time.Duration, strict bool) *execSink {
	return &execSink{tool: tool, timeout: timeout, strict: strict}
}

// commandArgs builds the full argument list: overwrite flag, assignments, target.
func commandArgs(path string, assignments []string) []string {
	args := make([]string, 0, len(assignments)+2)
	args = append(args, overwriteFlag)
	args = append(args, assignments...)
	return append(args, path)
}

func (s *execSink) Write(ctx context.Context, path string, assignments []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.tool, commandArgs(path, assignments)...)
	// Stdout and Stderr stay nil, which discards both streams.
	err := cmd.Run()
	if err == nil || !s.strict {
		if err != nil {
			slog.Debug("metadata tool failed, ignoring", "path", path, "error", err)
		}
		return nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return &VideoToolError{Path: path, ExitCode: -1, Err: errors.Errorf("timed out after %s", s.timeout)}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return &VideoToolError{Path: path, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return &VideoToolError{Path: path, ExitCode: -1, Err: err}
}

func (s *execSink) Close() error { return nil }

// =============================================================================
// Persistent Tool Process
// =============================================================================

// stayOpenSink keeps one exiftool process alive for the whole run.
// Calls are serialized because the process reads one request at a time.
//
// The process reads its arguments one per line, so a value or path holding a
// line break would split into extra arguments. Such writes go through a
// one-shot invocation where every argument travels intact in argv.
type stayOpenSink struct {
	mu      sync.Mutex
	et      *exiftool.Exiftool
	oneShot *execSink
	strict  bool
}

func newStayOpenSink(tool string, timeout time.Duration, strict bool) (*stayOpenSink, error) {
	et, err := exiftool.NewExiftool(exiftool.SetExiftoolBinaryPath(tool))
	if err != nil {
		return nil, errors.Wrap(err, "starting exiftool")
	}
	return &stayOpenSink{et: et, oneShot: newExecSink(tool, timeout, strict), strict: strict}, nil
}

// hasLineBreak reports whether any of values contains a CR or LF.
func hasLineBreak(values ...string) bool {
	for _, v := range values {
		if strings.ContainsAny(v, "\r\n") {
			return true
		}
	}
	return false
}

func (s *stayOpenSink) Write(ctx context.Context, path string, assignments []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hasLineBreak(path) || hasLineBreak(assignments...) {
		slog.Debug("line break in metadata, using one-shot exiftool", "path", path)
		return s.oneShot.Write(ctx, path, assignments)
	}
	fm := exiftool.EmptyFileMetadata()
	fm.File = path
	for _, a := range assignments {
		tag, value, ok := strings.Cut(strings.TrimPrefix(a, "-"), "=")
		if !ok {
			continue
		}
		fm.SetString(tag, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := []exiftool.FileMetadata{fm}
	s.et.WriteMetadata(batch)
	if err := batch[0].Err; err != nil {
		if !s.strict {
			slog.Debug("exiftool write failed, ignoring", "path", path, "error", err)
			return nil
		}
		return &VideoToolError{Path: path, ExitCode: -1, Err: err}
	}
	return nil
}

func (s *stayOpenSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.et.Close()
}

// newMetadataSink builds the sink selected by cfg.VideoBackend.
func newMetadataSink(cfg *Config) (MetadataSink, error) {
	if cfg.VideoBackend == backendStayOpen {
		return newStayOpenSink(cfg.ExifToolPath, cfg.VideoTimeout, cfg.StrictVideo)
	}
	return newExecSink(cfg.ExifToolPath, cfg.VideoTimeout, cfg.StrictVideo), nil
}
