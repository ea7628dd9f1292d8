package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// =============================================================================
// Data Types
// =============================================================================

// Outcome is the final state of one source file after a merge.
type Outcome int

const (
	OutcomeCopied         Outcome = iota // copied, nothing to embed
	OutcomeEmbedded                      // copied, metadata embedded, sidecar removed
	OutcomeCopyFailed                    // not copied
	OutcomeMetadataFailed                // copied, sidecar kept
	OutcomeCleanupFailed                 // copied and embedded, sidecar could not be removed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCopied:
		return "copied"
	case OutcomeEmbedded:
		return "embedded"
	case OutcomeCopyFailed:
		return "copy-failed"
	case OutcomeMetadataFailed:
		return "metadata-failed"
	case OutcomeCleanupFailed:
		return "cleanup-failed"
	default:
		return "unknown"
	}
}

// Failed reports whether the outcome is a file-level failure.
func (o Outcome) Failed() bool {
	return o == OutcomeCopyFailed || o == OutcomeMetadataFailed || o == OutcomeCleanupFailed
}

// FileResult records what happened to one source file.
type FileResult struct {
	Album       string
	Source      string
	Destination string
	Class       FileClass
	Sidecar     string // empty when the file had no sidecar
	Record      *MetadataRecord
	Size        int64
	Hash        string
	Outcome     Outcome
	Err         error
}

// Summary collects every file result of a run.
type Summary struct {
	RunID         string
	DryRun        bool
	Roots         []string
	Albums        []string // distinct destination album names
	AlbumFailures int
	Results       []FileResult
	Started       time.Time
	Finished      time.Time
}

// Count returns how many results ended with outcome o.
func (s *Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Failures returns how many results ended in a file-level failure.
func (s *Summary) Failures() int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome.Failed() {
			n++
		}
	}
	return n
}

// MetadataApplier embeds a record into the file at path.
type MetadataApplier interface {
	Apply(ctx context.Context, path string, rec *MetadataRecord) error
}

// =============================================================================
// Merge Engine
// =============================================================================

// Engine merges every export folder under the search root into one album
// tree under the output root. It runs sequentially; destination names are
// resolved by a single namer for the whole run.
type Engine struct {
	cfg    *Config
	images MetadataApplier
	videos MetadataApplier
	namer  *destinationNamer
	log    *slog.Logger
}

// NewEngine returns an engine for a validated config.
func NewEngine(cfg *Config, images, videos MetadataApplier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		images: images,
		videos: videos,
		namer:  newDestinationNamer(),
		log:    logger,
	}
}

// DiscoverRoots walks the search root and returns every directory named
// cfg.ExportFolder, in lexical order. Found folders and the output root are
// not descended into. Returns a NoExportFoundError when nothing matches.
func (e *Engine) DiscoverRoots() ([]string, error) {
	var roots []string
	err := filepath.WalkDir(e.cfg.SearchRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// a missing or unreadable search root simply yields no exports
			e.log.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path == e.cfg.OutputRoot {
			return filepath.SkipDir
		}
		if path != e.cfg.SearchRoot && d.Name() == e.cfg.ExportFolder {
			roots = append(roots, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", e.cfg.SearchRoot)
	}
	sort.Strings(roots)
	if len(roots) == 0 {
		return nil, &NoExportFoundError{SearchRoot: e.cfg.SearchRoot, Folder: e.cfg.ExportFolder}
	}
	return roots, nil
}

// Run discovers the export folders and merges them. The only errors it
// returns are a failed discovery and context cancellation; file failures
// are recorded in the summary.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:   uuid.NewString(),
		DryRun:  e.cfg.DryRun,
		Started: time.Now(),
	}
	defer func() { summary.Finished = time.Now() }()

	roots, err := e.DiscoverRoots()
	if err != nil {
		return summary, err
	}
	summary.Roots = roots

	if !e.cfg.DryRun {
		if err := os.MkdirAll(e.cfg.OutputRoot, 0755); err != nil {
			return summary, errors.Wrapf(err, "creating output root %s", e.cfg.OutputRoot)
		}
	}

	albums := make(map[string]bool)
	for _, root := range roots {
		if err := e.mergeRoot(ctx, root, summary, albums); err != nil {
			return summary, err
		}
	}
	summary.Albums = sortedKeys(albums)
	return summary, nil
}

// mergeRoot merges every album directory directly under root.
func (e *Engine) mergeRoot(ctx context.Context, root string, summary *Summary, albums map[string]bool) error {
	e.log.Info("processing export folder", "root", root)

	entries, err := os.ReadDir(root)
	if err != nil {
		e.log.Error("cannot list export folder", "root", root, "error", err)
		summary.AlbumFailures++
		return nil
	}

	for _, entry := range entries {
		srcAlbum := filepath.Join(root, entry.Name())
		info, err := os.Stat(srcAlbum)
		if err != nil || !info.IsDir() {
			continue
		}
		dstAlbum := filepath.Join(e.cfg.OutputRoot, entry.Name())
		if !e.cfg.DryRun {
			if err := os.MkdirAll(dstAlbum, 0755); err != nil {
				e.log.Error("cannot create album", "album", entry.Name(), "dst", dstAlbum, "error", err)
				summary.AlbumFailures++
				continue
			}
		}
		albums[entry.Name()] = true

		if err := e.mergeAlbum(ctx, entry.Name(), srcAlbum, dstAlbum, summary); err != nil {
			return err
		}
	}
	return nil
}

// mergeAlbum copies every file of one source album into its destination album.
func (e *Engine) mergeAlbum(ctx context.Context, album, srcAlbum, dstAlbum string, summary *Summary) error {
	entries, err := os.ReadDir(srcAlbum)
	if err != nil {
		e.log.Error("cannot list album", "album", album, "src", srcAlbum, "error", err)
		summary.AlbumFailures++
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	processed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		srcPath := filepath.Join(srcAlbum, name)
		info, err := os.Stat(srcPath)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		class := e.cfg.Classify(name)
		if class == ClassSidecar {
			continue
		}

		res := e.processFile(ctx, album, srcPath, dstAlbum, class)
		e.logResult(res)
		summary.Results = append(summary.Results, res)
		processed++
	}
	e.log.Info("album done", "album", album, "src", srcAlbum, "files", processed)
	return nil
}

// processFile runs classify → resolve → copy → sidecar → dispatch → cleanup
// for one file and never returns an error; failures land in the result.
func (e *Engine) processFile(ctx context.Context, album, srcPath, dstAlbum string, class FileClass) FileResult {
	res := FileResult{Album: album, Source: srcPath, Class: class}

	dst, err := e.namer.Resolve(dstAlbum, filepath.Base(srcPath))
	if err != nil {
		res.Outcome, res.Err = OutcomeCopyFailed, err
		return res
	}
	res.Destination = dst

	if !e.cfg.DryRun {
		if err := copyFile(srcPath, dst); err != nil {
			res.Outcome, res.Err = OutcomeCopyFailed, errors.Wrap(err, "copying")
			return res
		}
	}

	res.Outcome = OutcomeCopied
	if class == ClassImage || class == ClassVideo {
		e.embedSidecar(ctx, &res)
	}
	// after embedding, so size and hash describe the final file
	e.fillFileInfo(&res)
	return res
}

// embedSidecar applies the source's sidecar, if any, to the copied file and
// removes the sidecar once the write succeeded.
func (e *Engine) embedSidecar(ctx context.Context, res *FileResult) {
	sidecar := sidecarPath(res.Source)
	if _, err := os.Stat(sidecar); err != nil {
		if !os.IsNotExist(err) {
			e.log.Warn("cannot stat sidecar", "path", sidecar, "error", err)
		}
		return
	}
	res.Sidecar = sidecar

	rec, err := ReadSidecar(sidecar)
	if err != nil {
		res.Outcome, res.Err = OutcomeMetadataFailed, err
		return
	}
	res.Record = rec

	if e.cfg.DryRun {
		res.Outcome = OutcomeEmbedded
		return
	}

	applier := e.images
	if res.Class == ClassVideo {
		applier = e.videos
	}
	if err := applier.Apply(ctx, res.Destination, rec); err != nil {
		res.Outcome, res.Err = OutcomeMetadataFailed, err
		return
	}

	if err := os.Remove(sidecar); err != nil {
		res.Outcome, res.Err = OutcomeCleanupFailed, errors.Wrap(err, "removing sidecar")
		return
	}
	res.Outcome = OutcomeEmbedded
}

// fillFileInfo records size and hash for the manifest. Dry runs read the source.
func (e *Engine) fillFileInfo(res *FileResult) {
	if e.cfg.ManifestFile == "" {
		return
	}
	path := res.Destination
	if e.cfg.DryRun {
		path = res.Source
	}
	if info, err := os.Stat(path); err == nil {
		res.Size = info.Size()
	}
	res.Hash = getFileHash(path)
}

func (e *Engine) logResult(res FileResult) {
	attrs := []any{"album", res.Album, "src", res.Source, "dst", res.Destination, "class", res.Class.String()}
	switch {
	case res.Outcome.Failed():
		e.log.Error(res.Outcome.String(), append(attrs, "error", res.Err)...)
	case e.cfg.DryRun && res.Outcome == OutcomeEmbedded:
		e.log.Info("would copy, embed metadata and remove sidecar", attrs...)
	case e.cfg.DryRun:
		e.log.Info("would copy", attrs...)
	case res.Outcome == OutcomeEmbedded:
		e.log.Info("metadata embedded, sidecar removed", attrs...)
	default:
		e.log.Info("copied", attrs...)
	}
}
