// Takeout Merge - consolidate a sharded photo export into one album tree
//
// This tool finds every export folder ("Google Foto" by default) under a
// search root, merges their album subfolders into a single output tree, and
// embeds each media file's JSON sidecar (capture time, description, GPS)
// into the copied file's own metadata block.
//
// Features:
//   - Recursive discovery of export folders across archive parts
//   - Album merging with _1, _2, ... suffixes on name collisions
//   - EXIF embedding for JPEG images, exiftool for videos and other images
//   - Relaxed JSON sidecars (comments, trailing commas)
//   - Sidecar removal after a successful embed
//   - Dry-run, manifest CSV and Prometheus textfile metrics
//
// Usage:
//
//	takeout-merge                        # Merge exports under the current directory
//	takeout-merge --root ~/Downloads     # Use a custom search root
//	takeout-merge -n                     # Preview without writing anything
//	takeout-merge inspect photo.jpg      # Show embedded metadata
//
// Expected directory structure:
//
//	Downloads/
//	├── takeout-001/Google Foto/<album>/<file>, <file>.json
//	├── takeout-002/Google Foto/<album>/...
//	└── GoogleFotoUnificati/<album>/  <- merged output
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Exit statuses.
const (
	exitOK            = 0
	exitFailure       = 1
	exitNoExportFound = 2
)

// exitError carries the process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// cliOptions holds flag values that are not part of Config.
type cliOptions struct {
	configFile   string
	verbose      bool
	lenientVideo bool
}

// =============================================================================
// Commands
// =============================================================================

func newRootCmd() *cobra.Command {
	return newMergeCmd(runMerge)
}

// newMergeCmd builds the command tree; run receives the validated config.
func newMergeCmd(run func(context.Context, *Config) error) *cobra.Command {
	cfg, cfgErr := DefaultConfig()
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "takeout-merge",
		Short: "Merge photo export folders into one album tree with embedded metadata",
		Long: `Merge every export folder found under the search root into one album tree.

Albums with the same name are merged; colliding file names get a numeric
suffix. Each image or video with a <file>.json sidecar gets the sidecar's
capture time, description and location embedded, and the sidecar is then
removed from the source tree. Original media files are never deleted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil {
				return &exitError{code: exitFailure, err: cfgErr}
			}
			setupLogging(opts.verbose)
			return loadConfig(cmd, &cfg, opts)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &cfg)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configFile, "config", "", "YAML config file (flags override it)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	f.StringSliceVar(&cfg.ImageExts, "image-exts", cfg.ImageExts, "Image extensions that get EXIF metadata")
	f.StringSliceVar(&cfg.VideoExts, "video-exts", cfg.VideoExts, "Video extensions handled by exiftool")

	lf := cmd.Flags()
	lf.StringVar(&cfg.SearchRoot, "root", cfg.SearchRoot, "Directory searched for export folders")
	lf.StringVarP(&cfg.OutputRoot, "output", "o", "", "Output directory (default: <root>/"+defaultOutputName+")")
	lf.StringVar(&cfg.ExportFolder, "export-folder", cfg.ExportFolder, "Name of the export folders to merge")
	lf.StringVar(&cfg.ExifToolPath, "exiftool", cfg.ExifToolPath, "exiftool binary")
	lf.StringVar(&cfg.VideoBackend, "video-backend", cfg.VideoBackend, "exiftool mode: exec (one process per file) or stay-open")
	lf.DurationVar(&cfg.VideoTimeout, "video-timeout", cfg.VideoTimeout, "Timeout for one exiftool run (exec backend)")
	lf.BoolVar(&opts.lenientVideo, "lenient-video", false, "Ignore exiftool failures and remove the sidecar anyway")
	lf.BoolVarP(&cfg.DryRun, "dry-run", "n", false, "Show what would happen without writing anything")
	lf.StringVar(&cfg.ManifestFile, "manifest", "", "Write a CSV manifest of every file to this path")
	lf.StringVar(&cfg.MetricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")

	cmd.AddCommand(newInspectCmd(&cfg))
	return cmd
}

func newInspectCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Print the metadata embedded in images and videos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				md, err := Inspect(cfg, path)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					failed++
					continue
				}
				printEmbedded(cmd, path, md)
			}
			if failed > 0 {
				return &exitError{code: exitFailure, err: errors.Errorf("%d of %d files could not be read", failed, len(args))}
			}
			return nil
		},
	}
}

func printEmbedded(cmd *cobra.Command, path string, md *EmbeddedMetadata) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", path)
	if !md.CreationTime.IsZero() {
		fmt.Fprintf(out, "  CreationTime:     %s\n", md.CreationTime.Format(exifTimeLayout))
		return
	}
	fmt.Fprintf(out, "  DateTime:         %s\n", md.DateTime)
	fmt.Fprintf(out, "  DateTimeOriginal: %s\n", md.DateTimeOriginal)
	fmt.Fprintf(out, "  Description:      %s\n", md.Description)
	if md.HasGPS {
		fmt.Fprintf(out, "  GPS:              %.6f %s, %.6f %s\n", md.Latitude, md.LatitudeRef, md.Longitude, md.LongitudeRef)
	}
}

// loadConfig layers the YAML file under flags the user actually set, then
// validates the result.
func loadConfig(cmd *cobra.Command, cfg *Config, opts *cliOptions) error {
	if opts.configFile != "" {
		flagged := *cfg
		if err := LoadConfigFile(opts.configFile, cfg); err != nil {
			return &exitError{code: exitFailure, err: err}
		}
		restoreChangedFlags(cmd, cfg, &flagged)
	}
	if opts.lenientVideo {
		cfg.StrictVideo = false
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: exitFailure, err: errors.Wrap(err, "invalid configuration")}
	}
	return nil
}

// restoreChangedFlags puts back values given on the command line after a
// config file overwrote them.
func restoreChangedFlags(cmd *cobra.Command, cfg, flagged *Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("root") {
		cfg.SearchRoot = flagged.SearchRoot
	}
	if changed("output") {
		cfg.OutputRoot = flagged.OutputRoot
	}
	if changed("export-folder") {
		cfg.ExportFolder = flagged.ExportFolder
	}
	if changed("image-exts") {
		cfg.ImageExts = flagged.ImageExts
	}
	if changed("video-exts") {
		cfg.VideoExts = flagged.VideoExts
	}
	if changed("exiftool") {
		cfg.ExifToolPath = flagged.ExifToolPath
	}
	if changed("video-backend") {
		cfg.VideoBackend = flagged.VideoBackend
	}
	if changed("video-timeout") {
		cfg.VideoTimeout = flagged.VideoTimeout
	}
	if changed("dry-run") {
		cfg.DryRun = flagged.DryRun
	}
	if changed("manifest") {
		cfg.ManifestFile = flagged.ManifestFile
	}
	if changed("metrics-file") {
		cfg.MetricsFile = flagged.MetricsFile
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// =============================================================================
// Merge Run
// =============================================================================

func runMerge(ctx context.Context, cfg *Config) error {
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("Takeout Merge")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Search root: %s\n", cfg.SearchRoot)
	fmt.Printf("Output:      %s\n", cfg.OutputRoot)
	fmt.Println()
	if cfg.DryRun {
		fmt.Println("[DRY RUN MODE - nothing is copied, written or deleted]")
		fmt.Println()
	}

	sink, err := newMetadataSink(cfg)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	defer func() {
		if err := sink.Close(); err != nil {
			slog.Warn("closing exiftool", "error", err)
		}
	}()

	engine := NewEngine(cfg, NewImageWriter(sink), NewVideoWriter(sink), slog.Default())
	summary, err := engine.Run(ctx)
	if err != nil {
		var noExport *NoExportFoundError
		if errors.As(err, &noExport) {
			return &exitError{code: exitNoExportFound, err: err}
		}
		if !errors.Is(err, context.Canceled) {
			return &exitError{code: exitFailure, err: err}
		}
		slog.Warn("interrupted, writing partial results")
	}

	if cfg.ManifestFile != "" {
		if err := updateManifest(cfg.ManifestFile, summary); err != nil {
			slog.Error("updating manifest", "path", cfg.ManifestFile, "error", err)
		}
	}
	if cfg.MetricsFile != "" {
		if err := writeMetrics(cfg.MetricsFile, summary); err != nil {
			slog.Error("writing metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	printSummary(summary)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	return nil
}

func printSummary(s *Summary) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Export folders:  %d\n", len(s.Roots))
	fmt.Printf("Albums:          %d\n", len(s.Albums))
	fmt.Printf("Files:           %d\n", len(s.Results))
	fmt.Printf("  with metadata: %d\n", s.Count(OutcomeEmbedded))
	fmt.Printf("  copied only:   %d\n", s.Count(OutcomeCopied))
	if n := s.Failures(); n > 0 {
		fmt.Printf("  failed:        %d (see log)\n", n)
	}
	if s.AlbumFailures > 0 {
		fmt.Printf("Album failures:  %d\n", s.AlbumFailures)
	}
	fmt.Printf("Took:            %s\n", s.Finished.Sub(s.Started).Round(time.Millisecond))
	fmt.Println(strings.Repeat("=", 50))
	if s.DryRun {
		fmt.Println("\n[DRY RUN] Done, nothing was changed.")
	} else {
		fmt.Println("\nDone! Files merged, metadata embedded, sidecars removed.")
	}
}

// =============================================================================
// Main Entry Point
// =============================================================================

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		os.Exit(exitOK)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	code := exitFailure
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	os.Exit(code)
}
