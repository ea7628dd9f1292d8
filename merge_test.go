package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
)

// fakeApplier records Apply calls and optionally fails them.
type fakeApplier struct {
	paths []string
	err   error
}

func (f *fakeApplier) Apply(ctx context.Context, path string, rec *MetadataRecord) error {
	f.paths = append(f.paths, path)
	return f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func exportAlbum(cfg *Config, part, album string) string {
	return filepath.Join(cfg.SearchRoot, part, cfg.ExportFolder, album)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestEngine_EmbedsImageMetadataAndRemovesSidecar(t *testing.T) {
	cfg := testConfig(t)
	album := exportAlbum(cfg, "takeout-001", "Trip")
	writeTestJPEG(t, filepath.Join(album, "photo.jpg"))
	sidecar := filepath.Join(album, "photo.jpg.json")
	writeFile(t, sidecar, `{"photoTakenTime":{"timestamp":"1700000000"},"description":"Beach","geoData":{"latitude":40.7,"longitude":-74.0}}`)

	videos := &fakeApplier{}
	summary, err := NewEngine(cfg, NewImageWriter(nil), videos, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	dst := filepath.Join(cfg.OutputRoot, "Trip", "photo.jpg")
	md, err := readImageMetadata(dst)
	if err != nil {
		t.Fatalf("readImageMetadata(%s): %v", dst, err)
	}
	if md.DateTimeOriginal != "2023:11:14 22:13:20" || md.DateTime != "2023:11:14 22:13:20" {
		t.Errorf("timestamps = %q / %q", md.DateTime, md.DateTimeOriginal)
	}
	if md.Description != "Beach" {
		t.Errorf("Description = %q", md.Description)
	}
	if md.LatitudeRef != "N" || md.LongitudeRef != "W" {
		t.Errorf("GPS refs = %q/%q, want N/W", md.LatitudeRef, md.LongitudeRef)
	}
	if fileExists(sidecar) {
		t.Error("sidecar still present in source tree")
	}
	if !fileExists(filepath.Join(album, "photo.jpg")) {
		t.Error("source media file was removed")
	}
	if names := listDir(t, filepath.Join(cfg.OutputRoot, "Trip")); !reflect.DeepEqual(names, []string{"photo.jpg"}) {
		t.Errorf("destination album = %v, want only photo.jpg", names)
	}
	if len(videos.paths) != 0 {
		t.Errorf("video writer called for an image: %v", videos.paths)
	}
	if summary.Count(OutcomeEmbedded) != 1 || summary.Failures() != 0 {
		t.Errorf("summary = %+v", summary.Results)
	}
}

func TestEngine_MergesSameAlbumAcrossRoots(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(exportAlbum(cfg, "takeout-001", "Family"), "a.mp4"), "first")
	writeFile(t, filepath.Join(exportAlbum(cfg, "takeout-002", "Family"), "a.mp4"), "second")

	summary, err := NewEngine(cfg, &fakeApplier{}, &fakeApplier{}, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	family := filepath.Join(cfg.OutputRoot, "Family")
	if names := listDir(t, family); !reflect.DeepEqual(names, []string{"a.mp4", "a_1.mp4"}) {
		t.Fatalf("Family = %v, want [a.mp4 a_1.mp4]", names)
	}
	first, _ := os.ReadFile(filepath.Join(family, "a.mp4"))
	second, _ := os.ReadFile(filepath.Join(family, "a_1.mp4"))
	if string(first) != "first" || string(second) != "second" {
		t.Errorf("contents = %q, %q; want roots in lexical order", first, second)
	}
	if len(summary.Roots) != 2 || !reflect.DeepEqual(summary.Albums, []string{"Family"}) {
		t.Errorf("roots = %v, albums = %v", summary.Roots, summary.Albums)
	}
}

func TestEngine_DispatchesVideos(t *testing.T) {
	cfg := testConfig(t)
	album := exportAlbum(cfg, "part", "Clips")
	writeFile(t, filepath.Join(album, "clip.MOV"), "video")
	sidecar := filepath.Join(album, "clip.MOV.json")
	writeFile(t, sidecar, `{"description":"Party"}`)

	images, videos := &fakeApplier{}, &fakeApplier{}
	if _, err := NewEngine(cfg, images, videos, quietLogger()).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(cfg.OutputRoot, "Clips", "clip.MOV")}
	if !reflect.DeepEqual(videos.paths, want) {
		t.Errorf("video writer paths = %v, want %v", videos.paths, want)
	}
	if len(images.paths) != 0 {
		t.Errorf("image writer called: %v", images.paths)
	}
	if fileExists(sidecar) {
		t.Error("sidecar not removed after successful dispatch")
	}
}

func TestEngine_SidecarKeptWhenDispatchFails(t *testing.T) {
	cfg := testConfig(t)
	album := exportAlbum(cfg, "part", "Clips")
	writeFile(t, filepath.Join(album, "clip.mp4"), "video")
	sidecar := filepath.Join(album, "clip.mp4.json")
	writeFile(t, sidecar, `{"description":"Party"}`)

	videos := &fakeApplier{err: &VideoToolError{Path: "x", ExitCode: 1}}
	summary, err := NewEngine(cfg, &fakeApplier{}, videos, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !fileExists(sidecar) {
		t.Error("sidecar removed although dispatch failed")
	}
	if !fileExists(filepath.Join(cfg.OutputRoot, "Clips", "clip.mp4")) {
		t.Error("media file not copied")
	}
	if got := summary.Count(OutcomeMetadataFailed); got != 1 {
		t.Errorf("metadata failures = %d, want 1", got)
	}
	var toolErr *VideoToolError
	if !errors.As(summary.Results[0].Err, &toolErr) {
		t.Errorf("result error = %v", summary.Results[0].Err)
	}
}

func TestEngine_SidecarKeptWhenParseFails(t *testing.T) {
	cfg := testConfig(t)
	album := exportAlbum(cfg, "part", "Trip")
	writeTestJPEG(t, filepath.Join(album, "photo.jpg"))
	sidecar := filepath.Join(album, "photo.jpg.json")
	writeFile(t, sidecar, `{"photoTakenTime":`)

	images := &fakeApplier{}
	summary, err := NewEngine(cfg, images, &fakeApplier{}, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !fileExists(sidecar) {
		t.Error("sidecar removed although it could not be parsed")
	}
	if len(images.paths) != 0 {
		t.Error("writer called for an unparsable sidecar")
	}
	var parseErr *SidecarParseError
	if len(summary.Results) != 1 || !errors.As(summary.Results[0].Err, &parseErr) {
		t.Errorf("results = %+v", summary.Results)
	}
}

func TestEngine_NoSidecarCopiesUnmodified(t *testing.T) {
	cfg := testConfig(t)
	album := exportAlbum(cfg, "part", "Trip")
	src := filepath.Join(album, "photo.jpg")
	writeTestJPEG(t, src)

	images := &fakeApplier{}
	summary, err := NewEngine(cfg, images, &fakeApplier{}, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(images.paths) != 0 {
		t.Error("writer called without a sidecar")
	}
	before, _ := os.ReadFile(src)
	after, _ := os.ReadFile(filepath.Join(cfg.OutputRoot, "Trip", "photo.jpg"))
	if string(before) != string(after) {
		t.Error("copy differs from source")
	}
	if summary.Count(OutcomeCopied) != 1 {
		t.Errorf("results = %+v", summary.Results)
	}
}

func TestEngine_OtherFilesCopiedVerbatim(t *testing.T) {
	cfg := testConfig(t)
	album := exportAlbum(cfg, "part", "Docs")
	writeFile(t, filepath.Join(album, "notes.txt"), "hello")
	writeFile(t, filepath.Join(album, "notes.txt.json"), `{"description":"ignored"}`)
	writeFile(t, filepath.Join(album, "metadata.json"), `{"title":"Docs"}`)

	images, videos := &fakeApplier{}, &fakeApplier{}
	if _, err := NewEngine(cfg, images, videos, quietLogger()).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	dstAlbum := filepath.Join(cfg.OutputRoot, "Docs")
	if names := listDir(t, dstAlbum); !reflect.DeepEqual(names, []string{"notes.txt"}) {
		t.Errorf("Docs = %v, want only notes.txt (sidecars never copied)", names)
	}
	data, _ := os.ReadFile(filepath.Join(dstAlbum, "notes.txt"))
	if string(data) != "hello" {
		t.Errorf("notes.txt = %q", data)
	}
	if !fileExists(filepath.Join(album, "notes.txt.json")) {
		t.Error("sidecar of a non-media file was removed")
	}
	if len(images.paths)+len(videos.paths) != 0 {
		t.Error("writer called for a non-media file")
	}
}

func TestEngine_ZeroGeoWritesNoGPS(t *testing.T) {
	cfg := testConfig(t)
	album := exportAlbum(cfg, "part", "Home")
	writeTestJPEG(t, filepath.Join(album, "p.jpg"))
	writeFile(t, filepath.Join(album, "p.jpg.json"), `{"geoData":{"latitude":0,"longitude":0}}`)

	summary, err := NewEngine(cfg, NewImageWriter(nil), &fakeApplier{}, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Count(OutcomeEmbedded) != 1 {
		t.Fatalf("results = %+v", summary.Results)
	}
	// nothing to embed, so the copy still has no EXIF block at all
	if md, err := readImageMetadata(filepath.Join(cfg.OutputRoot, "Home", "p.jpg")); err == nil && (md.HasGPS || md.LatitudeRef != "") {
		t.Errorf("GPS written for 0,0: %+v", md)
	}
}

func TestEngine_NoExportFound(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.SearchRoot, "random", "file.jpg"), "x")

	_, err := NewEngine(cfg, &fakeApplier{}, &fakeApplier{}, quietLogger()).Run(context.Background())
	var noExport *NoExportFoundError
	if !errors.As(err, &noExport) {
		t.Fatalf("Run error = %v, want *NoExportFoundError", err)
	}
	if fileExists(cfg.OutputRoot) {
		t.Error("output root created although nothing was found")
	}
}

func TestEngine_DiscoverySkipsOutputAndNestedExports(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(exportAlbum(cfg, "b", "A"), "x.txt"), "x")
	writeFile(t, filepath.Join(exportAlbum(cfg, "a", "A"), "y.txt"), "y")
	// an album that happens to share the export folder name
	writeFile(t, filepath.Join(exportAlbum(cfg, "a", cfg.ExportFolder), "z.txt"), "z")
	// leftovers in the output root must not be treated as a source
	writeFile(t, filepath.Join(cfg.OutputRoot, cfg.ExportFolder, "Old", "o.txt"), "o")

	roots, err := NewEngine(cfg, nil, nil, quietLogger()).DiscoverRoots()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(cfg.SearchRoot, "a", cfg.ExportFolder),
		filepath.Join(cfg.SearchRoot, "b", cfg.ExportFolder),
	}
	if !reflect.DeepEqual(roots, want) {
		t.Errorf("roots = %v, want %v", roots, want)
	}
}

func TestEngine_SkipsFilesAtExportRoot(t *testing.T) {
	cfg := testConfig(t)
	root := filepath.Join(cfg.SearchRoot, "part", cfg.ExportFolder)
	writeFile(t, filepath.Join(root, "stray.jpg"), "x")
	writeFile(t, filepath.Join(root, "Album", "in.txt"), "y")

	summary, err := NewEngine(cfg, &fakeApplier{}, &fakeApplier{}, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if names := listDir(t, cfg.OutputRoot); !reflect.DeepEqual(names, []string{"Album"}) {
		t.Errorf("output = %v, want [Album]", names)
	}
	if len(summary.Results) != 1 {
		t.Errorf("results = %+v", summary.Results)
	}
}

func TestEngine_DryRunChangesNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = true
	first := exportAlbum(cfg, "p1", "Family")
	second := exportAlbum(cfg, "p2", "Family")
	writeFile(t, filepath.Join(first, "a.mp4"), "1")
	writeFile(t, filepath.Join(first, "a.mp4.json"), `{"description":"x"}`)
	writeFile(t, filepath.Join(second, "a.mp4"), "2")

	videos := &fakeApplier{}
	summary, err := NewEngine(cfg, &fakeApplier{}, videos, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fileExists(cfg.OutputRoot) {
		t.Error("dry run created the output root")
	}
	if !fileExists(filepath.Join(first, "a.mp4.json")) {
		t.Error("dry run removed a sidecar")
	}
	if len(videos.paths) != 0 {
		t.Error("dry run called a writer")
	}
	var dsts []string
	for _, r := range summary.Results {
		dsts = append(dsts, filepath.Base(r.Destination))
	}
	if !reflect.DeepEqual(dsts, []string{"a.mp4", "a_1.mp4"}) {
		t.Errorf("planned names = %v", dsts)
	}
	if summary.Count(OutcomeEmbedded) != 1 {
		t.Errorf("planned embeds = %d, want 1", summary.Count(OutcomeEmbedded))
	}
}

func TestEngine_RerunRenamesInsteadOfOverwriting(t *testing.T) {
	cfg := testConfig(t)
	album := exportAlbum(cfg, "part", "Trip")
	writeFile(t, filepath.Join(album, "a.txt"), "x")

	for i := 0; i < 2; i++ {
		if _, err := NewEngine(cfg, &fakeApplier{}, &fakeApplier{}, quietLogger()).Run(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if names := listDir(t, filepath.Join(cfg.OutputRoot, "Trip")); !reflect.DeepEqual(names, []string{"a.txt", "a_1.txt"}) {
		t.Errorf("Trip = %v", names)
	}
}

func TestEngine_Cancelled(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(exportAlbum(cfg, "part", "Trip"), "a.txt"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := NewEngine(cfg, &fakeApplier{}, &fakeApplier{}, quietLogger()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if len(summary.Results) != 0 {
		t.Errorf("files processed after cancellation: %+v", summary.Results)
	}
}

func TestEngine_MissingSearchRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.SearchRoot = filepath.Join(cfg.SearchRoot, "does-not-exist")

	_, err := NewEngine(cfg, &fakeApplier{}, &fakeApplier{}, quietLogger()).DiscoverRoots()
	var noExport *NoExportFoundError
	if !errors.As(err, &noExport) {
		t.Errorf("error = %v, want *NoExportFoundError", err)
	}
}

func TestEngine_FileInfoDescribesFinalFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.ManifestFile = filepath.Join(t.TempDir(), "manifest.csv")
	album := exportAlbum(cfg, "takeout-001", "Trip")
	src := filepath.Join(album, "photo.jpg")
	writeTestJPEG(t, src)
	writeFile(t, src+".json", `{"photoTakenTime":{"timestamp":"1700000000"},"description":"Beach"}`)

	summary, err := NewEngine(cfg, NewImageWriter(nil), &fakeApplier{}, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Results) != 1 || summary.Results[0].Outcome != OutcomeEmbedded {
		t.Fatalf("results = %+v", summary.Results)
	}
	res := summary.Results[0]

	info, err := os.Stat(res.Destination)
	if err != nil {
		t.Fatal(err)
	}
	if res.Size != info.Size() {
		t.Errorf("Size = %d, want %d", res.Size, info.Size())
	}
	if want := getFileHash(res.Destination); res.Hash != want {
		t.Errorf("Hash = %s, want hash of embedded file %s", res.Hash, want)
	}
	if res.Hash == getFileHash(src) {
		t.Error("Hash matches the source, metadata was not accounted for")
	}
}

func TestEngine_DryRunLogsPlannedActions(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = true
	album := exportAlbum(cfg, "p1", "Family")
	writeFile(t, filepath.Join(album, "a.mp4"), "1")
	writeFile(t, filepath.Join(album, "a.mp4.json"), `{"description":"x"}`)
	writeFile(t, filepath.Join(album, "notes.txt"), "n")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	if _, err := NewEngine(cfg, &fakeApplier{}, &fakeApplier{}, logger).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"would copy, embed metadata and remove sidecar", `msg="would copy"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "sidecar removed") || strings.Contains(out, `msg=copied`) {
		t.Errorf("dry run logged a completed action:\n%s", out)
	}
}
