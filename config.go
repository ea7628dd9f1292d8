package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// =============================================================================
// Configuration
// =============================================================================

// Video metadata backends.
const (
	backendExec     = "exec"      // one exiftool process per file
	backendStayOpen = "stay-open" // one persistent exiftool process for the run
)

// defaultExportFolder is the folder name the export tool gives each archive part.
const defaultExportFolder = "Google Foto"

// defaultOutputName is the output directory created under the search root.
const defaultOutputName = "GoogleFotoUnificati"

// defaultImageExts contains image extensions that receive embedded EXIF metadata.
var defaultImageExts = []string{".jpg", ".jpeg", ".png"}

// defaultVideoExts contains video extensions handled through the external tool.
var defaultVideoExts = []string{".mp4", ".mov", ".avi", ".mkv"}

// sidecarExt is the extension of the per-file metadata description.
const sidecarExt = ".json"

// Config holds everything a merge run needs. It is built once in main and
// handed to the engine; nothing else reads process-wide state.
type Config struct {
	SearchRoot   string        `yaml:"search_root"`
	OutputRoot   string        `yaml:"output_root"`
	ExportFolder string        `yaml:"export_folder"`
	ImageExts    []string      `yaml:"image_exts"`
	VideoExts    []string      `yaml:"video_exts"`
	ExifToolPath string        `yaml:"exiftool"`
	VideoBackend string        `yaml:"video_backend"`
	VideoTimeout time.Duration `yaml:"video_timeout"`
	StrictVideo  bool          `yaml:"strict_video"`
	DryRun       bool          `yaml:"dry_run"`
	ManifestFile string        `yaml:"manifest"`
	MetricsFile  string        `yaml:"metrics_file"`

	imageSet map[string]bool
	videoSet map[string]bool
}

// DefaultConfig returns the configuration used when no file or flag overrides it.
// The search root defaults to the current directory.
func DefaultConfig() (Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return Config{}, errors.Wrap(err, "getting current directory")
	}
	return Config{
		SearchRoot:   wd,
		ExportFolder: defaultExportFolder,
		ImageExts:    append([]string(nil), defaultImageExts...),
		VideoExts:    append([]string(nil), defaultVideoExts...),
		ExifToolPath: "exiftool",
		VideoBackend: backendExec,
		VideoTimeout: 2 * time.Minute,
		StrictVideo:  true,
	}, nil
}

// LoadConfigFile overlays the YAML document at path onto cfg.
// Keys missing from the file keep their current value.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return errors.Wrapf(err, "parsing config %s", path)
	}
	return nil
}

// Validate normalizes paths and extension sets and rejects unusable settings.
// It must be called before the config is handed to the engine.
func (c *Config) Validate() error {
	if c.SearchRoot == "" {
		return errors.New("search root is empty")
	}
	root, err := filepath.Abs(c.SearchRoot)
	if err != nil {
		return errors.Wrap(err, "resolving search root")
	}
	c.SearchRoot = root

	if c.OutputRoot == "" {
		c.OutputRoot = filepath.Join(c.SearchRoot, defaultOutputName)
	}
	out, err := filepath.Abs(c.OutputRoot)
	if err != nil {
		return errors.Wrap(err, "resolving output root")
	}
	c.OutputRoot = out
	if c.OutputRoot == c.SearchRoot {
		return errors.New("output root must differ from search root")
	}

	if strings.TrimSpace(c.ExportFolder) == "" {
		return errors.New("export folder name is empty")
	}

	c.imageSet = normalizeExts(c.ImageExts)
	c.videoSet = normalizeExts(c.VideoExts)
	if len(c.imageSet) == 0 {
		return errors.New("image extension set is empty")
	}
	if len(c.videoSet) == 0 {
		return errors.New("video extension set is empty")
	}
	for ext := range c.imageSet {
		if c.videoSet[ext] {
			return errors.Errorf("extension %s is both image and video", ext)
		}
	}
	if c.imageSet[sidecarExt] || c.videoSet[sidecarExt] {
		return errors.Errorf("extension %s is reserved for sidecars", sidecarExt)
	}
	c.ImageExts = sortedKeys(c.imageSet)
	c.VideoExts = sortedKeys(c.videoSet)

	switch c.VideoBackend {
	case backendExec, backendStayOpen:
	default:
		return errors.Errorf("unknown video backend %q", c.VideoBackend)
	}
	if c.VideoTimeout <= 0 {
		return errors.New("video timeout must be positive")
	}
	if c.ExifToolPath == "" {
		return errors.New("exiftool path is empty")
	}
	return nil
}

// normalizeExts lower-cases extensions and makes sure each has a leading dot.
func normalizeExts(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// File Type Detection
// =============================================================================

// FileClass is the processing category of a file, decided by its extension.
type FileClass int

const (
	ClassOther FileClass = iota
	ClassImage
	ClassVideo
	ClassSidecar
)

func (c FileClass) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassVideo:
		return "video"
	case ClassSidecar:
		return "sidecar"
	default:
		return "other"
	}
}

// Classify returns the class of a file name based on its lower-cased extension.
// Sidecars match the exact extension and are never iterated as media.
func (c *Config) Classify(name string) FileClass {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == sidecarExt:
		return ClassSidecar
	case c.imageSet[ext]:
		return ClassImage
	case c.videoSet[ext]:
		return ClassVideo
	default:
		return ClassOther
	}
}
