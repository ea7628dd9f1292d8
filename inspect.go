package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	mp4 "github.com/abema/go-mp4"
	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
)

// =============================================================================
// Embedded Metadata Inspection
// =============================================================================

// appleEpochOffset is the number of seconds between the Apple/Mac epoch
// (1904-01-01 00:00:00 UTC) and the Unix epoch (1970-01-01 00:00:00 UTC).
const appleEpochOffset = 2082844800

// isoBaseMediaExts are video extensions stored in ISO BMFF containers, which
// keep their creation time in the moov>mvhd box.
var isoBaseMediaExts = map[string]bool{
	".mp4": true,
	".mov": true,
	".m4v": true,
}

// EmbeddedMetadata is what a file carries in its own metadata block.
// Empty strings mean the field is absent.
type EmbeddedMetadata struct {
	DateTime         string
	DateTimeOriginal string
	Description      string
	LatitudeRef      string
	LongitudeRef     string
	Latitude         float64
	Longitude        float64
	HasGPS           bool
	CreationTime     time.Time // video containers only
}

// readImageMetadata decodes the EXIF block of an image.
func readImageMetadata(path string) (*EmbeddedMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "decoding EXIF")
	}

	md := &EmbeddedMetadata{
		DateTime:         exifString(x, exif.DateTime),
		DateTimeOriginal: exifString(x, exif.DateTimeOriginal),
		Description:      exifString(x, exif.ImageDescription),
		LatitudeRef:      exifString(x, exif.GPSLatitudeRef),
		LongitudeRef:     exifString(x, exif.GPSLongitudeRef),
	}
	if lat, lon, err := x.LatLong(); err == nil {
		md.Latitude, md.Longitude, md.HasGPS = lat, lon, true
	}
	return md, nil
}

// exifString returns the trimmed ASCII value of a tag, or "" when absent.
func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimRight(s, "\x00 ")
}

// readVideoCreationTime reads moov>mvhd from an ISO BMFF container and
// returns the creation time in UTC.
func readVideoCreationTime(path string) (time.Time, error) {
	if !isoBaseMediaExts[strings.ToLower(filepath.Ext(path))] {
		return time.Time{}, errors.Wrapf(ErrUnsupportedContainer, "%s is not an ISO BMFF container", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	boxes, err := mp4.ExtractBoxesWithPayload(f, nil, []mp4.BoxPath{
		{mp4.BoxTypeMoov(), mp4.BoxTypeMvhd()},
	})
	if err != nil {
		return time.Time{}, errors.Wrap(err, "reading MP4 structure")
	}

	for _, box := range boxes {
		mvhd, ok := box.Payload.(*mp4.Mvhd)
		if !ok {
			continue
		}
		creation := mvhd.GetCreationTime()
		if creation == 0 {
			return time.Time{}, errors.New("mvhd creation time is zero")
		}
		return time.Unix(int64(creation)-appleEpochOffset, 0).UTC(), nil
	}
	return time.Time{}, errors.Errorf("mvhd box not found in %s", path)
}

// Inspect reads the embedded metadata of an image or video according to cfg.
func Inspect(cfg *Config, path string) (*EmbeddedMetadata, error) {
	switch cfg.Classify(path) {
	case ClassImage:
		return readImageMetadata(path)
	case ClassVideo:
		t, err := readVideoCreationTime(path)
		if err != nil {
			return nil, err
		}
		return &EmbeddedMetadata{CreationTime: t}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedContainer, "%s is neither image nor video", filepath.Base(path))
	}
}
