package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	"github.com/pkg/errors"
)

// =============================================================================
// Image Metadata
// =============================================================================

// EXIF sub-IFD paths used when building the tag tree.
const (
	ifdExif = "IFD/Exif"
	ifdGPS  = "IFD/GPSInfo"
)

// jpegExts are the image extensions the native EXIF codec can rewrite.
var jpegExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
}

// ImageWriter embeds a MetadataRecord into an image file in place.
// JPEG files are rewritten natively; other containers go through fallback
// when one is configured.
type ImageWriter struct {
	fallback MetadataSink
}

// NewImageWriter returns an ImageWriter. fallback may be nil.
func NewImageWriter(fallback MetadataSink) *ImageWriter {
	return &ImageWriter{fallback: fallback}
}

// Apply writes rec into the image at path. A record with nothing to embed
// leaves the file untouched.
func (w *ImageWriter) Apply(ctx context.Context, path string, rec *MetadataRecord) error {
	if rec.Empty() {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if jpegExts[ext] {
		return writeJpegExif(path, rec)
	}
	if w.fallback == nil {
		return &MetadataWriteError{Path: path, Err: errors.Wrapf(ErrUnsupportedContainer, "no EXIF codec for %s", ext)}
	}
	if err := w.fallback.Write(ctx, path, imageToolArgs(rec)); err != nil {
		return &MetadataWriteError{Path: path, Err: err}
	}
	return nil
}

// writeJpegExif reads the JPEG's EXIF block (or starts an empty one when the
// file has none), sets the record's tags and writes the file back in place.
// Pixel data and other segments are carried over unchanged.
func writeJpegExif(path string, rec *MetadataRecord) (err error) {
	defer func() {
		// the codec reports some malformed input by panicking
		if r := recover(); r != nil {
			err = &MetadataWriteError{Path: path, Err: fmt.Errorf("exif codec: %v", r)}
		}
	}()

	parsed, err := jpegstructure.NewJpegMediaParser().ParseFile(path)
	if err != nil {
		return &MetadataReadError{Path: path, Err: err}
	}
	sl, ok := parsed.(*jpegstructure.SegmentList)
	if !ok {
		return &MetadataReadError{Path: path, Err: errors.Errorf("unexpected parser result %T", parsed)}
	}
	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		return &MetadataReadError{Path: path, Err: err}
	}

	if err := applyExifTags(rootIb, rec); err != nil {
		return &MetadataWriteError{Path: path, Err: err}
	}
	if err := sl.SetExif(rootIb); err != nil {
		return &MetadataWriteError{Path: path, Err: errors.Wrap(err, "encoding EXIF")}
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return &MetadataWriteError{Path: path, Err: errors.Wrap(err, "serializing JPEG")}
	}
	if err := replaceFileContents(path, buf.Bytes()); err != nil {
		return &MetadataWriteError{Path: path, Err: err}
	}
	return nil
}

// applyExifTags sets DateTime, DateTimeOriginal, ImageDescription and the
// four GPS position tags according to which record fields are present.
func applyExifTags(rootIb *exif.IfdBuilder, rec *MetadataRecord) error {
	// the root builder is IFD0
	if rec.CapturedAt != nil {
		if err := rootIb.SetStandardWithName("DateTime", rec.CapturedAtString()); err != nil {
			return errors.Wrap(err, "setting DateTime")
		}
	}
	if rec.Description != nil {
		if err := rootIb.SetStandardWithName("ImageDescription", *rec.Description); err != nil {
			return errors.Wrap(err, "setting ImageDescription")
		}
	}

	if rec.CapturedAt != nil {
		exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, ifdExif)
		if err != nil {
			return errors.Wrap(err, "opening Exif IFD")
		}
		if err := exifIb.SetStandardWithName("DateTimeOriginal", rec.CapturedAtString()); err != nil {
			return errors.Wrap(err, "setting DateTimeOriginal")
		}
	}

	if rec.Geo != nil {
		gpsIb, err := exif.GetOrCreateIbFromRootIb(rootIb, ifdGPS)
		if err != nil {
			return errors.Wrap(err, "opening GPS IFD")
		}
		tags := []struct {
			name  string
			value interface{}
		}{
			{"GPSLatitudeRef", latitudeRef(rec.Geo.Latitude)},
			{"GPSLatitude", exifRationals(EncodeDMS(rec.Geo.Latitude))},
			{"GPSLongitudeRef", longitudeRef(rec.Geo.Longitude)},
			{"GPSLongitude", exifRationals(EncodeDMS(rec.Geo.Longitude))},
		}
		for _, tag := range tags {
			if err := gpsIb.SetStandardWithName(tag.name, tag.value); err != nil {
				return errors.Wrapf(err, "setting %s", tag.name)
			}
		}
	}
	return nil
}

func exifRationals(d DMS) []exifcommon.Rational {
	out := make([]exifcommon.Rational, len(d))
	for i, r := range d {
		out[i] = exifcommon.Rational{Numerator: r.Numerator, Denominator: r.Denominator}
	}
	return out
}

// imageToolArgs translates a record into exiftool assignments for image
// containers without a native codec.
func imageToolArgs(rec *MetadataRecord) []string {
	var args []string
	if rec.CapturedAt != nil {
		dt := rec.CapturedAtString()
		args = append(args, "-ModifyDate="+dt, "-DateTimeOriginal="+dt)
	}
	if rec.Description != nil {
		args = append(args, "-ImageDescription="+*rec.Description)
	}
	if rec.Geo != nil {
		args = append(args,
			"-GPSLatitudeRef="+latitudeRef(rec.Geo.Latitude),
			fmt.Sprintf("-GPSLatitude=%.6f", EncodeDMS(rec.Geo.Latitude).Degrees()),
			"-GPSLongitudeRef="+longitudeRef(rec.Geo.Longitude),
			fmt.Sprintf("-GPSLongitude=%.6f", EncodeDMS(rec.Geo.Longitude).Degrees()),
		)
	}
	return args
}

// replaceFileContents rewrites path through a temporary sibling and a rename,
// keeping the original permission bits and modification time.
func replaceFileContents(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "writing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "restoring permissions")
	}
	if err := os.Chtimes(tmpName, info.ModTime(), info.ModTime()); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "restoring timestamps")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replacing file")
	}
	return nil
}
