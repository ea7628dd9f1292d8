package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tailscale/hujson"
)

// =============================================================================
// Sidecar Metadata
// =============================================================================

// exifTimeLayout is the timestamp layout shared by EXIF and exiftool date tags.
const exifTimeLayout = "2006:01:02 15:04:05"

// GeoPoint is a signed decimal-degree location.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// MetadataRecord is the parsed content of one sidecar. Absent fields are nil.
// A record is never modified after ParseSidecar returns it.
type MetadataRecord struct {
	CapturedAt  *time.Time
	Description *string
	Geo         *GeoPoint
}

// Empty reports whether the record carries nothing to embed.
func (r *MetadataRecord) Empty() bool {
	return r.CapturedAt == nil && r.Description == nil && r.Geo == nil
}

// CapturedAtString formats the capture time as "YYYY:MM:DD HH:MM:SS" in UTC.
func (r *MetadataRecord) CapturedAtString() string {
	if r.CapturedAt == nil {
		return ""
	}
	return r.CapturedAt.UTC().Format(exifTimeLayout)
}

// sidecarDoc mirrors the subset of the export tool's JSON that is consumed.
// Every key is optional; unknown keys are ignored.
type sidecarDoc struct {
	PhotoTakenTime *struct {
		Timestamp json.RawMessage `json:"timestamp"`
	} `json:"photoTakenTime"`
	Description *string `json:"description"`
	GeoData     *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"geoData"`
}

// sidecarPath returns where the sidecar of a media file lives: next to it,
// with ".json" appended to the full file name.
func sidecarPath(mediaPath string) string {
	return mediaPath + sidecarExt
}

// ReadSidecar loads and parses the sidecar file at path.
func ReadSidecar(path string) (*MetadataRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SidecarParseError{Path: path, Err: err}
	}
	rec, err := ParseSidecar(data)
	if err != nil {
		return nil, &SidecarParseError{Path: path, Err: err}
	}
	return rec, nil
}

// ParseSidecar decodes relaxed JSON (comments and trailing commas allowed)
// into a MetadataRecord. A 0,0 location is treated as absent.
func ParseSidecar(data []byte) (*MetadataRecord, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid JSON")
	}
	var doc sidecarDoc
	if err := json.Unmarshal(std, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding sidecar")
	}

	rec := &MetadataRecord{Description: doc.Description}

	if doc.PhotoTakenTime != nil && len(doc.PhotoTakenTime.Timestamp) > 0 {
		ts, ok, err := parseUnixTimestamp(doc.PhotoTakenTime.Timestamp)
		if err != nil {
			return nil, errors.Wrap(err, "photoTakenTime.timestamp")
		}
		if ok {
			t := time.Unix(ts, 0).UTC()
			rec.CapturedAt = &t
		}
	}

	if g := doc.GeoData; g != nil && g.Latitude != nil && g.Longitude != nil {
		lat, lon := *g.Latitude, *g.Longitude
		if lat < -90 || lat > 90 {
			return nil, errors.Errorf("latitude %f out of range [-90, 90]", lat)
		}
		if lon < -180 || lon > 180 {
			return nil, errors.Errorf("longitude %f out of range [-180, 180]", lon)
		}
		if lat != 0 || lon != 0 {
			rec.Geo = &GeoPoint{Latitude: lat, Longitude: lon}
		}
	}

	return rec, nil
}

// Capture times must fit the four-digit year of the EXIF date layout.
var (
	minTimestamp = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxTimestamp = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// parseUnixTimestamp accepts seconds since the epoch as a JSON string or number.
// An empty string or null reports ok=false.
func parseUnixTimestamp(raw json.RawMessage) (int64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}

	var text string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0, false, nil
		}
	} else {
		text = string(raw)
	}

	if ts, err := strconv.ParseInt(text, 10, 64); err == nil {
		if ts < minTimestamp || ts > maxTimestamp {
			return 0, false, errors.Errorf("timestamp %s outside years 0000-9999", text)
		}
		return ts, true, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, errors.Errorf("not a unix timestamp: %s", text)
	}
	if f < float64(minTimestamp) || f > float64(maxTimestamp) {
		return 0, false, errors.Errorf("timestamp %s outside years 0000-9999", text)
	}
	return int64(f), true, nil
}
