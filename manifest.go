package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// =============================================================================
// Manifest Management
// =============================================================================

// manifestHeaders are the manifest CSV columns, keyed by destination path.
var manifestHeaders = []string{
	"run_id",          // Merge run that produced the row
	"album",           // Album name
	"source_path",     // Source file inside an export folder
	"destination",     // Path inside the output root
	"class",           // image, video or other
	"file_size_bytes", // Size in bytes
	"file_hash",       // MD5 hash of first 64KB
	"capture_date",    // Capture time from the sidecar
	"sidecar",         // Sidecar path, if any
	"outcome",         // copied, embedded, *-failed
	"error",           // Failure cause
	"processed_date",  // When the row was written
}

// destinationColumn is the index of the key column.
const destinationColumn = 3

// updateManifest merges the run's results into the CSV at path. Rows from
// earlier runs are kept; rows for the same destination are replaced.
// Failed copies have no destination and are keyed by source instead.
func updateManifest(path string, summary *Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	existing := make(map[string][]string)
	if f, err := os.Open(path); err == nil {
		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		records, err := reader.ReadAll()
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "reading manifest %s", path)
		}
		if len(records) > 0 {
			for _, row := range records[1:] {
				if len(row) > destinationColumn {
					existing[row[destinationColumn]] = row
				}
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	for _, r := range summary.Results {
		key := r.Destination
		if key == "" {
			key = r.Source
		}
		captured := ""
		if r.Record != nil {
			captured = r.Record.CapturedAtString()
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		existing[key] = []string{
			summary.RunID,
			r.Album,
			r.Source,
			key,
			r.Class.String(),
			fmt.Sprintf("%d", r.Size),
			r.Hash,
			captured,
			r.Sidecar,
			r.Outcome.String(),
			errText,
			now,
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write(manifestHeaders); err != nil {
		return err
	}

	// Sort entries by destination for consistent output
	keys := make([]string, 0, len(existing))
	for k := range existing {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := writer.Write(existing[k]); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return f.Close()
}
