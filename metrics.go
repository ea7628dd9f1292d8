package main

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// Run Metrics
// =============================================================================

// writeMetrics exports the summary in the Prometheus text format so a
// node_exporter textfile collector can pick it up after each run.
func writeMetrics(path string, summary *Summary) error {
	reg := prometheus.NewRegistry()

	files := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "takeout_merge_files",
		Help: "Files handled by the last merge run, by class and outcome.",
	}, []string{"class", "outcome"})
	roots := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "takeout_merge_export_folders",
		Help: "Export folders discovered by the last merge run.",
	})
	albums := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "takeout_merge_albums",
		Help: "Distinct destination albums written by the last merge run.",
	})
	albumFailures := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "takeout_merge_album_failures",
		Help: "Albums that could not be listed or created.",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "takeout_merge_duration_seconds",
		Help: "Wall time of the last merge run.",
	})
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "takeout_merge_last_run_timestamp_seconds",
		Help: "Unix time the last merge run finished.",
	})

	for _, c := range []prometheus.Collector{files, roots, albums, albumFailures, duration, finished} {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "registering metric")
		}
	}

	for _, r := range summary.Results {
		files.WithLabelValues(r.Class.String(), r.Outcome.String()).Inc()
	}
	roots.Set(float64(len(summary.Roots)))
	albums.Set(float64(len(summary.Albums)))
	albumFailures.Set(float64(summary.AlbumFailures))
	duration.Set(summary.Finished.Sub(summary.Started).Seconds())
	finished.Set(float64(summary.Finished.Unix()))

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return errors.Wrapf(err, "writing metrics to %s", path)
	}
	return nil
}
