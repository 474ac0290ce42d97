package metrics

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/subgen/pkg/models"
)

var allStates = []models.JobStatus{
	models.StatusIdle,
	models.StatusUploading,
	models.StatusProcessing,
	models.StatusChecking,
	models.StatusSuccess,
	models.StatusFail,
	models.StatusDownloading,
}

// Collector holds the client-side metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	submissions    *prometheus.CounterVec
	polls          *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	uploadDuration prometheus.Histogram
	downloadBytes  prometheus.Counter
	state          *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subgen_submissions_total",
				Help: "Submission attempts by input kind and result",
			},
			[]string{"input_kind", "result"}, // result: accepted, rejected, error
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subgen_status_polls_total",
				Help: "Job status queries by reported status",
			},
			[]string{"status"}, // PROCESSING, COMPLETED, FAILED, other, error
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subgen_job_outcomes_total",
				Help: "Jobs that reached a terminal state",
			},
			[]string{"status"},
		),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subgen_upload_bytes_total",
			Help: "Bytes sent to the subtitle service",
		}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "subgen_upload_duration_seconds",
			Help:    "Time from submit to job id",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subgen_download_bytes_total",
			Help: "Artifact bytes written to disk",
		}),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "subgen_job_state",
				Help: "1 for the current lifecycle state of the tracked job",
			},
			[]string{"state"},
		),
	}

	c.registry.MustRegister(
		c.submissions,
		c.polls,
		c.outcomes,
		c.uploadBytes,
		c.uploadDuration,
		c.downloadBytes,
		c.state,
		collectors.NewGoCollector(),
	)
	c.SetState(models.StatusIdle)

	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordSubmission counts one submit attempt
func (c *Collector) RecordSubmission(kind models.InputKind, result string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(string(kind), result).Inc()
}

// RecordPoll counts one status query; pass err for transport failures
func (c *Collector) RecordPoll(status models.RemoteStatus, err error) {
	if c == nil {
		return
	}
	status = status.Normalize()
	label := string(status)
	switch {
	case err != nil:
		label = "error"
	case status != models.RemoteStatusProcessing && status != models.RemoteStatusCompleted && status != models.RemoteStatusFailed:
		label = "other"
	}
	c.polls.WithLabelValues(label).Inc()
}

// RecordOutcome counts a job reaching success or fail
func (c *Collector) RecordOutcome(status models.JobStatus) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(string(status)).Inc()
}

// AddUploadBytes adds to the uploaded byte counter
func (c *Collector) AddUploadBytes(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.uploadBytes.Add(float64(n))
}

// ObserveUpload records how long a submission took
func (c *Collector) ObserveUpload(d time.Duration) {
	if c == nil {
		return
	}
	c.uploadDuration.Observe(d.Seconds())
}

// AddDownloadBytes adds to the downloaded byte counter
func (c *Collector) AddDownloadBytes(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.downloadBytes.Add(float64(n))
}

// SetState marks status as the single current state
func (c *Collector) SetState(status models.JobStatus) {
	if c == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == status {
			v = 1
		}
		c.state.WithLabelValues(string(s)).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteText dumps every metric family in the text exposition format
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
