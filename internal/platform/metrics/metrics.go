package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline. Nil-safe: every
// increment method tolerates a nil receiver so tests can skip wiring.
type Metrics struct {
	CredentialsCreated  *prometheus.CounterVec
	CredentialsSkipped  *prometheus.CounterVec
	RecordsFailed       *prometheus.CounterVec
	SyncJobDuration     *prometheus.HistogramVec
	LedgerConfirmed     prometheus.Counter
	LedgerFailed        prometheus.Counter
	LedgerSweepResubmit prometheus.Counter
	EnrichCompleted     *prometheus.CounterVec
	EnrichFallback      prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		CredentialsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credsync_credentials_created_total",
			Help: "Credentials created from external providers",
		}, []string{"provider"}),
		CredentialsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credsync_credentials_skipped_total",
			Help: "Records skipped as duplicates during sync",
		}, []string{"provider"}),
		RecordsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credsync_records_failed_total",
			Help: "Records that failed processing during sync",
		}, []string{"provider"}),
		SyncJobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credsync_sync_job_duration_seconds",
			Help:    "Duration of a full per-provider sync job",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),
		LedgerConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credsync_ledger_confirmed_total",
			Help: "Ledger submissions confirmed",
		}),
		LedgerFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credsync_ledger_failed_total",
			Help: "Ledger submissions that failed after their bounded timeout",
		}),
		LedgerSweepResubmit: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credsync_ledger_sweep_resubmitted_total",
			Help: "Outstanding credentials resubmitted by the recovery sweep",
		}),
		EnrichCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credsync_enrichment_completed_total",
			Help: "Enrichment passes completed, labelled by provenance",
		}, []string{"provenance"}),
		EnrichFallback: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credsync_enrichment_fallback_total",
			Help: "Enrichment passes that fell back to the local heuristic",
		}),
	}
}

func (m *Metrics) IncCredentialsCreated(provider string) {
	if m != nil {
		m.CredentialsCreated.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) IncCredentialsSkipped(provider string) {
	if m != nil {
		m.CredentialsSkipped.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) IncRecordsFailed(provider string) {
	if m != nil {
		m.RecordsFailed.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) ObserveSyncJob(provider string, seconds float64) {
	if m != nil {
		m.SyncJobDuration.WithLabelValues(provider).Observe(seconds)
	}
}

func (m *Metrics) IncLedgerConfirmed() {
	if m != nil {
		m.LedgerConfirmed.Inc()
	}
}

func (m *Metrics) IncLedgerFailed() {
	if m != nil {
		m.LedgerFailed.Inc()
	}
}

func (m *Metrics) IncLedgerSweepResubmitted() {
	if m != nil {
		m.LedgerSweepResubmit.Inc()
	}
}

func (m *Metrics) IncEnrichCompleted(provenance string) {
	if m != nil {
		m.EnrichCompleted.WithLabelValues(provenance).Inc()
	}
}

func (m *Metrics) IncEnrichFallback() {
	if m != nil {
		m.EnrichFallback.Inc()
	}
}
