// Package metrics declares the Prometheus series exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "agrivoice"

const (
	NameIngestedNotices = "ingested_notices_total"
	NameIngestRuns      = "ingest_runs_total"
	NameMessages        = "messages_total"
	NameSynthesis       = "synthesis_total"
	NameJobs            = "jobs"

	LabelStatus = "status"
	LabelKind   = "kind"

	StatusOK     = "ok"
	StatusFailed = "failed"
)

var IngestedNotices = promauto.NewCounter(
	prometheus.CounterOpts{
		Name:      NameIngestedNotices,
		Help:      "Notices appended by ingestion runs",
		Namespace: Namespace,
	},
)

var IngestRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      NameIngestRuns,
		Help:      "Ingestion runs by outcome",
		Namespace: Namespace,
	},
	[]string{LabelStatus},
)

var Messages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      NameMessages,
		Help:      "Channel sends by outcome",
		Namespace: Namespace,
	},
	[]string{LabelStatus},
)

var Synthesis = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      NameSynthesis,
		Help:      "Speech synthesis calls by outcome",
		Namespace: Namespace,
	},
	[]string{LabelStatus},
)

var Jobs = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name:      NameJobs,
		Help:      "Tracked jobs currently running",
		Namespace: Namespace,
	},
	[]string{LabelKind},
)

// Outcome maps an error to a status label value.
func Outcome(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusOK
}
