package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var endpointReadsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "skyline_transfer_endpoint_reads_active",
	Help: "Number of endpoint reads currently in flight",
})

var acceptedBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skyline_transfer_accepted_bytes_total",
	Help: "Estimated bytes admitted into assembled results",
})

var batchesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyline_transfer_batches_total",
	Help: "Endpoint batches by admission outcome",
}, []string{"outcome"})

var streamErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skyline_transfer_stream_errors_total",
	Help: "Number of endpoint reads that failed",
})

var sessionsOpenedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skyline_transfer_sessions_opened_total",
	Help: "Number of transfer sessions opened",
})

const (
	outcomeAccepted  = "accepted"
	outcomeTruncated = "truncated"
	outcomeDiscarded = "discarded"
	outcomeSkipped   = "skipped"
)

func observeBatch(outcome string, bytes int64) {
	batchesCounter.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		acceptedBytesCounter.Add(float64(bytes))
	}
}

func observeStreamError() {
	streamErrorsCounter.Inc()
}
