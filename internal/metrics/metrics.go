package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joelsemar/django-webservice-tools/internal/audio/codec"
	"github.com/joelsemar/django-webservice-tools/internal/audio/config"
	"github.com/joelsemar/django-webservice-tools/internal/audio/outbuf"
	"github.com/joelsemar/django-webservice-tools/internal/audio/pipeline"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcode_active_sessions",
		Help: "Number of transcode sessions in progress",
	})
	InflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcode_http_inflight_requests",
		Help: "Number of transcode requests holding a concurrency slot",
	})
)

// Counters
var (
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_sessions_total",
		Help: "Total transcode sessions by outcome",
	}, []string{"outcome"})
	RequestsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcode_http_rejected_total",
		Help: "Requests rejected because every concurrency slot was busy",
	})
	InputBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcode_input_bytes_total",
		Help: "Input bytes consumed by finished sessions",
	})
	OutputBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcode_output_bytes_total",
		Help: "Output bytes produced by finished sessions",
	})
	FramesEncodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcode_frames_encoded_total",
		Help: "Frames handed to target encoders",
	})
	PaddedSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcode_padded_samples_total",
		Help: "Silence samples added to complete tail frames",
	})
)

// Histograms
var (
	FlushCalls = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcode_flush_calls",
		Help:    "Encoder flush calls needed to drain a session",
		Buckets: []float64{1, 2, 3, 5, 10, 25, 100, 1000},
	})
	OutputSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcode_output_bytes",
		Help:    "Output size per successful session",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	})
)

// Outcome labels
const (
	OutcomeOK                 = "ok"
	OutcomeInvalidMode        = "invalid_mode"
	OutcomeEncoderUnavailable = "encoder_unavailable"
	OutcomeDecoderUnavailable = "decoder_unavailable"
	OutcomeCodecInit          = "codec_init"
	OutcomeAllocation         = "allocation"
	OutcomeTruncated          = "truncated"
	OutcomeClosed             = "closed"
	OutcomeError              = "error"
)

// Outcome maps a session error to its metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, config.ErrInvalidMode):
		return OutcomeInvalidMode
	case errors.Is(err, codec.ErrEncoderUnavailable):
		return OutcomeEncoderUnavailable
	case errors.Is(err, codec.ErrDecoderUnavailable):
		return OutcomeDecoderUnavailable
	case errors.Is(err, codec.ErrCodecInit):
		return OutcomeCodecInit
	case errors.Is(err, outbuf.ErrAllocation):
		return OutcomeAllocation
	case errors.Is(err, pipeline.ErrTruncatedFrame), errors.Is(err, pipeline.ErrPartialSample):
		return OutcomeTruncated
	case errors.Is(err, pipeline.ErrSessionClosed):
		return OutcomeClosed
	}
	return OutcomeError
}

// SessionObserver records pipeline sessions in the collectors above.
type SessionObserver struct{}

func (SessionObserver) SessionStarted() {
	ActiveSessions.Inc()
}

func (SessionObserver) SessionFinished(stats pipeline.Stats, err error) {
	ActiveSessions.Dec()
	SessionsTotal.WithLabelValues(Outcome(err)).Inc()
	InputBytesTotal.Add(float64(stats.ConsumedBytes))
	FramesEncodedTotal.Add(float64(stats.FramesEncoded))
	PaddedSamplesTotal.Add(float64(stats.PaddedSamples))
	if err != nil {
		return
	}
	OutputBytesTotal.Add(float64(stats.OutputBytes))
	FlushCalls.Observe(float64(stats.FlushCalls))
	OutputSize.Observe(float64(stats.OutputBytes))
}

func (SessionObserver) SessionRejected(err error) {
	SessionsTotal.WithLabelValues(Outcome(err)).Inc()
}
