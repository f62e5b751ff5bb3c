package metrics

import (
	"net/http"
	"time"

	"healthvoice/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus collectors of one voice session process
type Metrics struct {
	registry *prometheus.Registry

	// Remote API
	APIRequests        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Capture
	CaptureSessions    prometheus.Counter
	TranscriptsEmitted *prometheus.CounterVec
	CaptureErrors      prometheus.Counter

	// Playback
	Utterances     *prometheus.CounterVec
	SpeechErrors   prometheus.Counter
	SpeechWarnings prometheus.Counter
	AudioBlocked   prometheus.Counter

	// Delivery
	DeliveryUpdates *prometheus.CounterVec
	DeliveryErrors  prometheus.Counter

	// Assistant
	AssistantResults *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry so tests and
// multiple sessions do not collide on the default one
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthvoice_api_requests_total",
			Help: "Total number of backend API requests",
		}, []string{"endpoint", "status"}),
		APIRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthvoice_api_request_duration_seconds",
			Help:    "Backend API request duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"endpoint"}),

		CaptureSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvoice_capture_sessions_total",
			Help: "Total number of recordings that reached the recording state",
		}),
		TranscriptsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthvoice_transcripts_total",
			Help: "Total number of finalized transcripts",
		}, []string{"source"}),
		CaptureErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvoice_capture_errors_total",
			Help: "Total number of capture errors",
		}),

		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthvoice_utterances_total",
			Help: "Total number of utterances started, by engine",
		}, []string{"engine"}),
		SpeechErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvoice_speech_errors_total",
			Help: "Total number of utterances that failed",
		}),
		SpeechWarnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvoice_speech_warnings_total",
			Help: "Total number of degraded utterances",
		}),
		AudioBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvoice_audio_blocked_total",
			Help: "Total number of playbacks rejected by the autoplay gate",
		}),

		DeliveryUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthvoice_delivery_updates_total",
			Help: "Total number of delivery status updates",
		}, []string{"status"}),
		DeliveryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvoice_delivery_errors_total",
			Help: "Total number of failed summary sends",
		}),

		AssistantResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthvoice_assistant_results_total",
			Help: "Total number of triage and eligibility results",
		}, []string{"kind"}),
	}
}

// ObserveAPI records one backend call
func (m *Metrics) ObserveAPI(endpoint, status string, elapsed time.Duration) {
	m.APIRequests.WithLabelValues(endpoint, status).Inc()
	m.APIRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Emit counts events, which makes Metrics usable as an events.Sink
func (m *Metrics) Emit(event events.Event) {
	switch event.Type {
	case events.CaptureStateChanged:
		if event.State == "recording" {
			m.CaptureSessions.Inc()
		}
	case events.CaptureFinal:
		m.TranscriptsEmitted.WithLabelValues(event.Attrs["source"]).Inc()
	case events.CaptureError:
		m.CaptureErrors.Inc()
	case events.SpeechStarted:
		m.Utterances.WithLabelValues(event.Engine).Inc()
	case events.SpeechError:
		m.SpeechErrors.Inc()
	case events.SpeechWarning:
		m.SpeechWarnings.Inc()
	case events.AudioBlocked:
		m.AudioBlocked.Inc()
	case events.DeliveryUpdated:
		m.DeliveryUpdates.WithLabelValues(event.State).Inc()
	case events.DeliveryError:
		m.DeliveryErrors.Inc()
	case events.TriageCompleted:
		m.AssistantResults.WithLabelValues("triage").Inc()
	case events.EligibilityCompleted:
		m.AssistantResults.WithLabelValues("eligibility").Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
