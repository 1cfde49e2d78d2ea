package metrics

import (
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "truckcheck_"

var (
	registerOnce sync.Once

	runsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "runs_started_total",
			Help: "Start-or-join calls by outcome (created, joined)",
		},
		[]string{"outcome"},
	)
	resultsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "results_recorded_total",
			Help: "Check results written by operation (created, updated, deleted)",
		},
		[]string{"op"},
	)
	runsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "runs_completed_total",
			Help: "Completed check runs by whether issues were found",
		},
		[]string{"has_issues"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "events_published_total",
			Help: "Realtime events published by type",
		},
		[]string{"type"},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "events_dropped_total",
			Help: "Realtime frames dropped because a client queue was full",
		},
	)
	socketsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "sockets_connected",
			Help: "Currently connected realtime sockets",
		},
	)
	pushSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "push_notifications_total",
			Help: "Web push deliveries by result",
		},
		[]string{"result"},
	)
)

// Init registers the collectors with the default registry. Safe to call more
// than once; collectors work unregistered too, which keeps tests simple.
func Init(logger *log.Logger) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			runsStarted,
			resultsRecorded,
			runsCompleted,
			eventsPublished,
			eventsDropped,
			socketsConnected,
			pushSent,
		)
		if logger != nil {
			logger.Println("metrics registered")
		}
	})
}

// RunStarted counts a start-or-join call.
func RunStarted(joined bool) {
	if joined {
		runsStarted.WithLabelValues("joined").Inc()
		return
	}
	runsStarted.WithLabelValues("created").Inc()
}

// ResultRecorded counts a result write.
func ResultRecorded(op string) {
	resultsRecorded.WithLabelValues(op).Inc()
}

// RunCompleted counts a completion.
func RunCompleted(hasIssues bool) {
	if hasIssues {
		runsCompleted.WithLabelValues("true").Inc()
		return
	}
	runsCompleted.WithLabelValues("false").Inc()
}

// EventPublished counts a bus publish.
func EventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// EventDropped counts a frame dropped for a slow client.
func EventDropped() {
	eventsDropped.Inc()
}

// SocketConnected tracks the number of open sockets.
func SocketConnected(delta float64) {
	socketsConnected.Add(delta)
}

// PushSent counts a web push delivery.
func PushSent(ok bool) {
	if ok {
		pushSent.WithLabelValues("success").Inc()
		return
	}
	pushSent.WithLabelValues("error").Inc()
}
