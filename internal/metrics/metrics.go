package metrics

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	imagePulls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "image",
			Name:      "pull_attempts_total",
			Help:      "Image pull attempts by image and result.",
		}, []string{"image", "result"},
	)
	imageChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "image",
			Name:      "checks_total",
			Help:      "Local image presence checks by image and result (present or absent).",
		}, []string{"image", "result"},
	)
	readinessPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "readiness",
			Name:      "polls_total",
			Help:      "Readiness probe invocations by probe and result.",
		}, []string{"probe", "result"},
	)
	readinessWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stackctl",
			Subsystem: "readiness",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a probe to report ready or give up.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"probe", "result"},
	)
	stopOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "shutdown",
			Name:      "outcomes_total",
			Help:      "Shutdown outcomes by component and outcome.",
		}, []string{"component", "outcome"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stackctl",
			Subsystem: "stack",
			Name:      "phase_duration_seconds",
			Help:      "Duration of launch and shutdown phases.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase", "result"},
	)
	processCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackctl",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of an owned process at the last sample.",
		}, []string{"component"},
	)
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackctl",
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of an owned process at the last sample.",
		}, []string{"component"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{imagePulls, imageChecks, readinessPolls, readinessWait, stopOutcomes, phaseDuration, processCPU, processRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// The helpers below no-op until Register has succeeded.

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func IncImagePull(image string, ok bool) {
	if regOK.Load() {
		imagePulls.WithLabelValues(image, result(ok, "success", "failure")).Inc()
	}
}

func IncImageCheck(image string, present bool) {
	if regOK.Load() {
		imageChecks.WithLabelValues(image, result(present, "present", "absent")).Inc()
	}
}

func IncReadinessPoll(probe string, ready bool) {
	if regOK.Load() {
		readinessPolls.WithLabelValues(probe, result(ready, "ready", "not_ready")).Inc()
	}
}

func ObserveReadinessWait(probe string, ready bool, seconds float64) {
	if regOK.Load() {
		readinessWait.WithLabelValues(probe, result(ready, "ready", "timeout")).Observe(seconds)
	}
}

func IncStopOutcome(component, outcome string) {
	if regOK.Load() {
		stopOutcomes.WithLabelValues(component, outcome).Inc()
	}
}

func ObservePhase(phase string, ok bool, seconds float64) {
	if regOK.Load() {
		phaseDuration.WithLabelValues(phase, result(ok, "success", "failure")).Observe(seconds)
	}
}

func SetProcessUsage(component string, cpuPercent float64, rssBytes uint64) {
	if regOK.Load() {
		processCPU.WithLabelValues(component).Set(cpuPercent)
		processRSS.WithLabelValues(component).Set(float64(rssBytes))
	}
}
