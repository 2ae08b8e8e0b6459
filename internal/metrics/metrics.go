// Package metrics holds the daemon's Prometheus collectors. Helpers no-op
// until Register succeeds.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xvbd"

var (
	regOK atomic.Bool

	observedHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "allocation",
		Name:      "observed_hashrate",
		Help:      "Hashrate used for the last decision, in H/s.",
	})
	donationHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "allocation",
		Name:      "donation_hashrate",
		Help:      "Target donation hashrate of the last decision, in H/s.",
	})
	donationShare = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "allocation",
		Name:      "donation_share",
		Help:      "Fraction of the allocation cycle spent on the donation pool.",
	})
	decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocation",
		Name:      "decisions_total",
		Help:      "Number of allocation decisions by mode.",
	}, []string{"mode"})
	poolSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "switches_total",
		Help:      "Pool switches by target and result.",
	}, []string{"pool", "result"})
	statsFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stats",
		Name:      "fetch_failures_total",
		Help:      "Failed stats fetches by source.",
	}, []string{"source"})
	loopCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "cycles_total",
		Help:      "Control loop cycles by outcome.",
	}, []string{"outcome"})
	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "state_transitions_total",
		Help:      "Number of state transitions between process states.",
	}, []string{"name", "from", "to"})
	currentStates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "current_state",
		Help:      "Current state of processes (1 = active state, 0 = inactive).",
	}, []string{"name", "state"})
	credentialTests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sudo",
		Name:      "tests_total",
		Help:      "Credential tests by result.",
	}, []string{"result"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		observedHashrate, donationHashrate, donationShare, decisions, poolSwitches,
		statsFailures, loopCycles, stateTransitions, currentStates, credentialTests,
	}
}

// Register registers all metrics with r. Calls after a success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
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

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func ObserveDecision(mode string, observed, donation, share float64) {
	if !regOK.Load() {
		return
	}
	observedHashrate.Set(observed)
	donationHashrate.Set(donation)
	donationShare.Set(share)
	decisions.WithLabelValues(mode).Inc()
}

func IncPoolSwitch(pool string, ok bool) {
	if regOK.Load() {
		poolSwitches.WithLabelValues(pool, result(ok)).Inc()
	}
}

func IncStatsFailure(source string) {
	if regOK.Load() {
		statsFailures.WithLabelValues(source).Inc()
	}
}

func IncCycle(outcome string) {
	if regOK.Load() {
		loopCycles.WithLabelValues(outcome).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(name, from, to).Inc()
	currentStates.WithLabelValues(name, from).Set(0)
	currentStates.WithLabelValues(name, to).Set(1)
}

func IncCredentialTest(ok bool) {
	if regOK.Load() {
		credentialTests.WithLabelValues(result(ok)).Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
