package signer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "chainsig"
	metricsSubsystem = "signer"
)

var (
	signRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "sign_requests_total",
		Help:      "Sign calls by host chain and outcome.",
	}, []string{"host", "outcome"})

	signDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "sign_duration_seconds",
		Help:      "Time from submission to resolved signature or error.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120},
	}, []string{"host"})

	pollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "poll_attempts_total",
		Help:      "Event scans performed while waiting for signatures.",
	}, []string{"host"})

	rejectedCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "rejected_signatures_total",
		Help:      "Candidate signatures that did not recover to the expected address.",
	}, []string{"host"})
)

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch KindOf(err) {
	case KindSubmission:
		return "submission_error"
	case KindNotFound:
		return "not_found"
	case KindContract:
		return "contract_error"
	case KindSigning:
		return "signing_error"
	case KindVerification:
		return "verification_error"
	default:
		return "invalid_request"
	}
}

// ObserveSign 记录一次 Sign 调用的结果与耗时
func ObserveSign(host HostChain, started time.Time, err error) {
	signRequests.WithLabelValues(string(host), outcomeLabel(err)).Inc()
	signDuration.WithLabelValues(string(host)).Observe(time.Since(started).Seconds())
}
