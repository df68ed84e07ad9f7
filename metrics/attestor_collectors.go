package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type AttestorMetrics struct {
	SignedAttestationsCounter *prometheus.CounterVec
	RejectedRequestsCounter   *prometheus.CounterVec
	LastSignedNonce           prometheus.Gauge
}

var attestorMetricsRegisterOnce sync.Once

var attestorMetricsInstance *AttestorMetrics

func NewAttestorMetrics() *AttestorMetrics {
	attestorMetricsRegisterOnce.Do(func() {
		attestorMetricsInstance = &AttestorMetrics{
			SignedAttestationsCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "attestor_signed_attestations_total",
					Help: "Total number of attestations signed by this validator",
				},
				[]string{"asset"},
			),
			RejectedRequestsCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "attestor_rejected_requests_total",
					Help: "Total number of attestation requests refused by reason",
				},
				[]string{"reason"},
			),
			LastSignedNonce: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "attestor_last_signed_nonce",
				Help: "Burn nonce of the last signed attestation",
			}),
		}

		prometheus.MustRegister(attestorMetricsInstance.SignedAttestationsCounter)
		prometheus.MustRegister(attestorMetricsInstance.RejectedRequestsCounter)
		prometheus.MustRegister(attestorMetricsInstance.LastSignedNonce)
	})
	return attestorMetricsInstance
}
