package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type BridgeMetrics struct {
	// verification engine
	verificationsTotal *prometheus.CounterVec
	attestedStake      *prometheus.GaugeVec
	// mint controller
	mintsTotal  *prometheus.CounterVec
	mintedTotal *prometheus.CounterVec
	// collector
	collectorResponses *prometheus.CounterVec
	collectorBatchTime prometheus.Histogram
	// registry and poller
	activeValsetVersion prometheus.Gauge
	sourceFinalizedSlot prometheus.Gauge
	lastPolledSlot      prometheus.Gauge
	// per validator liveness
	validatorSecondsSinceLastVote *prometheus.GaugeVec

	timeKeeper *TimeKeeper
}

var bridgeMetricsRegisterOnce sync.Once

var bridgeMetricsInstance *BridgeMetrics

// NewBridgeMetrics initializes and registers the metrics, using sync.Once to ensure it's done only once
func NewBridgeMetrics() *BridgeMetrics {
	bridgeMetricsRegisterOnce.Do(func() {
		bridgeMetricsInstance = &BridgeMetrics{
			verificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bridge_verifications_total",
				Help: "Total number of burn proof verifications by result",
			}, []string{"asset", "result"}),
			attestedStake: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "bridge_last_attested_stake",
				Help: "Stake attested by the distinct valid votes of the last accepted proof",
			}, []string{"asset"}),
			mintsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bridge_mints_total",
				Help: "Total number of mint attempts by result",
			}, []string{"asset", "result"}),
			mintedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bridge_minted_amount_total",
				Help: "Total amount minted in base units",
			}, []string{"asset"}),
			collectorResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bridge_collector_responses_total",
				Help: "Attestation responses received from validators by outcome",
			}, []string{"outcome"}),
			collectorBatchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "bridge_collector_batch_seconds",
				Help:    "Time spent collecting attestations for one claim",
				Buckets: prometheus.DefBuckets,
			}),
			activeValsetVersion: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bridge_active_validator_set_version",
				Help: "The version of the active validator set",
			}),
			sourceFinalizedSlot: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bridge_source_finalized_slot",
				Help: "The latest finalized slot of the source ledger",
			}),
			lastPolledSlot: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bridge_last_polled_slot",
				Help: "The most recent slot observed by the poller",
			}),
			validatorSecondsSinceLastVote: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "bridge_validator_seconds_since_last_vote",
				Help: "Seconds since a validator last returned a valid attestation",
			}, []string{"validator"}),
			timeKeeper: NewTimeKeeper(),
		}

		// Register the metrics with Prometheus
		prometheus.MustRegister(bridgeMetricsInstance.verificationsTotal)
		prometheus.MustRegister(bridgeMetricsInstance.attestedStake)
		prometheus.MustRegister(bridgeMetricsInstance.mintsTotal)
		prometheus.MustRegister(bridgeMetricsInstance.mintedTotal)
		prometheus.MustRegister(bridgeMetricsInstance.collectorResponses)
		prometheus.MustRegister(bridgeMetricsInstance.collectorBatchTime)
		prometheus.MustRegister(bridgeMetricsInstance.activeValsetVersion)
		prometheus.MustRegister(bridgeMetricsInstance.sourceFinalizedSlot)
		prometheus.MustRegister(bridgeMetricsInstance.lastPolledSlot)
		prometheus.MustRegister(bridgeMetricsInstance.validatorSecondsSinceLastVote)
	})
	return bridgeMetricsInstance
}

func (bm *BridgeMetrics) RecordVerification(asset, result string) {
	bm.verificationsTotal.WithLabelValues(asset, result).Inc()
}

func (bm *BridgeMetrics) RecordAttestedStake(asset string, stake uint64) {
	bm.attestedStake.WithLabelValues(asset).Set(float64(stake))
}

func (bm *BridgeMetrics) RecordMint(asset, result string, amount uint64) {
	bm.mintsTotal.WithLabelValues(asset, result).Inc()
	if amount > 0 {
		bm.mintedTotal.WithLabelValues(asset).Add(float64(amount))
	}
}

func (bm *BridgeMetrics) RecordCollectorResponse(outcome string) {
	bm.collectorResponses.WithLabelValues(outcome).Inc()
}

func (bm *BridgeMetrics) ObserveCollectorBatch(d time.Duration) {
	bm.collectorBatchTime.Observe(d.Seconds())
}

func (bm *BridgeMetrics) RecordActiveValsetVersion(version uint64) {
	bm.activeValsetVersion.Set(float64(version))
}

func (bm *BridgeMetrics) RecordSourceFinalizedSlot(slot uint64) {
	bm.sourceFinalizedSlot.Set(float64(slot))
}

func (bm *BridgeMetrics) RecordLastPolledSlot(slot uint64) {
	bm.lastPolledSlot.Set(float64(slot))
}

func (bm *BridgeMetrics) RecordValidatorVote(validator string) {
	bm.timeKeeper.RecordVoteTime(validator)
}

// UpdateValidatorLiveness refreshes the seconds-since-last-vote gauges.
func (bm *BridgeMetrics) UpdateValidatorLiveness() {
	for validator, last := range bm.timeKeeper.LastVotes() {
		bm.validatorSecondsSinceLastVote.WithLabelValues(validator).Set(time.Since(last).Seconds())
	}
}
