package nnrt

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

// LatencyBuckets defines the request round-trip latency histogram buckets
// in nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for one session.
type Metrics struct {
	// Request counters, by operation class
	VersionOps     atomic.Uint64
	CapabilityOps  atomic.Uint64
	NetworkInfoOps atomic.Uint64
	InferenceOps   atomic.Uint64
	CancelOps      atomic.Uint64
	PingOps        atomic.Uint64

	// Request failures (send errors, timeouts, firmware-reported failures)
	RequestErrors atomic.Uint64

	// Inference outcomes
	InferencesOK       atomic.Uint64
	InferencesRejected atomic.Uint64
	InferencesAborted  atomic.Uint64
	InferencesFailed   atomic.Uint64

	// Inbound packet accounting
	PacketsReceived atomic.Uint64
	PacketsDropped  atomic.Uint64

	// Firmware crash indications observed
	CrashReports atomic.Uint64

	// Request round-trip latency tracking
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of requests with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Session lifecycle
	StartTime atomic.Int64 // Session open timestamp (UnixNano)
	StopTime  atomic.Int64 // Session close timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRequest records one completed request round trip for the given
// operation name ("VERSION_CHECK", "CAPABILITIES", "NETWORK_INFO",
// "INFERENCE_CREATE", "CANCEL_INFERENCE", "PING").
func (m *Metrics) RecordRequest(op string, latencyNs uint64, success bool) {
	switch op {
	case "VERSION_CHECK":
		m.VersionOps.Add(1)
	case "CAPABILITIES":
		m.CapabilityOps.Add(1)
	case "NETWORK_INFO":
		m.NetworkInfoOps.Add(1)
	case "INFERENCE_CREATE":
		m.InferenceOps.Add(1)
	case "CANCEL_INFERENCE":
		m.CancelOps.Add(1)
	case "PING":
		m.PingOps.Add(1)
	}
	if !success {
		m.RequestErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordInferenceOutcome records the terminal status of one inference.
func (m *Metrics) RecordInferenceOutcome(status wire.Status) {
	switch status {
	case wire.StatusOK:
		m.InferencesOK.Add(1)
	case wire.StatusRejected:
		m.InferencesRejected.Add(1)
	case wire.StatusAborted:
		m.InferencesAborted.Add(1)
	default:
		m.InferencesFailed.Add(1)
	}
}

// RecordPacket records one inbound packet; dropped marks packets the
// dispatcher rejected or could not route.
func (m *Metrics) RecordPacket(dropped bool) {
	m.PacketsReceived.Add(1)
	if dropped {
		m.PacketsDropped.Add(1)
	}
}

// RecordCrash records one firmware crash indication.
func (m *Metrics) RecordCrash() {
	m.CrashReports.Add(1)
}

// recordLatency records request latency and updates the histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	// Update histogram buckets (cumulative)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the session as closed
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of session metrics
type MetricsSnapshot struct {
	// Requests by operation class
	VersionOps     uint64
	CapabilityOps  uint64
	NetworkInfoOps uint64
	InferenceOps   uint64
	CancelOps      uint64
	PingOps        uint64

	RequestErrors uint64

	// Inference outcomes
	InferencesOK       uint64
	InferencesRejected uint64
	InferencesAborted  uint64
	InferencesFailed   uint64

	// Inbound packets
	PacketsReceived uint64
	PacketsDropped  uint64

	CrashReports uint64

	// Performance
	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64 // 50th percentile (median)
	LatencyP99Ns  uint64 // 99th percentile
	LatencyP999Ns uint64 // 99.9th percentile

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	TotalOps    uint64
	RequestRate float64 // Requests per second
	ErrorRate   float64 // Percentage of failed requests
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		VersionOps:         m.VersionOps.Load(),
		CapabilityOps:      m.CapabilityOps.Load(),
		NetworkInfoOps:     m.NetworkInfoOps.Load(),
		InferenceOps:       m.InferenceOps.Load(),
		CancelOps:          m.CancelOps.Load(),
		PingOps:            m.PingOps.Load(),
		RequestErrors:      m.RequestErrors.Load(),
		InferencesOK:       m.InferencesOK.Load(),
		InferencesRejected: m.InferencesRejected.Load(),
		InferencesAborted:  m.InferencesAborted.Load(),
		InferencesFailed:   m.InferencesFailed.Load(),
		PacketsReceived:    m.PacketsReceived.Load(),
		PacketsDropped:     m.PacketsDropped.Load(),
		CrashReports:       m.CrashReports.Load(),
	}

	snap.TotalOps = snap.VersionOps + snap.CapabilityOps + snap.NetworkInfoOps +
		snap.InferenceOps + snap.CancelOps + snap.PingOps

	// Calculate average latency
	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	// Calculate uptime
	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	// Calculate request rate
	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.RequestRate = float64(snap.TotalOps) / uptimeSeconds
	}

	// Calculate error rate
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(snap.RequestErrors) / float64(snap.TotalOps) * 100.0
	}

	// Copy histogram bucket counts
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	// Calculate percentiles from histogram
	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(math.Ceil(float64(totalOps) * percentile))

	// Find the bucket containing the target percentile
	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			// Linear interpolation within bucket
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			// Interpolate between prevBucket and bucket
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// If we get here, the latency exceeds all buckets
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.VersionOps.Store(0)
	m.CapabilityOps.Store(0)
	m.NetworkInfoOps.Store(0)
	m.InferenceOps.Store(0)
	m.CancelOps.Store(0)
	m.PingOps.Store(0)
	m.RequestErrors.Store(0)
	m.InferencesOK.Store(0)
	m.InferencesRejected.Store(0)
	m.InferencesAborted.Store(0)
	m.InferencesFailed.Store(0)
	m.PacketsReceived.Store(0)
	m.PacketsDropped.Store(0)
	m.CrashReports.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer interface allows pluggable metrics collection
type Observer interface {
	// ObserveRequest is called for each completed request round trip
	ObserveRequest(op string, latencyNs uint64, success bool)

	// ObserveInference is called when an inference reaches a terminal state
	ObserveInference(status wire.Status)

	// ObservePacket is called for each inbound packet
	ObservePacket(dropped bool)

	// ObserveCrash is called for each firmware crash indication
	ObserveCrash()
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveRequest(string, uint64, bool) {}
func (NoOpObserver) ObserveInference(wire.Status)        {}
func (NoOpObserver) ObservePacket(bool)                  {}
func (NoOpObserver) ObserveCrash()                       {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRequest(op string, latencyNs uint64, success bool) {
	o.metrics.RecordRequest(op, latencyNs, success)
}

func (o *MetricsObserver) ObserveInference(status wire.Status) {
	o.metrics.RecordInferenceOutcome(status)
}

func (o *MetricsObserver) ObservePacket(dropped bool) {
	o.metrics.RecordPacket(dropped)
}

func (o *MetricsObserver) ObserveCrash() {
	o.metrics.RecordCrash()
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
