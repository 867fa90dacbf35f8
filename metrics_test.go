package nnrt

import (
	"sync"
	"testing"

	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

func TestMetricsRecordRequest(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("VERSION_CHECK", 1000, true)
	m.RecordRequest("CAPABILITIES", 2000, true)
	m.RecordRequest("NETWORK_INFO", 3000, true)
	m.RecordRequest("INFERENCE_CREATE", 4000, true)
	m.RecordRequest("CANCEL_INFERENCE", 5000, false)
	m.RecordRequest("PING", 100, true)

	snap := m.Snapshot()
	if snap.VersionOps != 1 || snap.CapabilityOps != 1 || snap.NetworkInfoOps != 1 {
		t.Errorf("handshake op counts wrong: %+v", snap)
	}
	if snap.InferenceOps != 1 || snap.CancelOps != 1 || snap.PingOps != 1 {
		t.Errorf("job op counts wrong: %+v", snap)
	}
	if snap.RequestErrors != 1 {
		t.Errorf("RequestErrors = %d, want 1", snap.RequestErrors)
	}
	if snap.TotalOps != 6 {
		t.Errorf("TotalOps = %d, want 6", snap.TotalOps)
	}
}

func TestMetricsInferenceOutcomes(t *testing.T) {
	m := NewMetrics()

	m.RecordInferenceOutcome(wire.StatusOK)
	m.RecordInferenceOutcome(wire.StatusOK)
	m.RecordInferenceOutcome(wire.StatusRejected)
	m.RecordInferenceOutcome(wire.StatusAborted)
	m.RecordInferenceOutcome(wire.StatusError)

	snap := m.Snapshot()
	if snap.InferencesOK != 2 {
		t.Errorf("InferencesOK = %d, want 2", snap.InferencesOK)
	}
	if snap.InferencesRejected != 1 || snap.InferencesAborted != 1 || snap.InferencesFailed != 1 {
		t.Errorf("outcome counts wrong: %+v", snap)
	}
}

func TestMetricsAvgLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("PING", 1000, true)
	m.RecordRequest("PING", 3000, true)

	snap := m.Snapshot()
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("AvgLatencyNs = %d, want 2000", snap.AvgLatencyNs)
	}
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics()

	// One op in the 1us bucket, one in the 1ms bucket.
	m.RecordRequest("PING", 500, true)
	m.RecordRequest("PING", 500_000, true)

	snap := m.Snapshot()
	if snap.LatencyHistogram[0] != 1 {
		t.Errorf("bucket[0] = %d, want 1", snap.LatencyHistogram[0])
	}
	// Buckets are cumulative: the 1ms bucket holds both.
	if snap.LatencyHistogram[3] != 2 {
		t.Errorf("bucket[3] = %d, want 2", snap.LatencyHistogram[3])
	}
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 99; i++ {
		m.RecordRequest("PING", 500, true) // <= 1us
	}
	m.RecordRequest("PING", 5_000_000_000, true) // 5s outlier

	snap := m.Snapshot()
	if snap.LatencyP50Ns > LatencyBuckets[0] {
		t.Errorf("P50 = %d, want <= %d", snap.LatencyP50Ns, LatencyBuckets[0])
	}
	if snap.LatencyP999Ns <= LatencyBuckets[0] {
		t.Errorf("P99.9 = %d, want above the first bucket", snap.LatencyP999Ns)
	}
}

func TestMetricsPacketCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordPacket(false)
	m.RecordPacket(false)
	m.RecordPacket(true)

	snap := m.Snapshot()
	if snap.PacketsReceived != 3 {
		t.Errorf("PacketsReceived = %d, want 3", snap.PacketsReceived)
	}
	if snap.PacketsDropped != 1 {
		t.Errorf("PacketsDropped = %d, want 1", snap.PacketsDropped)
	}
}

func TestMetricsErrorRate(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("PING", 100, true)
	m.RecordRequest("PING", 100, false)

	snap := m.Snapshot()
	if snap.ErrorRate != 50.0 {
		t.Errorf("ErrorRate = %f, want 50.0", snap.ErrorRate)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("PING", 100, false)
	m.RecordInferenceOutcome(wire.StatusOK)
	m.RecordPacket(true)
	m.RecordCrash()
	m.Reset()

	snap := m.Snapshot()
	if snap.TotalOps != 0 || snap.InferencesOK != 0 || snap.PacketsReceived != 0 || snap.CrashReports != 0 {
		t.Errorf("Reset left counters behind: %+v", snap)
	}
}

func TestMetricsConcurrentRecording(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.RecordRequest("PING", uint64(j), j%10 != 0)
				m.RecordPacket(j%7 == 0)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.PingOps != 8000 {
		t.Errorf("PingOps = %d, want 8000", snap.PingOps)
	}
	if snap.PacketsReceived != 8000 {
		t.Errorf("PacketsReceived = %d, want 8000", snap.PacketsReceived)
	}
}

func TestMetricsObserverForwarding(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveRequest("PING", 100, true)
	o.ObserveInference(wire.StatusRejected)
	o.ObservePacket(true)
	o.ObserveCrash()

	snap := m.Snapshot()
	if snap.PingOps != 1 || snap.InferencesRejected != 1 || snap.PacketsDropped != 1 || snap.CrashReports != 1 {
		t.Errorf("observer did not forward: %+v", snap)
	}
}
