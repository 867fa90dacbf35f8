// +build integration

package integration

import (
	"context"
	"testing"
	"time"

	nnrt "github.com/behrlich/rpmsg-nnrt"
	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/transport"
	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

// These tests run the full runtime over a real SOCK_SEQPACKET socket
// pair, with a firmware emulator serving the far end. They need a Linux
// host with AF_UNIX seqpacket support.

// serveFirmware answers host requests on the far transport endpoint the
// way healthy firmware would, until ctx is cancelled.
func serveFirmware(ctx context.Context, t *testing.T, tr *transport.SeqpacketTransport) {
	for {
		packet, err := tr.Recv(ctx)
		if err != nil {
			return
		}
		hdr, err := wire.DecodeHeader(packet)
		if err != nil {
			continue
		}

		var typ wire.PacketType
		var payload []byte
		switch hdr.Type {
		case wire.TypeVersionReq:
			typ = wire.TypeVersionRsp
			payload = wire.MarshalVersionRsp(wire.VersionRsp{
				Major: constants.ExpectedVersionMajor,
				Minor: constants.ExpectedVersionMinor,
			})
		case wire.TypeCapabilitiesReq:
			typ = wire.TypeCapabilitiesRsp
			payload = wire.MarshalCapabilitiesRsp(wire.CapabilitiesRsp{ProductMajor: 1, MACCountPerCycle: 128})
		case wire.TypeNetworkInfoReq:
			typ = wire.TypeNetworkInfoRsp
			rsp := wire.NetworkInfoRsp{IFMCount: 1, OFMCount: 1, Status: wire.StatusOK}
			copy(rsp.Desc[:], "itest-net")
			payload = wire.MarshalNetworkInfoRsp(rsp)
		case wire.TypeInferenceReq:
			typ = wire.TypeInferenceRsp
			payload = wire.MarshalInferenceRsp(wire.InferenceRsp{
				Status:            wire.StatusOK,
				OFMCount:          1,
				CycleCounterCount: 777,
			})
		case wire.TypePing:
			typ = wire.TypePong
		default:
			continue
		}

		rsp := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: typ, MsgID: hdr.MsgID}, len(payload))
		copy(rsp[wire.HeaderSize:], payload)
		if err := tr.TrySend(rsp); err != nil {
			t.Logf("firmware emulator send failed: %v", err)
			return
		}
	}
}

func newSocketSession(t *testing.T) *nnrt.Session {
	t.Helper()

	host, fw, err := transport.NewSeqpacketTransportPair(constants.TransmitSlots)
	if err != nil {
		t.Skipf("seqpacket socketpair unavailable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go serveFirmware(ctx, t, fw)
	t.Cleanup(func() {
		cancel()
		fw.Close()
	})

	s, err := nnrt.Open(context.Background(), host, nil)
	if err != nil {
		t.Fatalf("Open over seqpacket failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIntegrationSessionLifecycle(t *testing.T) {
	s := newSocketSession(t)

	if s.DriverVersion().Major != constants.ExpectedVersionMajor {
		t.Fatalf("unexpected version: %+v", s.DriverVersion())
	}
	if s.Capabilities().MACCountPerCycle != 128 {
		t.Fatalf("unexpected capabilities: %+v", s.Capabilities())
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestIntegrationInferenceOverSocket(t *testing.T) {
	s := newSocketSession(t)

	ifm, err := s.CreateBuffer(4096)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	ofm, err := s.CreateBuffer(4096)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	n, err := s.CreateNetworkFromIndex(0)
	if err != nil {
		t.Fatalf("CreateNetworkFromIndex: %v", err)
	}

	if _, err := s.NetworkInfo(context.Background(), n); err != nil {
		t.Fatalf("NetworkInfo: %v", err)
	}

	infFD, err := s.CreateInference(context.Background(), n, []int32{ifm}, []int32{ofm}, nnrt.PMUConfig{CycleCounterEnable: true})
	if err != nil {
		t.Fatalf("CreateInference: %v", err)
	}
	inf, err := s.Inference(infFD)
	if err != nil {
		t.Fatalf("Inference: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := inf.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	st := inf.Status()
	if st.Status != wire.StatusOK {
		t.Fatalf("status = %v, want OK", st.Status)
	}
	if st.CycleCounterCount != 777 {
		t.Fatalf("cycle count = %d, want 777", st.CycleCounterCount)
	}
}

func TestIntegrationConcurrentInferences(t *testing.T) {
	s := newSocketSession(t)

	n, err := s.CreateNetworkFromIndex(0)
	if err != nil {
		t.Fatalf("CreateNetworkFromIndex: %v", err)
	}

	const jobs = 8
	done := make(chan error, jobs)
	for i := 0; i < jobs; i++ {
		go func() {
			ifm, err := s.CreateBuffer(1024)
			if err != nil {
				done <- err
				return
			}
			ofm, err := s.CreateBuffer(1024)
			if err != nil {
				done <- err
				return
			}
			infFD, err := s.CreateInference(context.Background(), n, []int32{ifm}, []int32{ofm}, nnrt.PMUConfig{})
			if err != nil {
				done <- err
				return
			}
			inf, err := s.Inference(infFD)
			if err != nil {
				done <- err
				return
			}
			done <- inf.Wait(context.Background())
		}()
	}

	for i := 0; i < jobs; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("concurrent inference failed: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for concurrent inferences")
		}
	}
}
