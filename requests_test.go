package nnrt

import (
	"context"
	"testing"

	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/mailbox"
	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

func TestRequestNetworkInfoRoundTrip(t *testing.T) {
	tr := &loopbackTransport{}
	mb := mailbox.New(tr, nil, nil)
	d := NewDispatcher(mb, tr, nil, nil)
	tr.onTx = func(packet []byte) {
		hdr, _ := wire.DecodeHeader(packet)
		if hdr.Type != wire.TypeNetworkInfoReq {
			return
		}
		desc := [32]byte{}
		copy(desc[:], "mnv2\x00")
		rsp := wire.MarshalNetworkInfoRsp(wire.NetworkInfoRsp{
			Desc:     desc,
			IFMCount: 1,
			OFMCount: 1,
			Status:   wire.StatusOK,
		})
		full := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: wire.TypeNetworkInfoRsp, MsgID: hdr.MsgID}, len(rsp))
		copy(full[wire.HeaderSize:], rsp)
		d.OnPacket(full)
	}

	n := CreateNetworkFromIndex(0)
	rsp, err := RequestNetworkInfo(context.Background(), mb, n)
	if err != nil {
		t.Fatalf("RequestNetworkInfo returned error: %v", err)
	}
	if rsp.IFMCount != 1 || rsp.OFMCount != 1 {
		t.Fatalf("unexpected network-info rsp: %+v", rsp)
	}
}

func TestRequestNetworkInfoTooManyFiles(t *testing.T) {
	tr := &loopbackTransport{}
	mb := mailbox.New(tr, nil, nil)
	d := NewDispatcher(mb, tr, nil, nil)
	tr.onTx = func(packet []byte) {
		hdr, _ := wire.DecodeHeader(packet)
		if hdr.Type != wire.TypeNetworkInfoReq {
			return
		}
		rsp := wire.MarshalNetworkInfoRsp(wire.NetworkInfoRsp{IFMCount: constants.FDMax + 1, Status: wire.StatusOK})
		full := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: wire.TypeNetworkInfoRsp, MsgID: hdr.MsgID}, len(rsp))
		copy(full[wire.HeaderSize:], rsp)
		d.OnPacket(full)
	}

	n := CreateNetworkFromIndex(0)
	_, err := RequestNetworkInfo(context.Background(), mb, n)
	if !IsCode(err, ErrTooManyFiles) {
		t.Fatalf("RequestNetworkInfo error = %v, want ErrTooManyFiles", err)
	}
}

func TestRequestCancelInferenceRoundTrip(t *testing.T) {
	tr := &loopbackTransport{}
	mb := mailbox.New(tr, nil, nil)
	d := NewDispatcher(mb, tr, nil, nil)
	tr.onTx = func(packet []byte) {
		hdr, _ := wire.DecodeHeader(packet)
		if hdr.Type != wire.TypeCancelInferenceReq {
			return
		}
		rsp := wire.MarshalCancelInferenceRsp(wire.CancelInferenceRsp{Status: wire.StatusOK})
		full := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: wire.TypeCancelInferenceRsp, MsgID: hdr.MsgID}, len(rsp))
		copy(full[wire.HeaderSize:], rsp)
		d.OnPacket(full)
	}

	rsp, err := RequestCancelInference(context.Background(), mb, 42)
	if err != nil {
		t.Fatalf("RequestCancelInference returned error: %v", err)
	}
	if rsp.Status != wire.StatusOK {
		t.Fatalf("unexpected cancel rsp: %+v", rsp)
	}
}
