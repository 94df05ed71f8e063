package loopback

import (
	"bytes"
	"testing"

	"github.com/fuchengh/bitchat-clone/frag"
	"github.com/fuchengh/bitchat-clone/transport"
)

func TestSendInvokesOnFrameSynchronously(t *testing.T) {
	tr := New()
	var got transport.Frame
	if !tr.Start(transport.Settings{MTUPayload: 0}, func(f transport.Frame) { got = f }) {
		t.Fatal("Start failed")
	}
	if !tr.Send(transport.Frame("short frame")) {
		t.Fatal("Send failed")
	}
	if string(got) != "short frame" {
		t.Fatalf("got %q", got)
	}
}

func TestSendEnforcesStrictMTU(t *testing.T) {
	tr := New()
	if !tr.Start(transport.Settings{MTUPayload: 20}, func(transport.Frame) {}) {
		t.Fatal("Start failed")
	}
	if tr.Send(make(transport.Frame, 21)) {
		t.Fatal("expected Send to refuse a frame exceeding MTUPayload")
	}
	if !tr.Send(make(transport.Frame, 20)) {
		t.Fatal("expected Send to accept a frame exactly at MTUPayload")
	}
}

func TestFragmentedRoundTripOverLoopback(t *testing.T) {
	mtu := frag.HeaderSize + 40
	tr := New()

	var reasm = frag.NewReassembler()
	var out []byte
	var complete bool

	tr.Start(transport.Settings{MTUPayload: mtu}, func(f transport.Frame) {
		fr, err := frag.Parse([]byte(f))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		payload, ok, err := reasm.Feed(fr)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if ok {
			out = payload
			complete = true
		}
	})

	payload := bytes.Repeat([]byte{0x42}, 123)
	chunks, err := frag.MakeChunks(1, payload, mtu-frag.HeaderSize)
	if err != nil {
		t.Fatalf("MakeChunks: %v", err)
	}
	for _, c := range chunks {
		wire, err := frag.Serialize(c)
		if err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		if !tr.Send(transport.Frame(wire)) {
			t.Fatal("Send failed for in-budget fragment")
		}
	}

	if !complete {
		t.Fatal("expected reassembly to complete")
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("reassembled payload mismatch")
	}
}

func TestDoubleStartFails(t *testing.T) {
	tr := New()
	if !tr.Start(transport.Settings{}, nil) {
		t.Fatal("first Start should succeed")
	}
	if tr.Start(transport.Settings{}, nil) {
		t.Fatal("second Start should fail")
	}
}

func TestLinkReadyTracksStartStop(t *testing.T) {
	tr := New()
	if tr.LinkReady() {
		t.Fatal("expected LinkReady=false before Start")
	}
	tr.Start(transport.Settings{}, nil)
	if !tr.LinkReady() {
		t.Fatal("expected LinkReady=true after Start")
	}
	tr.Stop()
	if tr.LinkReady() {
		t.Fatal("expected LinkReady=false after Stop")
	}
}
