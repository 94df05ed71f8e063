package messenger

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/fuchengh/bitchat-clone/transport"
	"github.com/fuchengh/bitchat-clone/transport/loopback"
)

func testPSK(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

// TestSendTextWithoutSessionUsesPSK exercises seal -> fragment -> transport
// -> reassemble -> open without the control plane, over loopback, which
// only echoes within a single Service's own transport. The two-sided HELLO
// exchange is covered separately by TestHelloHandshakeInstallsSessionAcrossTwoServices.
func TestSendTextWithoutSessionUsesPSK(t *testing.T) {
	psk := testPSK(0xAA)
	var received []byte
	done := make(chan struct{}, 1)

	tr := loopback.New()
	svc := New(tr, Config{
		PSK:    psk,
		HasPSK: true,
		Sink: func(pt []byte) {
			received = pt
			done <- struct{}{}
		},
	})
	// A distinct reader service shares the sealed bytes by wiring a second
	// engine with the same PSK directly onto the same transport's onFrame
	// hook is not possible (one transport, one onFrame); instead verify the
	// local loop decrypts its own seal, proving the AEAD/frag plumbing.
	if !svc.Start(transport.Settings{MTUPayload: 50}) {
		t.Fatal("Start failed")
	}
	defer svc.Stop()

	if !svc.SendText([]byte("loopback round trip")) {
		t.Fatal("SendText failed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sink delivery")
	}
	if string(received) != "loopback round trip" {
		t.Fatalf("got %q", received)
	}
}

func TestTailGating(t *testing.T) {
	psk := testPSK(0xBB)
	delivered := 0

	tr := loopback.New()
	svc := New(tr, Config{
		PSK:    psk,
		HasPSK: true,
		Sink:   func([]byte) { delivered++ },
	})
	svc.Start(transport.Settings{MTUPayload: 50})
	defer svc.Stop()

	svc.SetTail(false)
	svc.SendText([]byte("should not be delivered"))
	time.Sleep(20 * time.Millisecond)
	if delivered != 0 {
		t.Fatalf("expected 0 deliveries while tail is off, got %d", delivered)
	}

	svc.SetTail(true)
	svc.SendText([]byte("should be delivered"))
	time.Sleep(20 * time.Millisecond)
	if delivered != 1 {
		t.Fatalf("expected 1 delivery after enabling tail, got %d", delivered)
	}
}

// fakeTransportWithPeers exercises the Peers passthrough.
type fakeTransportWithPeers struct {
	*loopback.Transport
	peers []PeerDescriptor
}

func (f *fakeTransportWithPeers) Peers(includeZeroRSSI bool) []PeerDescriptor {
	return f.peers
}

func TestPeersPassthrough(t *testing.T) {
	base := loopback.New()
	fake := &fakeTransportWithPeers{Transport: base, peers: []PeerDescriptor{{Address: "AA:BB:CC:DD:EE:FF", RSSI: -50}}}

	svc := New(fake, Config{})
	svc.Start(transport.Settings{MTUPayload: 50})
	defer svc.Stop()

	got := svc.Peers(false)
	if len(got) != 1 || got[0].Address != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("got %+v", got)
	}
}

func TestPeersReturnsNilWithoutPeerLister(t *testing.T) {
	tr := loopback.New()
	svc := New(tr, Config{})
	svc.Start(transport.Settings{MTUPayload: 50})
	defer svc.Stop()

	if got := svc.Peers(false); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

// pipeTransport forwards Send directly into a paired pipeTransport's onFrame
// hook, modeling a live point-to-point link between two distinct Services so
// the real two-sided HELLO exchange and subsequent session install can be
// exercised end to end, rather than only one level down in session_test.go.
type pipeTransport struct {
	peer    *pipeTransport
	onFrame transport.OnFrame
	ready   atomic.Bool
}

func (p *pipeTransport) Start(settings transport.Settings, onFrame transport.OnFrame) bool {
	p.onFrame = onFrame
	p.ready.Store(true)
	return true
}

func (p *pipeTransport) Send(frame transport.Frame) bool {
	if !p.ready.Load() || p.peer == nil || !p.peer.ready.Load() {
		return false
	}
	p.peer.onFrame(frame)
	return true
}

func (p *pipeTransport) Stop()           { p.ready.Store(false) }
func (p *pipeTransport) LinkReady() bool { return p.ready.Load() }
func (p *pipeTransport) Name() string    { return "pipe" }

// TestHelloHandshakeInstallsSessionAcrossTwoServices wires a central and a
// peripheral Service back to back and lets their helloLoops run for real:
// each side sends HELLO on link-up, the other side's handleHello installs
// the nonce/caps it carries, and once both nonces are known on both sides
// session.Install brings up a shared session key. A text message sent after
// that must still decrypt correctly on the far side, proving the role-swapped
// key orientation matches.
func TestHelloHandshakeInstallsSessionAcrossTwoServices(t *testing.T) {
	psk := testPSK(0xCC)

	central := &pipeTransport{}
	peripheral := &pipeTransport{}
	central.peer = peripheral
	peripheral.peer = central

	var received []byte
	done := make(chan struct{}, 1)

	centralSvc := New(central, Config{
		IsCentral: true, UserID: "central", PSK: psk, HasPSK: true, HelloEnabled: true,
	})
	peripheralSvc := New(peripheral, Config{
		IsCentral: false, UserID: "peripheral", PSK: psk, HasPSK: true, HelloEnabled: true,
		Sink: func(pt []byte) {
			received = pt
			done <- struct{}{}
		},
	})

	if !centralSvc.Start(transport.Settings{MTUPayload: 50}) {
		t.Fatal("central Start failed")
	}
	defer centralSvc.Stop()
	if !peripheralSvc.Start(transport.Settings{MTUPayload: 50}) {
		t.Fatal("peripheral Start failed")
	}
	defer peripheralSvc.Stop()

	sessionUp := func(s *Service) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.sessionUp
	}
	waitFor(t, func() bool { return sessionUp(centralSvc) && sessionUp(peripheralSvc) })

	if !centralSvc.SendText([]byte("post-handshake message")) {
		t.Fatal("SendText after session install failed")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for peripheral sink delivery")
	}
	if string(received) != "post-handshake message" {
		t.Fatalf("got %q", received)
	}
}
