// Package messenger plumbs application text through the AEAD engine, the
// fragment codec, and a transport, and runs the HELLO control-plane loop
// that bootstraps per-link sessions.
package messenger

import (
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fuchengh/bitchat-clone/aead"
	"github.com/fuchengh/bitchat-clone/ctl"
	"github.com/fuchengh/bitchat-clone/frag"
	"github.com/fuchengh/bitchat-clone/logger"
	"github.com/fuchengh/bitchat-clone/session"
	"github.com/fuchengh/bitchat-clone/transport"
)

const helloPollInterval = 200 * time.Millisecond

// Sink receives reassembled, decrypted plaintext messages.
type Sink func(plaintext []byte)

// PeerLister is implemented by transports that track nearby peers (the BLE
// central engine); Loopback does not implement it.
type PeerLister interface {
	Peers(includeZeroRSSI bool) []PeerDescriptor
}

// PeerDescriptor mirrors the Peer Descriptor data model.
type PeerDescriptor struct {
	Address  string
	RSSI     int16
	LastSeen int64
}

// Config configures a Service.
type Config struct {
	IsCentral    bool
	UserID       string
	PSK          [aead.KeySize]byte
	HasPSK       bool
	HelloEnabled bool
	Sink         Sink
}

// Service owns exactly one transport, one AEAD engine, and one
// reassembler.
type Service struct {
	cfg Config

	transport transport.Transport
	engine    *aead.Engine
	reasm     *frag.Reassembler

	nextMsgID atomic.Uint32

	tailOn atomic.Bool

	mu             sync.Mutex
	localNonce     [32]byte
	localHasNonce  bool
	peerUserID     string
	peerHasCaps    bool
	peerCaps       uint32
	peerNonce      [32]byte
	peerHasNonce   bool
	sessionUp      bool
	helloSent      bool
	lastLinkReady  bool

	stopHello chan struct{}
	wg        sync.WaitGroup

	settingsMTU int
}

// New constructs a Service around t, which must already be unstarted.
func New(t transport.Transport, cfg Config) *Service {
	engine := aead.NewEngine(cfg.PSK)
	s := &Service{
		cfg:       cfg,
		transport: t,
		engine:    engine,
		reasm:     frag.NewReassembler(),
	}
	s.tailOn.Store(true)
	return s
}

// Start starts the underlying transport and, if configured, the HELLO
// poller.
func (s *Service) Start(settings transport.Settings) bool {
	s.settingsMTU = settings.MTUPayload
	if !s.transport.Start(settings, s.onFrame) {
		return false
	}
	if s.cfg.HelloEnabled {
		s.stopHello = make(chan struct{})
		s.wg.Add(1)
		go s.helloLoop()
	}
	return true
}

// Stop halts the HELLO poller and the transport.
func (s *Service) Stop() {
	if s.stopHello != nil {
		close(s.stopHello)
		s.wg.Wait()
	}
	s.transport.Stop()
}

// SetTail enables or disables delivery of reassembled plaintext to the
// sink.
func (s *Service) SetTail(on bool) {
	s.tailOn.Store(on)
}

// Peers returns the transport's observed peers, or nil if the transport
// does not track peers.
func (s *Service) Peers(includeZeroRSSI bool) []PeerDescriptor {
	if pl, ok := s.transport.(PeerLister); ok {
		return pl.Peers(includeZeroRSSI)
	}
	return nil
}

// SendText seals, fragments, and transmits msg. It returns false on the
// first transport send failure (and aborts remaining fragments).
func (s *Service) SendText(msg []byte) bool {
	sealed, err := s.engine.Seal(msg, aead.AAD)
	if err != nil {
		logger.Error("messenger", "seal failed: %v", err)
		return false
	}

	mtuPayload := s.fragMTU()

	msgID := s.nextMsgID.Add(1)
	chunks, err := frag.MakeChunks(msgID, sealed, mtuPayload)
	if err != nil {
		logger.Error("messenger", "make_chunks failed: %v", err)
		return false
	}

	for _, c := range chunks {
		wire, err := frag.Serialize(c)
		if err != nil {
			logger.Error("messenger", "serialize failed: %v", err)
			return false
		}
		if !s.transport.Send(transport.Frame(wire)) {
			logger.Warn("messenger", "transport send failed at seq=%d/%d", c.Header.Seq, c.Header.Total)
			return false
		}
	}
	return true
}

// fragMTU computes the fragment codec's payload MTU from the transport's
// wire-level MTU, clamped to 0 if nonpositive (per §4.8 step 2). A 0 (or
// >100) value is rejected by frag.MakeChunks, surfacing as a SendText
// failure.
func (s *Service) fragMTU() int {
	v := s.settingsMTU - frag.HeaderSize
	if v < 0 {
		v = 0
	}
	return v
}

// onFrame is the transport's receive hook.
func (s *Service) onFrame(f transport.Frame) {
	buf := []byte(f)

	if s.cfg.HelloEnabled && ctl.IsHelloFrame(buf) {
		if _, err := ctl.ParseHello(buf); err == nil {
			s.handleHello(buf)
			return
		}
	}

	fr, err := frag.Parse(buf)
	if err != nil {
		logger.Warn("messenger", "drop malformed frame: %v", err)
		return
	}

	payload, complete, err := s.reasm.Feed(fr)
	if err != nil {
		logger.Warn("messenger", "drop malformed fragment: %v", err)
		return
	}
	if !complete {
		return
	}

	plaintext, err := s.engine.Open(payload, aead.AAD)
	if err != nil {
		logger.System("messenger", "auth fail on msg_id=%d", fr.Header.MsgID)
		return
	}

	if s.tailOn.Load() && s.cfg.Sink != nil {
		s.cfg.Sink(plaintext)
	}
}

func (s *Service) handleHello(buf []byte) {
	h, err := ctl.ParseHello(buf)
	if err != nil {
		logger.Warn("messenger", "drop malformed HELLO: %v", err)
		return
	}

	s.mu.Lock()
	s.peerUserID = h.UserID
	if h.HasCaps {
		s.peerHasCaps = true
		s.peerCaps = h.Caps
	}
	if h.HasNA32 {
		s.peerHasNonce = true
		s.peerNonce = h.NA32
	}
	s.maybeInstallSessionLocked()
	s.mu.Unlock()
}

func (s *Service) maybeInstallSessionLocked() {
	if s.sessionUp {
		return
	}
	if !s.cfg.HasPSK {
		return
	}
	localHasPSKCap := true
	peerHasPSKCap := s.peerHasCaps && (s.peerCaps&ctl.CapAEADPSKSupported) != 0
	if !localHasPSKCap || !peerHasPSKCap {
		return
	}
	if !s.localHasNonce || !s.peerHasNonce {
		return
	}

	var centralNonce, peripheralNonce [32]byte
	if s.cfg.IsCentral {
		centralNonce = s.localNonce
		peripheralNonce = s.peerNonce
	} else {
		centralNonce = s.peerNonce
		peripheralNonce = s.localNonce
	}

	if session.Install(s.engine, s.cfg.PSK, centralNonce, peripheralNonce, s.cfg.IsCentral) {
		s.sessionUp = true
		logger.Info("messenger", "session installed (central=%v)", s.cfg.IsCentral)
	}
}

func (s *Service) helloLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(helloPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopHello:
			return
		case <-ticker.C:
			s.helloTick()
		}
	}
}

func (s *Service) helloTick() {
	ready := s.transport.LinkReady()

	s.mu.Lock()
	rising := ready && !s.lastLinkReady
	falling := !ready && s.lastLinkReady
	s.lastLinkReady = ready

	if rising {
		_, _ = rand.Read(s.localNonce[:])
		s.localHasNonce = true
		s.engine.ClearSession()
		s.sessionUp = false
		s.helloSent = false
	}
	if falling {
		s.engine.ClearSession()
		s.sessionUp = false
		s.helloSent = false
		s.peerUserID = ""
		s.peerHasCaps = false
		s.peerHasNonce = false
	}
	s.maybeInstallSessionLocked()

	shouldSend := ready && !s.helloSent
	caps := uint32(0)
	if s.cfg.HasPSK {
		caps |= ctl.CapAEADPSKSupported
	}
	nonce := s.localNonce
	hasNonce := s.localHasNonce
	userID := s.cfg.UserID
	s.mu.Unlock()

	if !shouldSend {
		return
	}

	var na32 *[32]byte
	if hasNonce {
		na32 = &nonce
	}
	frame, err := ctl.EncodeHello(userID, caps, na32)
	if err != nil {
		logger.Error("messenger", "encode HELLO failed: %v", err)
		return
	}

	if s.transport.Send(transport.Frame(frame)) {
		s.mu.Lock()
		s.helloSent = true
		s.mu.Unlock()
	}
}

