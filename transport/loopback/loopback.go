// Package loopback implements a single-threaded, same-thread echo
// transport used for property tests of the full messaging pipeline.
package loopback

import (
	"sync"
	"sync/atomic"

	"github.com/fuchengh/bitchat-clone/transport"
)

// Transport is an in-process echo: Send invokes the installed OnFrame
// synchronously, on the caller's goroutine.
type Transport struct {
	mu       sync.Mutex
	started  atomic.Bool
	settings transport.Settings
	onFrame  transport.OnFrame
}

// New returns an unstarted loopback transport.
func New() *Transport {
	return &Transport{}
}

func (t *Transport) Start(settings transport.Settings, onFrame transport.OnFrame) bool {
	if !t.started.CompareAndSwap(false, true) {
		return false
	}
	t.mu.Lock()
	t.settings = settings
	t.onFrame = onFrame
	t.mu.Unlock()
	return true
}

// Send refuses (per the strict MTU variant adopted for this transport)
// when len(frame) exceeds the configured MTU and MTU != 0; otherwise it
// invokes OnFrame synchronously and returns true.
func (t *Transport) Send(frame transport.Frame) bool {
	if !t.started.Load() {
		return false
	}
	t.mu.Lock()
	mtu := t.settings.MTUPayload
	cb := t.onFrame
	t.mu.Unlock()

	if mtu != 0 && len(frame) > mtu {
		return false
	}
	if cb != nil {
		cb(frame)
	}
	return true
}

func (t *Transport) Stop() {
	t.started.Store(false)
}

func (t *Transport) LinkReady() bool {
	return t.started.Load()
}

func (t *Transport) Name() string {
	return "loopback"
}
