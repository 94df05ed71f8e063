package ble

import (
	"strings"
	"sync"
	"time"

	"github.com/fuchengh/bitchat-clone/messenger"
)

type peerEntry struct {
	rssi     int16
	lastSeen time.Time
}

// peerCache is the short-lived directory of observed peers described by
// the Peer Descriptor data model: address, rssi, last-seen, with a TTL and
// RSSI=0 hiding.
type peerCache struct {
	mu      sync.Mutex
	entries map[string]*peerEntry
}

func newPeerCache() *peerCache {
	return &peerCache{entries: make(map[string]*peerEntry)}
}

func (c *peerCache) observe(addr string, rssi int16) {
	addr = strings.ToUpper(addr)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		e = &peerEntry{}
		c.entries[addr] = e
	}
	if rssi != 0 {
		e.rssi = rssi
	}
	e.lastSeen = time.Now()
}

func (c *peerCache) forget(addr string) {
	addr = strings.ToUpper(addr)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, addr)
}

// snapshot returns peers not older than peerTTL, hiding RSSI==0 entries
// unless includeZeroRSSI is set.
func (c *peerCache) snapshot(includeZeroRSSI bool) []messenger.PeerDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	out := make([]messenger.PeerDescriptor, 0, len(c.entries))
	for addr, e := range c.entries {
		if now.Sub(e.lastSeen) > peerTTL {
			continue
		}
		if e.rssi == 0 && !includeZeroRSSI {
			continue
		}
		out = append(out, messenger.PeerDescriptor{
			Address:  addr,
			RSSI:     e.rssi,
			LastSeen: e.lastSeen.UnixMilli(),
		})
	}
	return out
}
