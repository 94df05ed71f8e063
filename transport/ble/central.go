package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/fuchengh/bitchat-clone/bcerr"
	"github.com/fuchengh/bitchat-clone/logger"
	"github.com/fuchengh/bitchat-clone/messenger"
	"github.com/fuchengh/bitchat-clone/transport"
)

// Central is the central-role BLE transport: it scans for the configured
// service UUID, connects, discovers the TX/RX characteristics, subscribes
// to notifications on TX, and writes outbound frames to RX. It implements
// the central_pump state machine of §4.7.2.
type Central struct {
	adapter string
	cfg     transport.Settings
	onFrame transport.OnFrame

	running atomic.Bool

	busMu sync.Mutex
	conn  *dbus.Conn
	sigCh chan *dbus.Signal

	stopCh chan struct{}
	wg     sync.WaitGroup

	peers *peerCache

	// protected by busMu: all transport state lives here because every
	// access happens either from the pump loop (which holds busMu while
	// touching it) or from a signal handler invoked synchronously in the
	// same goroutine as the pump's Signal channel drain.
	devPath          dbus.ObjectPath
	peerAddress      string // filter; "" = adopt first match
	connected        atomic.Bool
	servicesResolved atomic.Bool
	subscribed       atomic.Bool
	connectInflight  atomic.Bool
	discoveryOn      atomic.Bool
	discoverSubmitted bool

	txCharPath dbus.ObjectPath
	rxCharPath dbus.ObjectPath

	nextConnectAt time.Time
	backoff       time.Duration

	lastRefresh  time.Time
	refreshReq   atomic.Bool

	handoverGen atomic.Uint64
}

// NewCentral constructs an unstarted central transport against the named
// host adapter.
func NewCentral(adapter string) *Central {
	return &Central{adapter: adapter, peers: newPeerCache(), backoff: connectBackoffMin}
}

func (c *Central) Name() string { return "ble-central" }

func (c *Central) LinkReady() bool { return c.connected.Load() && c.subscribed.Load() }

// Peers satisfies messenger.PeerLister.
func (c *Central) Peers(includeZeroRSSI bool) []messenger.PeerDescriptor {
	return c.peers.snapshot(includeZeroRSSI)
}

func (c *Central) Start(settings transport.Settings, onFrame transport.OnFrame) bool {
	if !c.running.CompareAndSwap(false, true) {
		return false
	}
	c.cfg = settings
	c.onFrame = onFrame
	c.peerAddress = strings.ToUpper(settings.PeerAddress)

	conn, err := dbus.SystemBus()
	if err != nil {
		logger.Error("ble-central", "system bus: %v", err)
		c.running.Store(false)
		return false
	}
	c.conn = conn

	if err := c.installMatchRules(); err != nil {
		logger.Error("ble-central", "install match rules: %v", err)
		c.running.Store(false)
		return false
	}

	c.sigCh = make(chan *dbus.Signal, 64)
	c.conn.Signal(c.sigCh)

	c.applyDiscoveryFilter()
	c.startDiscovery()

	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.loop()

	return true
}

func (c *Central) installMatchRules() error {
	rules := []string{
		"type='signal',interface='" + ifaceObjectManager + "',member='InterfacesAdded'",
		"type='signal',interface='" + ifaceObjectManager + "',member='InterfacesRemoved'",
		"type='signal',interface='" + ifaceProperties + "',member='PropertiesChanged'",
	}
	for _, r := range rules {
		call := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, r)
		if call.Err != nil {
			return fmt.Errorf("AddMatch %q: %w", r, call.Err)
		}
	}
	return nil
}

func (c *Central) applyDiscoveryFilter() {
	adapter := c.conn.Object(busName, adapterPath(c.adapter))
	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"DuplicateData": dbus.MakeVariant(false),
	}
	if c.cfg.ServiceUUID != "" {
		filter["UUIDs"] = dbus.MakeVariant([]string{c.cfg.ServiceUUID})
	}
	call := adapter.Call(ifaceAdapter1+".SetDiscoveryFilter", 0, filter)
	if call.Err != nil {
		logger.Warn("ble-central", "SetDiscoveryFilter: %v", call.Err)
	}
}

func (c *Central) startDiscovery() {
	if c.discoveryOn.Load() {
		return
	}
	adapter := c.conn.Object(busName, adapterPath(c.adapter))
	call := adapter.Call(ifaceAdapter1+".StartDiscovery", 0)
	if call.Err != nil {
		logger.Warn("ble-central", "StartDiscovery: %v", call.Err)
		return
	}
	c.discoveryOn.Store(true)
}

func (c *Central) stopDiscovery() {
	if !c.discoveryOn.Load() {
		return
	}
	adapter := c.conn.Object(busName, adapterPath(c.adapter))
	adapter.Call(ifaceAdapter1+".StopDiscovery", 0)
	c.discoveryOn.Store(false)
}

// Send writes the frame to the RX characteristic under busMu, so the write
// never races pump()/signal handling on the same bus connection. A post-send
// EBADMSG is treated as a soft success per §4.7.2: bluez often reports the
// write failing just as the link drops, after the peripheral already
// received the bytes; any other WriteValue error is a hard failure.
func (c *Central) Send(frame transport.Frame) bool {
	if !c.running.Load() || !c.LinkReady() {
		return false
	}
	c.busMu.Lock()
	defer c.busMu.Unlock()

	rxPath := c.rxCharPath
	if rxPath == "" {
		return false
	}

	obj := c.conn.Object(busName, rxPath)
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request"), "offset": dbus.MakeVariant(uint16(0))}
	call := obj.Call(ifaceGattChar1+".WriteValue", 0, []byte(frame), opts)
	if call.Err != nil {
		if strings.Contains(call.Err.Error(), "EBADMSG") {
			logger.Debug("ble-central", "WriteValue soft success: %v", fmt.Errorf("ble-central: post-send disconnect race: %w: %v", bcerr.ErrTransientBus, call.Err))
			return true
		}
		logger.Warn("ble-central", "WriteValue failed: %v", fmt.Errorf("ble-central: write to rx char: %w: %v", bcerr.ErrLinkDown, call.Err))
		return false
	}
	return true
}

func (c *Central) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
	if c.conn != nil {
		c.stopDiscovery()
		c.conn.RemoveSignal(c.sigCh)
		c.conn.Close()
	}
}

// HandoverTo switches the peer filter and restarts scanning, per §4.7.2's
// handover protocol: stop discovery, cancel in-flight connect, best-effort
// disconnect the current device, reset cached state, reapply the filter,
// and restart discovery after handoverDelay.
func (c *Central) HandoverTo(address string) {
	gen := c.handoverGen.Add(1)

	c.busMu.Lock()
	c.stopDiscovery()
	c.connectInflight.Store(false)
	if c.devPath != "" {
		obj := c.conn.Object(busName, c.devPath)
		obj.Call(ifaceDevice1+".Disconnect", 0)
	}
	c.devPath = ""
	c.txCharPath = ""
	c.rxCharPath = ""
	c.discoverSubmitted = false
	c.connected.Store(false)
	c.servicesResolved.Store(false)
	c.subscribed.Store(false)
	if c.peerAddress != "" {
		c.peers.forget(c.peerAddress)
	}
	c.peerAddress = strings.ToUpper(address)
	c.nextConnectAt = time.Now().Add(handoverDelay)
	c.refreshReq.Store(true)
	c.busMu.Unlock()

	time.AfterFunc(handoverDelay, func() {
		if c.handoverGen.Load() != gen || !c.running.Load() {
			return
		}
		c.busMu.Lock()
		c.applyDiscoveryFilter()
		c.startDiscovery()
		c.busMu.Unlock()
	})
}

// loop alternates between draining pending signals under busMu and pumping
// the state machine, then waits waitTick without holding the mutex — per
// the deadlock-avoidance rule, wait must never hold the bus mutex.
func (c *Central) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(waitTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case sig, ok := <-c.sigCh:
			if !ok {
				return
			}
			c.busMu.Lock()
			c.handleSignal(sig)
			c.busMu.Unlock()
		case <-ticker.C:
			c.busMu.Lock()
			c.pump()
			c.busMu.Unlock()
			c.maybeRefreshPeers()
		}
	}
}

// maybeRefreshPeers toggles discovery off and back on so BlueZ re-emits
// InterfacesAdded/PropertiesChanged for already-cached devices, refreshing
// RSSI and advertised-UUID data in the peer cache. It fires on request (at
// most every refreshMinInterval) or periodically every refreshPeriodic.
func (c *Central) maybeRefreshPeers() {
	now := time.Now()
	c.busMu.Lock()
	due := c.refreshReq.Load() && now.Sub(c.lastRefresh) >= refreshMinInterval
	periodic := now.Sub(c.lastRefresh) >= refreshPeriodic
	if !due && !periodic {
		c.busMu.Unlock()
		return
	}
	c.refreshReq.Store(false)
	c.lastRefresh = now
	if c.discoveryOn.Load() {
		c.stopDiscovery()
		c.startDiscovery()
	}
	c.busMu.Unlock()
}

// pump implements the central_pump table of §4.7.2. Called with busMu
// held.
func (c *Central) pump() {
	if !c.connected.Load() {
		if c.connectInflight.Load() {
			return
		}
		if time.Now().Before(c.nextConnectAt) {
			return
		}
		c.coldScan()
		return
	}

	if !c.servicesResolved.Load() {
		return // wait for ServicesResolved PropertiesChanged
	}

	if c.txCharPath == "" || c.rxCharPath == "" {
		if !c.discoverSubmitted {
			c.discoverSubmitted = true
			c.discoverCharacteristics()
		}
		return
	}

	if !c.subscribed.Load() {
		c.subscribeTX()
	}
}

// coldScan walks the object-manager cache for a device matching the
// configured peer filter or advertising the target service UUID.
func (c *Central) coldScan() {
	var mgr map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := c.conn.Object(busName, "/").Call(ifaceObjectManager+".GetManagedObjects", 0).Store(&mgr)
	if err != nil {
		logger.Warn("ble-central", "GetManagedObjects: %v", err)
		return
	}

	prefix := devicePathPrefix(c.adapter)
	for path, ifaces := range mgr {
		devProps, ok := ifaces[ifaceDevice1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		addr, _ := devProps["Address"].Value().(string)
		if addr == "" {
			continue
		}
		if rssi, ok := devProps["RSSI"].Value().(int16); ok {
			c.peers.observe(addr, rssi)
		}

		uuids, _ := devProps["UUIDs"].Value().([]string)
		svcHit := c.cfg.ServiceUUID != "" && uuidsContain(uuids, c.cfg.ServiceUUID)
		addrHit := c.peerAddress != "" && macEq(addr, c.peerAddress)

		// Accept a service-UUID hit even when the configured peer address
		// does not match: BLE privacy (RPA) rotates the advertised address,
		// so the service match is the more durable signal.
		if addrHit || svcHit {
			c.connectTo(path)
			return
		}
	}
}

func (c *Central) connectTo(path dbus.ObjectPath) {
	c.devPath = path
	c.connectInflight.Store(true)
	obj := c.conn.Object(busName, path)
	call := obj.GoWithContext(context.Background(), ifaceDevice1+".Connect", 0, make(chan *dbus.Call, 1))
	go func() {
		ret := <-call.Done
		c.onConnectReply(path, ret.Err)
	}()
}

// onConnectReply applies the backoff rules of bluez_on_connect_reply: 5s
// for NoReply/InProgress/"already in progress", else 2s; dev_path is
// cleared on UnknownObject/UnknownMethod since the device object vanished.
func (c *Central) onConnectReply(path dbus.ObjectPath, err error) {
	c.busMu.Lock()
	defer c.busMu.Unlock()

	c.connectInflight.Store(false)
	if err == nil {
		c.connected.Store(true)
		c.servicesResolved.Store(false)
		logger.Info("ble-central", "connected to %s", path)
		return
	}

	msg := err.Error()
	var wrapped error
	switch {
	case strings.Contains(msg, "UnknownObject"), strings.Contains(msg, "UnknownMethod"):
		if c.devPath == path {
			c.devPath = ""
		}
		c.nextConnectAt = time.Now().Add(connectBackoffMin)
		wrapped = fmt.Errorf("ble-central: device object gone: %w: %v", bcerr.ErrLinkDown, err)
	case strings.Contains(msg, "NoReply"), strings.Contains(msg, "InProgress"), strings.Contains(msg, "already in progress"):
		c.nextConnectAt = time.Now().Add(connectBackoffMax)
		wrapped = fmt.Errorf("ble-central: transient connect failure: %w: %v", bcerr.ErrTransientBus, err)
	case strings.Contains(msg, "EBADMSG"):
		c.nextConnectAt = time.Now().Add(connectBackoffMin)
		wrapped = fmt.Errorf("ble-central: transient connect failure: %w: %v", bcerr.ErrTransientBus, err)
	default:
		c.nextConnectAt = time.Now().Add(connectBackoffMin)
		wrapped = fmt.Errorf("ble-central: unrecoverable connect failure: %w: %v", bcerr.ErrFatalHost, err)
	}
	logger.Warn("ble-central", "Connect to %s failed: %v", path, wrapped)
}

func (c *Central) discoverCharacteristics() {
	var mgr map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := c.conn.Object(busName, "/").Call(ifaceObjectManager+".GetManagedObjects", 0).Store(&mgr)
	if err != nil {
		logger.Warn("ble-central", "GetManagedObjects (discover): %v", err)
		c.discoverSubmitted = false
		return
	}

	for path, ifaces := range mgr {
		charProps, ok := ifaces[ifaceGattChar1]
		if !ok || !pathUnderDevice(c.devPath, path) {
			continue
		}
		uuid, _ := charProps["UUID"].Value().(string)
		switch strings.ToLower(uuid) {
		case strings.ToLower(c.cfg.TxCharUUID):
			c.txCharPath = path
		case strings.ToLower(c.cfg.RxCharUUID):
			c.rxCharPath = path
		}
	}

	if c.txCharPath == "" || c.rxCharPath == "" {
		logger.Debug("ble-central", "characteristics not yet visible, will retry")
		c.discoverSubmitted = false
	}
}

func (c *Central) subscribeTX() {
	obj := c.conn.Object(busName, c.txCharPath)
	call := obj.Call(ifaceGattChar1+".StartNotify", 0)
	if call.Err != nil {
		logger.Warn("ble-central", "StartNotify: %v", call.Err)
		return
	}
	c.subscribed.Store(true)
	logger.Info("ble-central", "subscribed to TX notifications")
}

func (c *Central) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case ifaceObjectManager + ".InterfacesAdded":
		c.onInterfacesAdded(sig)
	case ifaceObjectManager + ".InterfacesRemoved":
		c.onInterfacesRemoved(sig)
	case ifaceProperties + ".PropertiesChanged":
		c.onPropertiesChanged(sig)
	}
}

func (c *Central) onInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, _ := sig.Body[0].(dbus.ObjectPath)
	ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
	devProps, ok := ifaces[ifaceDevice1]
	if !ok {
		return
	}
	if !strings.HasPrefix(string(path), devicePathPrefix(c.adapter)) {
		return
	}

	addr, _ := devProps["Address"].Value().(string)
	if rssi, ok := devProps["RSSI"].Value().(int16); ok && addr != "" {
		c.peers.observe(addr, rssi)
	}

	if c.connected.Load() || c.connectInflight.Load() {
		return
	}
	uuids, _ := devProps["UUIDs"].Value().([]string)
	svcHit := c.cfg.ServiceUUID != "" && uuidsContain(uuids, c.cfg.ServiceUUID)
	addrHit := c.peerAddress != "" && macEq(addr, c.peerAddress)
	if addrHit || svcHit {
		c.connectTo(path)
	}
}

func (c *Central) onInterfacesRemoved(sig *dbus.Signal) {
	if len(sig.Body) < 1 {
		return
	}
	path, _ := sig.Body[0].(dbus.ObjectPath)
	if path != c.devPath {
		return
	}
	c.connected.Store(false)
	c.subscribed.Store(false)
	c.servicesResolved.Store(false)
	c.devPath = ""
	c.txCharPath = ""
	c.rxCharPath = ""
	c.discoverSubmitted = false
	c.nextConnectAt = time.Now().Add(connectBackoffMin)
}

func (c *Central) onPropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)

	switch iface {
	case ifaceDevice1:
		if path := sig.Path; path == c.devPath {
			if v, ok := changed["ServicesResolved"]; ok {
				if resolved, ok := v.Value().(bool); ok && resolved {
					c.servicesResolved.Store(true)
				}
			}
			if v, ok := changed["Connected"]; ok {
				if connected, ok := v.Value().(bool); ok {
					c.connected.Store(connected)
					if !connected {
						c.subscribed.Store(false)
						c.servicesResolved.Store(false)
						c.txCharPath = ""
						c.rxCharPath = ""
						c.discoverSubmitted = false
						c.nextConnectAt = time.Now().Add(connectBackoffMin)
					}
				}
			}
			if v, ok := changed["RSSI"]; ok {
				if rssi, ok := v.Value().(int16); ok {
					if devProps := c.deviceAddress(path); devProps != "" {
						c.peers.observe(devProps, rssi)
					}
				}
			}
		}
		if c.peerAddress == "" {
			if v, ok := changed["UUIDs"]; ok {
				if uuids, ok := v.Value().([]string); ok && uuidsContain(uuids, c.cfg.ServiceUUID) {
					if !c.connected.Load() && !c.connectInflight.Load() {
						c.connectTo(sig.Path)
					}
				}
			}
		}
	case ifaceGattChar1:
		if sig.Path != c.txCharPath {
			return
		}
		if v, ok := changed["Value"]; ok {
			if data, ok := v.Value().([]byte); ok && c.onFrame != nil {
				c.onFrame(transport.Frame(data))
			}
		}
	}
}

func (c *Central) deviceAddress(path dbus.ObjectPath) string {
	variant, err := c.conn.Object(busName, path).GetProperty(ifaceDevice1 + ".Address")
	if err != nil {
		return ""
	}
	addr, _ := variant.Value().(string)
	return addr
}
