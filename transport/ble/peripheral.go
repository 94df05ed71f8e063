package ble

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/fuchengh/bitchat-clone/bcerr"
	"github.com/fuchengh/bitchat-clone/logger"
	"github.com/fuchengh/bitchat-clone/transport"
)

const (
	appPath = dbus.ObjectPath("/com/bitchat/app")
	svcPath = dbus.ObjectPath("/com/bitchat/app/svc0")
	txPath  = dbus.ObjectPath("/com/bitchat/app/svc0/char_tx")
	rxPath  = dbus.ObjectPath("/com/bitchat/app/svc0/char_rx")
	advPath = dbus.ObjectPath("/com/bitchat/adv0")
)

// Peripheral is the peripheral-role BLE transport: it exports a GATT
// object tree over the system bus and advertises it, per §4.7.1.
type Peripheral struct {
	adapter string
	cfg     transport.Settings
	onFrame transport.OnFrame

	running atomic.Bool
	notifying atomic.Bool

	busMu sync.Mutex
	conn  *dbus.Conn

	txProps *prop.Properties
	rxMethods *rxMethodHandler
	txMethods *txMethodHandler
	advMethods *advMethodHandler
}

// NewPeripheral constructs an unstarted peripheral transport against the
// named host adapter (e.g. "hci0").
func NewPeripheral(adapter string) *Peripheral {
	return &Peripheral{adapter: adapter}
}

func (p *Peripheral) Name() string { return "ble-peripheral" }

func (p *Peripheral) LinkReady() bool { return p.notifying.Load() }

func (p *Peripheral) Start(settings transport.Settings, onFrame transport.OnFrame) bool {
	if !p.running.CompareAndSwap(false, true) {
		return false
	}
	p.cfg = settings
	p.onFrame = onFrame

	conn, err := dbus.SystemBus()
	if err != nil {
		logger.Error("ble-peripheral", "system bus: %v (%v)", err, bcerr.ErrBus)
		p.running.Store(false)
		return false
	}
	p.conn = conn

	if err := p.exportObjects(); err != nil {
		logger.Error("ble-peripheral", "export GATT tree: %v", err)
		p.running.Store(false)
		return false
	}

	p.registerApplication()
	p.registerAdvertisement()

	return true
}

func (p *Peripheral) exportObjects() error {
	if err := p.conn.Export(objectManagerHandler{p: p}, appPath, ifaceObjectManager); err != nil {
		return fmt.Errorf("export object manager: %w", err)
	}

	svcProps := prop.New(p.conn, svcPath, prop.Map{
		ifaceGattService1: {
			"UUID":     {Value: p.cfg.ServiceUUID, Writable: false, Emit: prop.EmitFalse},
			"Primary":  {Value: true, Writable: false, Emit: prop.EmitFalse},
			"Includes": {Value: []dbus.ObjectPath{}, Writable: false, Emit: prop.EmitFalse},
		},
	})
	_ = svcProps

	txProps := prop.New(p.conn, txPath, prop.Map{
		ifaceGattChar1: {
			"UUID":      {Value: p.cfg.TxCharUUID, Writable: false, Emit: prop.EmitFalse},
			"Service":   {Value: svcPath, Writable: false, Emit: prop.EmitFalse},
			"Flags":     {Value: []string{"notify"}, Writable: false, Emit: prop.EmitFalse},
			"Notifying": {Value: false, Writable: false, Emit: prop.EmitTrue},
			"Value":     {Value: []byte{}, Writable: false, Emit: prop.EmitTrue},
		},
	})
	p.txProps = txProps

	p.txMethods = &txMethodHandler{p: p}
	if err := p.conn.Export(p.txMethods, txPath, ifaceGattChar1); err != nil {
		return fmt.Errorf("export tx methods: %w", err)
	}

	rxProps := prop.New(p.conn, rxPath, prop.Map{
		ifaceGattChar1: {
			"UUID":    {Value: p.cfg.RxCharUUID, Writable: false, Emit: prop.EmitFalse},
			"Service": {Value: svcPath, Writable: false, Emit: prop.EmitFalse},
			"Flags":   {Value: []string{"write", "write-without-response"}, Writable: false, Emit: prop.EmitFalse},
		},
	})
	_ = rxProps

	p.rxMethods = &rxMethodHandler{p: p}
	if err := p.conn.Export(p.rxMethods, rxPath, ifaceGattChar1); err != nil {
		return fmt.Errorf("export rx methods: %w", err)
	}

	_ = prop.New(p.conn, advPath, prop.Map{
		ifaceLEAdvertisement: {
			"Type":           {Value: "peripheral", Writable: false, Emit: prop.EmitFalse},
			"ServiceUUIDs":   {Value: []string{p.cfg.ServiceUUID}, Writable: false, Emit: prop.EmitFalse},
			"LocalName":      {Value: localName, Writable: false, Emit: prop.EmitFalse},
			"IncludeTxPower": {Value: false, Writable: false, Emit: prop.EmitFalse},
		},
	})

	p.advMethods = &advMethodHandler{}
	if err := p.conn.Export(p.advMethods, advPath, ifaceLEAdvertisement); err != nil {
		return fmt.Errorf("export adv methods: %w", err)
	}

	return nil
}

func (p *Peripheral) registerApplication() {
	adapter := p.conn.Object(busName, adapterPath(p.adapter))
	call := adapter.Call(ifaceGattManager1+".RegisterApplication", 0, appPath, map[string]dbus.Variant{})
	if call.Err != nil {
		logger.Error("ble-peripheral", "RegisterApplication failed: %v", call.Err)
		return
	}
	logger.Debug("ble-peripheral", "GATT app registered at %s", appPath)
}

func (p *Peripheral) registerAdvertisement() {
	adapter := p.conn.Object(busName, adapterPath(p.adapter))
	call := adapter.Call(ifaceLEAdvertisingMgr+".RegisterAdvertisement", 0, advPath, map[string]dbus.Variant{})
	if call.Err != nil {
		logger.Error("ble-peripheral", "RegisterAdvertisement failed: %v", call.Err)
		return
	}
	logger.System("ble-peripheral", "LE advertisement registered")
}

// Send refuses when Notifying is false. Otherwise it emits a
// PropertiesChanged signal carrying Value=frame on the TX object, under
// the bus mutex.
func (p *Peripheral) Send(frame transport.Frame) bool {
	if !p.running.Load() || !p.notifying.Load() {
		return false
	}
	p.busMu.Lock()
	defer p.busMu.Unlock()

	p.txProps.SetMust(ifaceGattChar1, "Value", []byte(frame))
	return true
}

// Stop unregisters the advertisement and application, closes the bus
// connection, and releases all exported objects.
func (p *Peripheral) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	if p.conn != nil {
		adapter := p.conn.Object(busName, adapterPath(p.adapter))
		adapter.Call(ifaceLEAdvertisingMgr+".UnregisterAdvertisement", 0, advPath)
		adapter.Call(ifaceGattManager1+".UnregisterApplication", 0, appPath)
		p.conn.Close()
	}
}

// deliverRX is invoked by rxMethodHandler.WriteValue.
func (p *Peripheral) deliverRX(data []byte) {
	if p.onFrame != nil {
		p.onFrame(transport.Frame(data))
	}
}

func (p *Peripheral) setNotifying(v bool) {
	p.notifying.Store(v)
}

type objectManagerHandler struct {
	p *Peripheral
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager for the
// application path, describing the service and its two characteristics.
func (h objectManagerHandler) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	p := h.p
	out := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		svcPath: {
			ifaceGattService1: {
				"UUID":     dbus.MakeVariant(p.cfg.ServiceUUID),
				"Primary":  dbus.MakeVariant(true),
				"Includes": dbus.MakeVariant([]dbus.ObjectPath{}),
			},
		},
		txPath: {
			ifaceGattChar1: {
				"UUID":      dbus.MakeVariant(p.cfg.TxCharUUID),
				"Service":   dbus.MakeVariant(svcPath),
				"Flags":     dbus.MakeVariant([]string{"notify"}),
				"Notifying": dbus.MakeVariant(p.notifying.Load()),
			},
		},
		rxPath: {
			ifaceGattChar1: {
				"UUID":    dbus.MakeVariant(p.cfg.RxCharUUID),
				"Service": dbus.MakeVariant(svcPath),
				"Flags":   dbus.MakeVariant([]string{"write", "write-without-response"}),
			},
		},
	}
	return out, nil
}

type txMethodHandler struct {
	p *Peripheral
}

func (h *txMethodHandler) StartNotify() *dbus.Error {
	h.p.setNotifying(true)
	h.p.txProps.Set(ifaceGattChar1, "Notifying", dbus.MakeVariant(true))
	logger.Debug("ble-peripheral", "tx.StartNotify")
	return nil
}

func (h *txMethodHandler) StopNotify() *dbus.Error {
	h.p.setNotifying(false)
	h.p.txProps.Set(ifaceGattChar1, "Notifying", dbus.MakeVariant(false))
	logger.Debug("ble-peripheral", "tx.StopNotify")
	return nil
}

type rxMethodHandler struct {
	p *Peripheral
}

// WriteValue implements org.bluez.GattCharacteristic1.WriteValue(aya{sv}).
// A non-zero offset option is rejected.
func (h *rxMethodHandler) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if v, ok := options["offset"]; ok {
		if off, ok := v.Value().(uint16); ok && off != 0 {
			return dbus.NewError("org.bluez.Error.InvalidOffset", []interface{}{"offset not supported"})
		}
	}
	logger.Debug("ble-peripheral", "rx.WriteValue len=%d", len(value))
	if len(value) != 0 {
		h.p.deliverRX(value)
	}
	return nil
}

type advMethodHandler struct{}

func (advMethodHandler) Release() *dbus.Error {
	logger.Debug("ble-peripheral", "adv.Release")
	return nil
}
