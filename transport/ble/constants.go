// Package ble implements the BLE central and peripheral role engines on top
// of BlueZ's D-Bus object-manager/properties convention, grounded on the
// godbus/dbus client idioms used for Meshtastic-over-BLE in the example
// corpus and on the sd-bus vtable semantics of the original C++ transport.
package ble

import "time"

const (
	busName = "org.bluez"

	ifaceAdapter1       = "org.bluez.Adapter1"
	ifaceDevice1        = "org.bluez.Device1"
	ifaceGattService1   = "org.bluez.GattService1"
	ifaceGattChar1      = "org.bluez.GattCharacteristic1"
	ifaceLEAdvertisement = "org.bluez.LEAdvertisement1"
	ifaceLEAdvertisingMgr = "org.bluez.LEAdvertisingManager1"
	ifaceGattManager1   = "org.bluez.GattManager1"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
	ifaceObjectManager  = "org.freedesktop.DBus.ObjectManager"

	localName = "BitChat"

	waitTick          = 100 * time.Millisecond
	connectBackoffMin = 2 * time.Second
	connectBackoffMax = 5 * time.Second
	handoverDelay     = 300 * time.Millisecond

	refreshMinInterval = 2 * time.Second
	refreshPeriodic    = 5 * time.Second

	peerTTL = 120 * time.Second
)
