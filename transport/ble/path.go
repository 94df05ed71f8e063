package ble

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

func devicePathPrefix(adapter string) string {
	return string(adapterPath(adapter)) + "/dev_"
}

// macToDevicePath converts "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func macToDevicePath(adapter, mac string) dbus.ObjectPath {
	return dbus.ObjectPath(devicePathPrefix(adapter) + strings.ReplaceAll(mac, ":", "_"))
}

func macEq(a, b string) bool {
	return strings.EqualFold(a, b)
}

func pathUnderDevice(devicePath dbus.ObjectPath, path dbus.ObjectPath) bool {
	if devicePath == "" {
		return false
	}
	return strings.HasPrefix(string(path), string(devicePath)+"/")
}

func uuidsContain(uuids []string, target string) bool {
	for _, u := range uuids {
		if strings.EqualFold(u, target) {
			return true
		}
	}
	return false
}
