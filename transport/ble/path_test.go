package ble

import "testing"

func TestMacToDevicePath(t *testing.T) {
	got := macToDevicePath("hci0", "AA:BB:CC:DD:EE:FF")
	want := "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMacEqCaseInsensitive(t *testing.T) {
	if !macEq("aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF") {
		t.Fatal("expected case-insensitive match")
	}
	if macEq("aa:bb:cc:dd:ee:ff", "00:00:00:00:00:00") {
		t.Fatal("expected mismatch")
	}
}

func TestPathUnderDevice(t *testing.T) {
	dev := macToDevicePath("hci0", "AA:BB:CC:DD:EE:FF")
	if !pathUnderDevice(dev, dev+"/service0/char0") {
		t.Fatal("expected child path to be under device")
	}
	if pathUnderDevice(dev, dev) {
		t.Fatal("the device path itself is not a child of itself")
	}
	if pathUnderDevice("", "/org/bluez/hci0/dev_AA_BB/service0") {
		t.Fatal("empty device path should never match")
	}
}

func TestUuidsContain(t *testing.T) {
	uuids := []string{"0000180d-0000-1000-8000-00805f9b34fb"}
	if !uuidsContain(uuids, "0000180D-0000-1000-8000-00805F9B34FB") {
		t.Fatal("expected case-insensitive UUID match")
	}
	if uuidsContain(uuids, "0000ffff-0000-1000-8000-00805f9b34fb") {
		t.Fatal("expected no match for unrelated UUID")
	}
}
