package config

import (
	"testing"

	"github.com/fuchengh/bitchat-clone/transport"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TRANSPORT", "ROLE", "ADAPTER", "PEER", "PSK", "MTU_PAYLOAD", "USER_ID", "LOG_LEVEL", "CTL_SOCK", "KEEP_ZERO_RSSI", "CTRL_HELLO"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c := Load()
	if c.Transport != "loopback" {
		t.Fatalf("Transport = %q", c.Transport)
	}
	if c.Role != transport.RolePeripheral {
		t.Fatalf("Role = %v", c.Role)
	}
	if c.MTUPayload != defaultMTUPayload {
		t.Fatalf("MTUPayload = %d", c.MTUPayload)
	}
	if c.HasPSK {
		t.Fatal("expected HasPSK=false with no PSK set")
	}
	if c.CtrlHello {
		t.Fatal("expected CtrlHello=false for loopback transport by default")
	}
}

func TestLoadInvalidMTUFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("MTU_PAYLOAD", "9999")
	c := Load()
	if c.MTUPayload != defaultMTUPayload {
		t.Fatalf("expected fallback to default MTU, got %d", c.MTUPayload)
	}
}

func TestLoadValidMTU(t *testing.T) {
	clearEnv(t)
	t.Setenv("MTU_PAYLOAD", "150")
	c := Load()
	if c.MTUPayload != 150 {
		t.Fatalf("MTUPayload = %d", c.MTUPayload)
	}
}

func TestLoadHexPSK(t *testing.T) {
	clearEnv(t)
	hexKey := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	t.Setenv("PSK", hexKey)
	c := Load()
	if !c.HasPSK {
		t.Fatal("expected HasPSK=true")
	}
}

func TestLoadInvalidPSKDisablesEncryption(t *testing.T) {
	clearEnv(t)
	t.Setenv("PSK", "not-a-valid-key")
	c := Load()
	if c.HasPSK {
		t.Fatal("expected HasPSK=false for malformed PSK")
	}
}

func TestLoadUserIDTruncation(t *testing.T) {
	clearEnv(t)
	long := make([]byte, maxUserIDBytes+10)
	for i := range long {
		long[i] = 'x'
	}
	t.Setenv("USER_ID", string(long))
	c := Load()
	if len(c.UserID) != maxUserIDBytes {
		t.Fatalf("UserID length = %d, want %d", len(c.UserID), maxUserIDBytes)
	}
}

func TestLoadCtrlHelloDefaultsByTransport(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSPORT", "bluez")
	c := Load()
	if !c.CtrlHello {
		t.Fatal("expected CtrlHello=true by default for bluez transport")
	}

	clearEnv(t)
	t.Setenv("TRANSPORT", "bluez")
	t.Setenv("CTRL_HELLO", "0")
	c = Load()
	if c.CtrlHello {
		t.Fatal("expected CTRL_HELLO=0 to override the bluez default")
	}
}

func TestResolveCtlSockExpandsHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	got := resolveCtlSock("~/sock/ctl.sock")
	if got != "/home/tester/sock/ctl.sock" {
		t.Fatalf("got %q", got)
	}
}
