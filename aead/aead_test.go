package aead

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/fuchengh/bitchat-clone/bcerr"
)

func testPSK(b byte) [KeySize]byte {
	var k [KeySize]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	e := NewEngine(testPSK(0x11))
	plaintext := []byte("hello over the air")

	sealed, err := e.Seal(plaintext, AAD)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := e.Open(sealed, AAD)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestOpenDetectsTamper(t *testing.T) {
	e := NewEngine(testPSK(0x22))
	sealed, err := e.Seal([]byte("integrity matters"), AAD)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := e.Open(sealed, AAD); !errors.Is(err, bcerr.ErrAuthFail) {
		t.Fatalf("expected ErrAuthFail, got %v", err)
	}
}

func TestOpenDetectsAADMismatch(t *testing.T) {
	e := NewEngine(testPSK(0x33))
	sealed, err := e.Seal([]byte("payload"), AAD)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := e.Open(sealed, []byte("WRONG")); !errors.Is(err, bcerr.ErrAuthFail) {
		t.Fatalf("expected ErrAuthFail, got %v", err)
	}
}

func TestOpenRejectsShortBuffer(t *testing.T) {
	e := NewEngine(testPSK(0x44))
	if _, err := e.Open([]byte("short"), AAD); !errors.Is(err, bcerr.ErrAuthFail) {
		t.Fatalf("expected ErrAuthFail, got %v", err)
	}
}

func TestPSKMismatchFailsToOpen(t *testing.T) {
	sender := NewEngine(testPSK(0x55))
	receiver := NewEngine(testPSK(0x66))

	sealed, err := sender.Seal([]byte("secret"), AAD)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := receiver.Open(sealed, AAD); !errors.Is(err, bcerr.ErrAuthFail) {
		t.Fatalf("expected ErrAuthFail on PSK mismatch, got %v", err)
	}
}

func TestSessionTakesPriorityOverPSKButFallsBack(t *testing.T) {
	psk := testPSK(0x77)
	a := NewEngine(psk)
	b := NewEngine(psk)

	var tx, rx [KeySize]byte
	for i := range tx {
		tx[i] = byte(i)
		rx[i] = byte(255 - i)
	}
	a.SetSession(tx, rx, true)
	b.SetSession(rx, tx, true)

	sealed, err := a.Seal([]byte("session msg"), AAD)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := b.Open(sealed, AAD)
	if err != nil {
		t.Fatalf("Open under session keys: %v", err)
	}
	if string(got) != "session msg" {
		t.Fatalf("got %q", got)
	}

	// After clearing the session, PSK-sealed frames must still open via the
	// PSK fallback path.
	a.ClearSession()
	sealed2, err := a.Seal([]byte("psk fallback"), AAD)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got2, err := b.Open(sealed2, AAD)
	if err != nil {
		t.Fatalf("Open via PSK fallback: %v", err)
	}
	if string(got2) != "psk fallback" {
		t.Fatalf("got %q", got2)
	}
}

func TestLoadPSKFromEnvHexAndBase64(t *testing.T) {
	t.Setenv("BC_TEST_PSK", "")
	if _, ok := LoadPSKFromEnv("BC_TEST_PSK"); ok {
		t.Fatal("expected ok=false for empty env var")
	}

	hexKey := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	t.Setenv("BC_TEST_PSK", hexKey)
	e, ok := LoadPSKFromEnv("BC_TEST_PSK")
	if !ok || e == nil {
		t.Fatal("expected successful hex decode")
	}

	b64Key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x5A}, KeySize))
	t.Setenv("BC_TEST_PSK", b64Key)
	e, ok = LoadPSKFromEnv("BC_TEST_PSK")
	if !ok || e == nil {
		t.Fatal("expected successful base64 decode")
	}
}
