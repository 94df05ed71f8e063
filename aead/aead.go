// Package aead implements the PSK and per-link session AEAD modes on top
// of XChaCha20-Poly1305, grounded on the same construction used elsewhere
// in the example corpus for authenticated application payloads.
package aead

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/fuchengh/bitchat-clone/bcerr"
)

const (
	KeySize   = chacha20poly1305.KeySize     // 32
	NonceSize = chacha20poly1305.NonceSizeX  // 24
	TagSize   = 16
)

// AAD is the fixed associated-data label for user text frames.
var AAD = []byte{'B', 'C', '1'}

// SessionKeys is the 4-tuple produced by the session negotiator. The base
// nonces are reserved per the open question in the design notes: this
// engine continues to draw a fresh random nonce per Seal.
type SessionKeys struct {
	KeyC2P       [KeySize]byte
	KeyP2C       [KeySize]byte
	NonceC2PBase [NonceSize]byte
	NonceP2CBase [NonceSize]byte
}

// Zero overwrites all key material with zeroes.
func (k *SessionKeys) Zero() {
	if k == nil {
		return
	}
	for i := range k.KeyC2P {
		k.KeyC2P[i] = 0
	}
	for i := range k.KeyP2C {
		k.KeyP2C[i] = 0
	}
	for i := range k.NonceC2PBase {
		k.NonceC2PBase[i] = 0
	}
	for i := range k.NonceP2CBase {
		k.NonceP2CBase[i] = 0
	}
}

// Engine holds the single-key PSK AEAD and an optional installed session.
type Engine struct {
	mu sync.RWMutex

	psk [KeySize]byte

	sessionInstalled bool
	txKey            [KeySize]byte
	rxKey            [KeySize]byte
}

// NewEngine returns an Engine seeded with psk (32 bytes).
func NewEngine(psk [KeySize]byte) *Engine {
	return &Engine{psk: psk}
}

// LoadPSKFromEnv parses a 32-byte key from the named environment variable,
// encoded as hex (upper or lower case) or standard base64. It returns
// (nil, false) when the variable is missing or malformed.
func LoadPSKFromEnv(name string) (*Engine, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, false
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, false
	}
	return NewEngine(key), true
}

func decodeKey(raw string) ([KeySize]byte, error) {
	var out [KeySize]byte
	if isHexString(raw) && len(raw) == KeySize*2 {
		b, err := hex.DecodeString(raw)
		if err == nil && len(b) == KeySize {
			copy(out[:], b)
			return out, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(b) != KeySize {
		return out, fmt.Errorf("aead: key is neither %d hex chars nor base64(%d bytes): %w", KeySize*2, KeySize, bcerr.ErrConfig)
	}
	copy(out[:], b)
	return out, nil
}

func isHexString(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// SetSession atomically installs tx/rx as the session's directional keys,
// or clears the session when installed is false. Old key material is
// zeroized. The caller (the session negotiator) is responsible for
// orienting tx/rx to its own role before calling this.
func (e *Engine) SetSession(tx, rx [KeySize]byte, installed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.txKey {
		e.txKey[i] = 0
	}
	for i := range e.rxKey {
		e.rxKey[i] = 0
	}

	if !installed {
		e.sessionInstalled = false
		return
	}

	e.txKey = tx
	e.rxKey = rx
	e.sessionInstalled = true
}

// ClearSession clears any installed session, zeroizing its key material.
func (e *Engine) ClearSession() {
	var zero [KeySize]byte
	e.SetSession(zero, zero, false)
}

// HasSession reports whether a session is currently installed.
func (e *Engine) HasSession() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessionInstalled
}

// Seal encrypts plaintext with a fresh random nonce under the TX key
// (session if installed, else the PSK), returning nonce||ciphertext||tag.
func (e *Engine) Seal(plaintext, aad []byte) ([]byte, error) {
	e.mu.RLock()
	key := e.psk
	if e.sessionInstalled {
		key = e.txKey
	}
	e.mu.RUnlock()

	aeadCipher, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aead: nonce: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(out, nonce)
	out = aeadCipher.Seal(out, nonce, plaintext, aad)
	return out, nil
}

// Open decrypts bytes, trying the session RX key first (if installed) and
// falling back to the PSK on authentication failure.
func (e *Engine) Open(data, aad []byte) ([]byte, error) {
	if len(data) < NonceSize+TagSize {
		return nil, fmt.Errorf("aead: frame shorter than %d bytes: %w", NonceSize+TagSize, bcerr.ErrAuthFail)
	}
	nonce := data[:NonceSize]
	ciphertext := data[NonceSize:]

	e.mu.RLock()
	hasSession := e.sessionInstalled
	rxKey := e.rxKey
	psk := e.psk
	e.mu.RUnlock()

	if hasSession {
		if pt, err := open(rxKey, nonce, ciphertext, aad); err == nil {
			return pt, nil
		}
	}
	if pt, err := open(psk, nonce, ciphertext, aad); err == nil {
		return pt, nil
	}
	return nil, fmt.Errorf("aead: authentication failed: %w", bcerr.ErrAuthFail)
}

func open(key [KeySize]byte, nonce, ciphertext, aad []byte) ([]byte, error) {
	aeadCipher, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	return aeadCipher.Open(nil, nonce, ciphertext, aad)
}
