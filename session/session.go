// Package session implements the per-link key negotiator: an HKDF-based
// derivation of directional AEAD keys from a PSK and a pair of exchanged
// nonces, triggered once both sides have advertised PSK capability and
// exchanged their nonces.
package session

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/fuchengh/bitchat-clone/aead"
)

var (
	ctxKeC2P = []byte("bcKC2P1")
	ctxKeP2C = []byte("bcKP2C1")
	ctxNC2P  = []byte("bcNC2P1")
	ctxNP2C  = []byte("bcNP2C1")
)

// Derive builds the 4-tuple of session keys/nonce-bases. centralNonce and
// peripheralNonce are Na and Nb from the design: IKM = centralNonce ||
// peripheralNonce. All intermediate material is zeroized before return.
func Derive(psk [aead.KeySize]byte, centralNonce, peripheralNonce [32]byte) (aead.SessionKeys, error) {
	ikm := make([]byte, 0, 64)
	ikm = append(ikm, centralNonce[:]...)
	ikm = append(ikm, peripheralNonce[:]...)
	defer zero(ikm)

	prk := hkdf.Extract(sha256.New, ikm, psk[:])
	defer zero(prk)

	var keys aead.SessionKeys
	var err error
	if err = expandInto(prk, ctxKeC2P, keys.KeyC2P[:]); err != nil {
		return aead.SessionKeys{}, err
	}
	if err = expandInto(prk, ctxKeP2C, keys.KeyP2C[:]); err != nil {
		return aead.SessionKeys{}, err
	}
	if err = expandInto(prk, ctxNC2P, keys.NonceC2PBase[:]); err != nil {
		return aead.SessionKeys{}, err
	}
	if err = expandInto(prk, ctxNP2C, keys.NonceP2CBase[:]); err != nil {
		return aead.SessionKeys{}, err
	}
	return keys, nil
}

func expandInto(prk, info, dst []byte) error {
	r := hkdf.Expand(sha256.New, prk, info)
	_, err := io.ReadFull(r, dst)
	return err
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Install derives session keys from psk/centralNonce/peripheralNonce and
// installs them into engine, oriented so that the installing side's
// outgoing key is its own direction: central's TX is key_c2p, peripheral's
// TX is key_p2c. On any failure the engine is left in single-key mode and
// Install returns false.
func Install(engine *aead.Engine, psk [aead.KeySize]byte, centralNonce, peripheralNonce [32]byte, isCentral bool) bool {
	keys, err := Derive(psk, centralNonce, peripheralNonce)
	if err != nil {
		return false
	}
	defer keys.Zero()

	if isCentral {
		engine.SetSession(keys.KeyC2P, keys.KeyP2C, true)
	} else {
		engine.SetSession(keys.KeyP2C, keys.KeyC2P, true)
	}
	return true
}
