// Package config loads the process's environment-variable configuration
// surface, grounded on the same env_or/parse_psk_env pattern the original
// chat service used, translated into a typed Go struct.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fuchengh/bitchat-clone/aead"
	"github.com/fuchengh/bitchat-clone/bcerr"
	"github.com/fuchengh/bitchat-clone/logger"
	"github.com/fuchengh/bitchat-clone/transport"
)

var errInvalidPSK = fmt.Errorf("config: PSK is neither %d hex chars nor base64(%d bytes): %w", aead.KeySize*2, aead.KeySize, bcerr.ErrConfig)

const (
	defaultMTUPayload = 100
	minMTUPayload     = 20
	maxMTUPayload     = 244
	maxUserIDBytes    = 64
)

// Config is the fully parsed environment-variable surface.
type Config struct {
	Transport string // "loopback" or "bluez"
	Role      transport.Role
	Adapter   string
	Peer      string // upper-cased MAC, or "" if unset
	PSK       [aead.KeySize]byte
	HasPSK    bool

	MTUPayload int
	UserID     string
	LogLevel   logger.LogLevel
	CtlSock    string

	KeepZeroRSSI bool
	CtrlHello    bool
}

// Load reads and validates the environment, applying the defaults and
// fallback rules of the external-interfaces surface.
func Load() *Config {
	c := &Config{
		Transport:  strings.ToLower(envOr("TRANSPORT", "loopback")),
		Adapter:    envOr("ADAPTER", "hci0"),
		MTUPayload: defaultMTUPayload,
		LogLevel:   logger.ParseLevel(envOr("LOG_LEVEL", "INFO")),
	}

	switch strings.ToLower(envOr("ROLE", "peripheral")) {
	case "central":
		c.Role = transport.RoleCentral
	default:
		c.Role = transport.RolePeripheral
	}

	if peer := os.Getenv("PEER"); peer != "" {
		c.Peer = strings.ToUpper(peer)
	}

	if raw := os.Getenv("PSK"); raw != "" {
		key, err := decodePSK(raw)
		if err != nil {
			logger.Warn("config", "invalid PSK: %v; proceeding without a PSK (all-zero key)", err)
		} else {
			c.PSK = key
			c.HasPSK = true
		}
	}

	if raw := os.Getenv("MTU_PAYLOAD"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minMTUPayload || n > maxMTUPayload {
			logger.Warn("config", "invalid MTU_PAYLOAD %q, keeping default %d", raw, defaultMTUPayload)
		} else {
			c.MTUPayload = n
		}
	}

	userID := os.Getenv("USER_ID")
	if len(userID) > maxUserIDBytes {
		userID = userID[:maxUserIDBytes]
	}
	c.UserID = userID

	c.CtlSock = resolveCtlSock(os.Getenv("CTL_SOCK"))

	c.KeepZeroRSSI = os.Getenv("KEEP_ZERO_RSSI") == "1"

	c.CtrlHello = c.Transport == "bluez"
	if raw := os.Getenv("CTRL_HELLO"); raw != "" {
		c.CtrlHello = raw != "0"
	}

	return c
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func decodePSK(raw string) ([aead.KeySize]byte, error) {
	var out [aead.KeySize]byte
	raw = strings.TrimSpace(raw)
	if isHex(raw) && len(raw) == aead.KeySize*2 {
		b, err := hex.DecodeString(raw)
		if err == nil && len(b) == aead.KeySize {
			copy(out[:], b)
			return out, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(b) != aead.KeySize {
		return out, errInvalidPSK
	}
	copy(out[:], b)
	return out, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// resolveCtlSock expands a leading "~/" against $HOME and falls back to
// ~/.cache/bitchat-clone/ctl.sock (or /tmp if HOME is unset).
func resolveCtlSock(raw string) string {
	if raw != "" {
		if strings.HasPrefix(raw, "~/") {
			home := os.Getenv("HOME")
			if home == "" {
				home = "/tmp"
			}
			return filepath.Join(home, raw[2:])
		}
		return raw
	}
	home := os.Getenv("HOME")
	base := home
	if base == "" {
		base = "/tmp"
	}
	return filepath.Join(base, ".cache", "bitchat-clone", "ctl.sock")
}
