// Package ctl implements the HELLO control-plane codec: a one-shot
// handshake frame exchanging a user id, capability bits, and an optional
// 32-byte key-exchange nonce.
package ctl

import (
	"encoding/binary"
	"fmt"

	"github.com/fuchengh/bitchat-clone/bcerr"
)

const (
	MsgCtrlHello = 0x01
	HelloVersion = 0x01

	TagUserID = 0x01
	TagCaps   = 0x02
	TagNA32   = 0x12

	CapAEADPSKSupported uint32 = 1 << 0

	maxUserIDLen = 64
)

// Hello is the decoded HELLO payload.
type Hello struct {
	UserID   string
	HasCaps  bool
	Caps     uint32
	HasNA32  bool
	NA32     [32]byte
}

// IsHelloFrame reports whether buf begins with the HELLO type+version
// bytes, per §4.8's "first two bytes 0x01 0x01" detection rule.
func IsHelloFrame(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == MsgCtrlHello && buf[1] == HelloVersion
}

// EncodeHello builds a HELLO frame. userID may be empty (T_USER_ID is then
// omitted); na32 may be nil (T_NA32 is then omitted). T_CAPS is always
// emitted.
func EncodeHello(userID string, caps uint32, na32 *[32]byte) ([]byte, error) {
	if len(userID) > maxUserIDLen {
		return nil, fmt.Errorf("ctl: user_id %d bytes exceeds %d: %w", len(userID), maxUserIDLen, bcerr.ErrProtocol)
	}

	out := []byte{MsgCtrlHello, HelloVersion}

	if userID != "" {
		out = appendTLV(out, TagUserID, []byte(userID))
	}

	capsBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(capsBuf, caps)
	out = appendTLV(out, TagCaps, capsBuf)

	if na32 != nil {
		out = appendTLV(out, TagNA32, na32[:])
	}

	return out, nil
}

func appendTLV(buf []byte, tag uint8, value []byte) []byte {
	buf = append(buf, tag)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(value)))
	buf = append(buf, lenBuf...)
	buf = append(buf, value...)
	return buf
}

// ParseHello parses a HELLO frame. The parse must consume exactly len(buf)
// bytes or it fails.
func ParseHello(buf []byte) (Hello, error) {
	if len(buf) < 2 || buf[0] != MsgCtrlHello || buf[1] != HelloVersion {
		return Hello{}, fmt.Errorf("ctl: not a HELLO frame: %w", bcerr.ErrProtocol)
	}

	var h Hello
	i := 2
	for i < len(buf) {
		if i+3 > len(buf) {
			return Hello{}, fmt.Errorf("ctl: truncated TLV header at %d: %w", i, bcerr.ErrProtocol)
		}
		tag := buf[i]
		length := int(binary.BigEndian.Uint16(buf[i+1 : i+3]))
		i += 3
		if i+length > len(buf) {
			return Hello{}, fmt.Errorf("ctl: TLV length %d overruns frame at %d: %w", length, i, bcerr.ErrProtocol)
		}
		value := buf[i : i+length]
		i += length

		switch tag {
		case TagUserID:
			if length < 1 || length > maxUserIDLen {
				return Hello{}, fmt.Errorf("ctl: T_USER_ID length %d out of [1,%d]: %w", length, maxUserIDLen, bcerr.ErrProtocol)
			}
			h.UserID = string(value)
		case TagCaps:
			if length != 4 {
				return Hello{}, fmt.Errorf("ctl: T_CAPS length %d != 4: %w", length, bcerr.ErrProtocol)
			}
			h.Caps = binary.LittleEndian.Uint32(value)
			h.HasCaps = true
		case TagNA32:
			if length != 32 {
				return Hello{}, fmt.Errorf("ctl: T_NA32 length %d != 32: %w", length, bcerr.ErrProtocol)
			}
			copy(h.NA32[:], value)
			h.HasNA32 = true
		default:
			// unknown tags are skipped
		}
	}

	if i != len(buf) {
		return Hello{}, fmt.Errorf("ctl: TLV stream did not consume exactly the frame: %w", bcerr.ErrProtocol)
	}

	return h, nil
}
