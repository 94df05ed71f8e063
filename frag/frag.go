// Package frag implements the fragmentation and reassembly protocol: a
// fixed 12-byte header, a chunker that splits an arbitrary payload into
// link-sized fragments, and a reassembler that rebuilds the original
// payload from fragments arriving in any order.
package frag

import (
	"encoding/binary"
	"fmt"

	"github.com/fuchengh/bitchat-clone/bcerr"
)

const (
	ProtoVersion = 1

	FlagFinal   = 1 << 0
	FlagRetrans = 1 << 1 // reserved, never set or inspected

	HeaderSize = 12
	MaxPayload = 100
)

// Header is the 12-byte fragment header, big-endian on the wire.
type Header struct {
	Ver    uint8
	Flags  uint8
	MsgID  uint32
	Seq    uint16
	Total  uint16
	Len    uint16
}

// Fragment is a header plus its payload bytes.
type Fragment struct {
	Header  Header
	Payload []byte
}

func validate(h Header) error {
	if h.Ver != ProtoVersion {
		return fmt.Errorf("frag: bad version %d: %w", h.Ver, bcerr.ErrProtocol)
	}
	if h.Total < 1 {
		return fmt.Errorf("frag: total must be >= 1: %w", bcerr.ErrProtocol)
	}
	if h.Seq >= h.Total {
		return fmt.Errorf("frag: seq %d >= total %d: %w", h.Seq, h.Total, bcerr.ErrProtocol)
	}
	if h.Len > MaxPayload {
		return fmt.Errorf("frag: len %d exceeds max payload: %w", h.Len, bcerr.ErrProtocol)
	}
	return nil
}

// PackHeader validates h and emits its 12-byte network-order encoding.
func PackHeader(h Header) ([]byte, error) {
	if err := validate(h); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	buf[0] = h.Ver
	buf[1] = h.Flags
	binary.BigEndian.PutUint32(buf[2:6], h.MsgID)
	binary.BigEndian.PutUint16(buf[6:8], h.Seq)
	binary.BigEndian.PutUint16(buf[8:10], h.Total)
	binary.BigEndian.PutUint16(buf[10:12], h.Len)
	return buf, nil
}

// UnpackHeader is the inverse of PackHeader.
func UnpackHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("frag: header must be %d bytes, got %d: %w", HeaderSize, len(buf), bcerr.ErrProtocol)
	}
	h := Header{
		Ver:   buf[0],
		Flags: buf[1],
		MsgID: binary.BigEndian.Uint32(buf[2:6]),
		Seq:   binary.BigEndian.Uint16(buf[6:8]),
		Total: binary.BigEndian.Uint16(buf[8:10]),
		Len:   binary.BigEndian.Uint16(buf[10:12]),
	}
	if err := validate(h); err != nil {
		return Header{}, err
	}
	return h, nil
}

// MakeChunks splits payload into fragments no larger than mtuPayload bytes
// each, in order, sharing msgID. An empty payload produces exactly one
// zero-length FINAL fragment.
func MakeChunks(msgID uint32, payload []byte, mtuPayload int) ([]Fragment, error) {
	if mtuPayload < 1 || mtuPayload > MaxPayload {
		return nil, fmt.Errorf("frag: mtu_payload %d out of [1,%d]: %w", mtuPayload, MaxPayload, bcerr.ErrProtocol)
	}

	if len(payload) == 0 {
		return []Fragment{{
			Header: Header{Ver: ProtoVersion, Flags: FlagFinal, MsgID: msgID, Seq: 0, Total: 1, Len: 0},
		}}, nil
	}

	total := (len(payload) + mtuPayload - 1) / mtuPayload
	if total > 65535 {
		return nil, fmt.Errorf("frag: payload requires %d fragments, exceeds 65535: %w", total, bcerr.ErrProtocol)
	}

	chunks := make([]Fragment, 0, total)
	for seq := 0; seq < total; seq++ {
		start := seq * mtuPayload
		end := start + mtuPayload
		if end > len(payload) {
			end = len(payload)
		}
		part := payload[start:end]
		var flags uint8
		if seq == total-1 {
			flags |= FlagFinal
		}
		chunks = append(chunks, Fragment{
			Header: Header{
				Ver:   ProtoVersion,
				Flags: flags,
				MsgID: msgID,
				Seq:   uint16(seq),
				Total: uint16(total),
				Len:   uint16(len(part)),
			},
			Payload: part,
		})
	}
	return chunks, nil
}

// Serialize concatenates a fragment's header and payload.
func Serialize(f Fragment) ([]byte, error) {
	if int(f.Header.Len) != len(f.Payload) {
		return nil, fmt.Errorf("frag: header len %d != payload len %d: %w", f.Header.Len, len(f.Payload), bcerr.ErrProtocol)
	}
	hdr, err := PackHeader(f.Header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, HeaderSize+len(f.Payload))
	out = append(out, hdr...)
	out = append(out, f.Payload...)
	return out, nil
}

// Parse is the inverse of Serialize.
func Parse(buf []byte) (Fragment, error) {
	if len(buf) < HeaderSize {
		return Fragment{}, fmt.Errorf("frag: frame shorter than header: %w", bcerr.ErrProtocol)
	}
	h, err := UnpackHeader(buf[:HeaderSize])
	if err != nil {
		return Fragment{}, err
	}
	if len(buf) != HeaderSize+int(h.Len) {
		return Fragment{}, fmt.Errorf("frag: frame length %d != header+len %d: %w", len(buf), HeaderSize+int(h.Len), bcerr.ErrProtocol)
	}
	payload := make([]byte, h.Len)
	copy(payload, buf[HeaderSize:])
	return Fragment{Header: h, Payload: payload}, nil
}
