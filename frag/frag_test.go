package frag

import (
	"bytes"
	"testing"
)

func TestPackUnpackHeaderRoundTrip(t *testing.T) {
	h := Header{Ver: ProtoVersion, Flags: FlagFinal, MsgID: 0xdeadbeef, Seq: 3, Total: 4, Len: 77}
	buf, err := PackHeader(h)
	if err != nil {
		t.Fatalf("PackHeader: %v", err)
	}
	if len(buf) != HeaderSize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize, len(buf))
	}
	got, err := UnpackHeader(buf)
	if err != nil {
		t.Fatalf("UnpackHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestUnpackHeaderWrongSize(t *testing.T) {
	if _, err := UnpackHeader(make([]byte, 11)); err == nil {
		t.Fatal("expected error for 11-byte buffer")
	}
}

func TestMakeChunksEmptyPayload(t *testing.T) {
	chunks, err := MakeChunks(1, nil, 50)
	if err != nil {
		t.Fatalf("MakeChunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Header.Len != 0 || chunks[0].Header.Flags&FlagFinal == 0 || chunks[0].Header.Total != 1 {
		t.Fatalf("unexpected empty-payload fragment: %+v", chunks[0].Header)
	}
}

func TestMakeChunksSplitsAndMarksFinal(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 250)
	chunks, err := MakeChunks(7, payload, 100)
	if err != nil {
		t.Fatalf("MakeChunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Header.MsgID != 7 || int(c.Header.Seq) != i || int(c.Header.Total) != 3 {
			t.Fatalf("chunk %d header mismatch: %+v", i, c.Header)
		}
		isLast := i == len(chunks)-1
		if (c.Header.Flags&FlagFinal != 0) != isLast {
			t.Fatalf("chunk %d FlagFinal mismatch", i)
		}
	}
	var rebuilt []byte
	for _, c := range chunks {
		rebuilt = append(rebuilt, c.Payload...)
	}
	if !bytes.Equal(rebuilt, payload) {
		t.Fatal("rebuilt payload does not match original")
	}
}

func TestMakeChunksRejectsOutOfRangeMTU(t *testing.T) {
	if _, err := MakeChunks(1, []byte("x"), 0); err == nil {
		t.Fatal("expected error for mtu=0")
	}
	if _, err := MakeChunks(1, []byte("x"), 101); err == nil {
		t.Fatal("expected error for mtu=101")
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	payload := []byte("hello fragment")
	f := Fragment{
		Header:  Header{Ver: ProtoVersion, Flags: FlagFinal, MsgID: 42, Seq: 0, Total: 1, Len: uint16(len(payload))},
		Payload: payload,
	}
	wire, err := Serialize(f)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Header != f.Header || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestParseRejectsTruncatedFrame(t *testing.T) {
	if _, err := Parse(make([]byte, 5)); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}
