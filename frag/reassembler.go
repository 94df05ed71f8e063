package frag

import (
	"fmt"
	"sync"

	"github.com/fuchengh/bitchat-clone/bcerr"
)

type reassemblyState struct {
	total    uint16
	parts    [][]byte
	have     []bool
	received int
	bytes    int
}

// Reassembler rebuilds payloads from fragments of a single sender, keyed by
// msg_id. It is safe for concurrent use.
type Reassembler struct {
	mu     sync.Mutex
	states map[uint32]*reassemblyState
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{states: make(map[uint32]*reassemblyState)}
}

// Feed validates and records fragment f. It returns the concatenated
// payload (and ok=true) once all fragments of f's msg_id have arrived.
func (r *Reassembler) Feed(f Fragment) (payload []byte, ok bool, err error) {
	h := f.Header
	if h.Total == 0 || h.Seq >= h.Total {
		return nil, false, fmt.Errorf("frag: malformed fragment seq=%d total=%d: %w", h.Seq, h.Total, bcerr.ErrProtocol)
	}
	if int(h.Len) != len(f.Payload) {
		return nil, false, fmt.Errorf("frag: header len %d != payload len %d: %w", h.Len, len(f.Payload), bcerr.ErrProtocol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, exists := r.states[h.MsgID]
	if !exists || st.total != h.Total {
		st = &reassemblyState{
			total: h.Total,
			parts: make([][]byte, h.Total),
			have:  make([]bool, h.Total),
		}
		r.states[h.MsgID] = st
	}

	if st.have[h.Seq] {
		// Duplicate: first write wins.
		return nil, false, nil
	}

	buf := make([]byte, len(f.Payload))
	copy(buf, f.Payload)
	st.parts[h.Seq] = buf
	st.have[h.Seq] = true
	st.received++
	st.bytes += len(buf)

	if st.received < int(st.total) {
		return nil, false, nil
	}

	out := make([]byte, 0, st.bytes)
	for _, p := range st.parts {
		out = append(out, p...)
	}
	delete(r.states, h.MsgID)
	return out, true, nil
}

// Clear drops any partial state for msgID.
func (r *Reassembler) Clear(msgID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, msgID)
}
