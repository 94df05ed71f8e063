// Package transport defines the role-agnostic interface the messenger
// service consumes, shared by the loopback and BLE role-engine
// implementations.
package transport

// Frame is a single link-sized unit of bytes handed to or received from a
// transport; it is opaque to the transport itself (the fragment codec
// produces and consumes it).
type Frame []byte

// OnFrame is invoked for each received link-sized unit, from the
// transport's internal thread(s).
type OnFrame func(Frame)

// Role distinguishes the two BLE role engines. Loopback ignores it.
type Role int

const (
	RolePeripheral Role = iota
	RoleCentral
)

func (r Role) String() string {
	if r == RoleCentral {
		return "central"
	}
	return "peripheral"
}

// Settings configures a transport at Start time.
type Settings struct {
	Role        Role
	Adapter     string
	ServiceUUID string
	TxCharUUID  string
	RxCharUUID  string
	PeerAddress string // optional; empty means "adopt first matching peer"

	// MTUPayload is the transport's wire-level frame budget: the number
	// of bytes of a serialized fragment (12-byte header included) this
	// transport can carry per Send. The messenger subtracts the header
	// size from this value to get the fragment codec's payload MTU.
	MTUPayload int
}

// Transport is the capability set shared by every variant: Loopback and
// BleRole (Central, Peripheral).
type Transport interface {
	// Start begins the transport's background activity. It returns
	// success exactly once; subsequent calls without Stop are no-ops.
	Start(settings Settings, onFrame OnFrame) bool

	// Send transmits one link-sized frame. It returns false if the
	// transport is not started, the link is not ready, or the payload
	// exceeds the configured MTU (the caller is expected to chunk
	// first).
	Send(frame Frame) bool

	// Stop halts background activity and releases all resources.
	Stop()

	// LinkReady reports whether Send is currently expected to succeed.
	LinkReady() bool

	// Name identifies the transport implementation for logging.
	Name() string
}
