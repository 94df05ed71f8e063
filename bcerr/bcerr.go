// Package bcerr defines the sentinel error kinds shared across the
// messaging pipeline. Components wrap these with fmt.Errorf("...: %w", ...)
// so callers can classify failures with errors.Is without string matching.
package bcerr

import "errors"

var (
	// ErrConfig covers unusable startup parameters: bad MTU, bad PSK encoding.
	ErrConfig = errors.New("bcerr: config error")

	// ErrBus covers failure opening the bus or installing match rules.
	ErrBus = errors.New("bcerr: bus error")

	// ErrProtocol covers malformed headers, size mismatches, bad TLV
	// lengths, unknown versions.
	ErrProtocol = errors.New("bcerr: protocol error")

	// ErrAuthFail covers AEAD open failure in both session and single-key
	// modes.
	ErrAuthFail = errors.New("bcerr: auth fail")

	// ErrTransientBus covers NoReply, InProgress, EBADMSG, device-gone.
	ErrTransientBus = errors.New("bcerr: transient bus error")

	// ErrLinkDown covers not-connected / not-subscribed / not-notifying
	// at send time.
	ErrLinkDown = errors.New("bcerr: link down")

	// ErrFatalHost covers bus disconnection in an unrecoverable state.
	ErrFatalHost = errors.New("bcerr: fatal host error")
)
