// Package driver defines the error taxonomy and address model shared by
// the transport, codec, session and streamer packages.
package driver

import "errors"

// Error kinds, per the protocol's error taxonomy. Operations wrap one of
// these with fmt.Errorf("...: %w", ErrX) so callers can still errors.Is
// against the sentinel after the wrap.
var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidPlatform  = errors.New("bluetooth not supported on this platform")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotIdle          = errors.New("device is not idle")
	ErrNotAcquiring     = errors.New("device is not acquiring")
	ErrInvalidVersion   = errors.New("operation requires BITalino v2 hardware")
	ErrContactingDevice = errors.New("lost communication with the device")
	ErrImportFailed     = errors.New("bluetooth backend unavailable at runtime")
)
