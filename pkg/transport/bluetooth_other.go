//go:build !linux

package transport

import (
	"fmt"

	"github.com/biosignal/bitalino-bridge/pkg/driver"
)

// openBluetooth is unavailable outside Linux: there is no portable
// AF_BLUETOOTH/RFCOMM socket API in golang.org/x/sys/unix for other
// platforms, mirroring the original driver's own platform check that
// only allowed Bluetooth on Windows and Linux in the first place.
func openBluetooth(mac string) (Transport, error) {
	return nil, fmt.Errorf("rfcomm transport to %s: %w", mac, driver.ErrInvalidPlatform)
}
