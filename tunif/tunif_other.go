//go:build !linux

package tunif

import (
	"github.com/pkg/errors"
	"github.com/songgao/water"
)

type waterDevice struct {
	iface *water.Interface
}

func (d *waterDevice) Read(p []byte) (int, error)  { return d.iface.Read(p) }
func (d *waterDevice) Write(p []byte) (int, error) { return d.iface.Write(p) }
func (d *waterDevice) Close() error                { return d.iface.Close() }
func (d *waterDevice) Name() string                { return d.iface.Name() }

// Open creates a TUN interface using the platform default water.Config;
// non-Linux platforms don't support requesting a specific interface name
// the way Linux's TUNSETIFF does.
func Open(name string) (Device, error) {
	iface, err := water.New(water.Config{DeviceType: water.TUN})
	if err != nil {
		return nil, errors.Wrap(err, "tunif: open")
	}
	return &waterDevice{iface: iface}, nil
}

// Configure always returns an error outside Linux and leaves the interface
// unconfigured; the address must be assigned with the OS-native tool.
func Configure(dev Device, addr [4]byte) error {
	return errors.New("tunif: Configure is unsupported on this platform")
}
