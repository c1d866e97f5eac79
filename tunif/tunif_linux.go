//go:build linux

package tunif

import (
	"fmt"
	"os/exec"

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

// Open creates a TUN interface named name (the kernel may rename it if the
// requested name is unavailable; callers should use the returned Device's
// Name()).
func Open(name string) (Device, error) {
	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name

	iface, err := water.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "tunif: open")
	}
	return &waterDevice{iface: iface}, nil
}

// Configure assigns addr/24 to dev and brings the interface up via iproute2,
// matching the assumption in §6 that interfaces are "brought up via whatever
// platform mechanism is available."
func Configure(dev Device, addr [4]byte) error {
	cidr := fmt.Sprintf("%d.%d.%d.%d/24", addr[0], addr[1], addr[2], addr[3])
	if out, err := exec.Command("ip", "addr", "add", cidr, "dev", dev.Name()).CombinedOutput(); err != nil {
		return errors.Wrapf(err, "tunif: ip addr add: %s", out)
	}
	if out, err := exec.Command("ip", "link", "set", "dev", dev.Name(), "up").CombinedOutput(); err != nil {
		return errors.Wrapf(err, "tunif: ip link set up: %s", out)
	}
	return nil
}
