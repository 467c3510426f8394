//go:build linux

package tun

import (
	"fmt"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"

	"github.com/1ureka/lanracer/internal/config"
	"github.com/1ureka/lanracer/internal/util"
)

// Open creates the TUN device described by iface, assigns its address and
// MTU, and brings the link up.
func Open(iface config.Interface) (*Device, error) {
	ipNet, err := iface.IPNet()
	if err != nil {
		return nil, err
	}

	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = iface.Name

	ifce, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create tun device %q: %w", iface.Name, err)
	}

	if err := configure(ifce.Name(), ipNet.String(), iface.MTU); err != nil {
		ifce.Close()
		return nil, err
	}

	util.LogInfo("interface %s up, address %s, mtu %d", ifce.Name(), ipNet, iface.MTU)
	return &Device{name: ifce.Name(), rwc: ifce}, nil
}

func configure(name, cidr string, mtu int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("get link %s: %w", name, err)
	}

	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("parse address %s: %w", cidr, err)
	}

	existing, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("list addresses on %s: %w", name, err)
	}
	assigned := false
	for _, a := range existing {
		if a.IP.Equal(addr.IP) && a.Mask.String() == addr.Mask.String() {
			assigned = true
			break
		}
	}
	if !assigned {
		if err := netlink.AddrAdd(link, addr); err != nil {
			return fmt.Errorf("assign %s to %s: %w", cidr, name, err)
		}
	}

	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("set mtu %d on %s: %w", mtu, name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bring up %s: %w", name, err)
	}
	return nil
}
