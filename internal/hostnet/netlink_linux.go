//go:build linux

package hostnet

import (
	"fmt"
	"net"
	"os"

	"github.com/vishvananda/netlink"
)

// Netlink is the Host backed by the kernel's routing socket.
type Netlink struct{}

func (Netlink) Interfaces() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("link list: %w", err)
	}
	names := make(map[int]string, len(links))
	for _, l := range links {
		names[l.Attrs().Index] = l.Attrs().Name
	}

	out := make([]Interface, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		iface := Interface{
			Name:   attrs.Name,
			Type:   l.Type(),
			MTU:    attrs.MTU,
			Up:     attrs.Flags&net.FlagUp != 0,
			Master: names[attrs.MasterIndex],
		}
		if attrs.HardwareAddr != nil {
			iface.MAC = attrs.HardwareAddr.String()
		}
		if addrs, err := netlink.AddrList(l, netlink.FAMILY_ALL); err == nil {
			for _, a := range addrs {
				iface.Addresses = append(iface.Addresses, a.IPNet.String())
			}
		}
		out = append(out, iface)
	}
	return out, nil
}

// CreateMacvtap adds a bridge-mode macvtap link on parent, brings it up and
// opens its tap device.
func (Netlink) CreateMacvtap(name, parent, mac string) (*Tap, error) {
	parentLink, err := netlink.LinkByName(parent)
	if err != nil {
		return nil, fmt.Errorf("parent interface %s: %w", parent, err)
	}

	attrs := netlink.LinkAttrs{
		Name:        name,
		ParentIndex: parentLink.Attrs().Index,
		TxQLen:      parentLink.Attrs().TxQLen,
	}
	if mac != "" {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return nil, err
		}
		attrs.HardwareAddr = hw
	}
	link := &netlink.Macvtap{Macvlan: netlink.Macvlan{LinkAttrs: attrs, Mode: netlink.MACVLAN_MODE_BRIDGE}}
	if err := netlink.LinkAdd(link); err != nil {
		return nil, fmt.Errorf("create macvtap %s: %w", name, err)
	}

	created, err := netlink.LinkByName(name)
	if err != nil {
		_ = netlink.LinkDel(link)
		return nil, fmt.Errorf("lookup macvtap %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(created); err != nil {
		_ = netlink.LinkDel(created)
		return nil, fmt.Errorf("enable macvtap %s: %w", name, err)
	}

	index := created.Attrs().Index
	f, err := os.OpenFile(fmt.Sprintf("/dev/tap%d", index), os.O_RDWR, 0)
	if err != nil {
		_ = netlink.LinkDel(created)
		return nil, fmt.Errorf("open tap device of %s: %w", name, err)
	}
	return &Tap{Name: name, Index: index, File: f}, nil
}

// DeleteLink removes a link, ignoring links that are already gone.
func (Netlink) DeleteLink(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return err
	}
	return netlink.LinkDel(link)
}
