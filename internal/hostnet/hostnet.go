// Package hostnet reads the host's live network interfaces and plumbs the
// macvtap links VMs attach to. Names are resolved when a VM starts, never
// when it is created.
package hostnet

import (
	"os"
	"sort"

	"evalgo.org/fastvm/internal/vmerr"
)

// Interface describes one host network link.
type Interface struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	MAC       string   `json:"mac,omitempty"`
	MTU       int      `json:"mtu"`
	Up        bool     `json:"up"`
	Master    string   `json:"master,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

// IsBridge reports whether the link is a Linux bridge.
func (i Interface) IsBridge() bool {
	return i.Type == "bridge"
}

// IsPhysical reports whether the link is backed by a device.
func (i Interface) IsPhysical() bool {
	return i.Type == "device" && i.Name != "lo"
}

// Tap is a macvtap link opened for a hypervisor.
type Tap struct {
	Name  string
	Index int
	File  *os.File
}

// Inventory lists the host's current interfaces.
type Inventory interface {
	Interfaces() ([]Interface, error)
}

// Plumber creates and removes macvtap links.
type Plumber interface {
	CreateMacvtap(name, parent, mac string) (*Tap, error)
	DeleteLink(name string) error
}

// Host is the live host network.
type Host interface {
	Inventory
	Plumber
}

// Bridges returns the bridges of inv, sorted by name.
func Bridges(inv Inventory) ([]Interface, error) {
	return filter(inv, Interface.IsBridge)
}

// Physical returns the device-backed interfaces of inv, sorted by name.
func Physical(inv Inventory) ([]Interface, error) {
	return filter(inv, Interface.IsPhysical)
}

func filter(inv Inventory, keep func(Interface) bool) ([]Interface, error) {
	all, err := inv.Interfaces()
	if err != nil {
		return nil, vmerr.Wrap(vmerr.KindExternal, err, "list host interfaces")
	}
	var out []Interface
	for _, i := range all {
		if keep(i) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// RequireBridge fails with an external dependency error when name is not a
// bridge on the host right now.
func RequireBridge(inv Inventory, name string) error {
	return requireLink(inv, name, "bridge", Interface.IsBridge)
}

// RequireInterface fails when name is not a usable macvtap parent.
func RequireInterface(inv Inventory, name string) error {
	return requireLink(inv, name, "interface", func(i Interface) bool { return i.Name != "lo" && !i.IsBridge() })
}

func requireLink(inv Inventory, name, what string, ok func(Interface) bool) error {
	all, err := inv.Interfaces()
	if err != nil {
		return vmerr.Wrap(vmerr.KindExternal, err, "list host interfaces")
	}
	for _, i := range all {
		if i.Name == name {
			if !ok(i) {
				return vmerr.New(vmerr.KindExternal, "host %s %s is a %s link", what, name, i.Type)
			}
			return nil
		}
	}
	return vmerr.New(vmerr.KindExternal, "host %s %s not found", what, name)
}
