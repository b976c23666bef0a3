package models

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
)

// NetworkType names a network backend variant.
type NetworkType string

const (
	NetworkNAT      NetworkType = "nat"
	NetworkBridge   NetworkType = "bridge"
	NetworkMacvtap  NetworkType = "macvtap"
	NetworkIsolated NetworkType = "isolated"
)

// NICModel is the emulated network card.
type NICModel string

const (
	NICVirtio  NICModel = "virtio"
	NICE1000   NICModel = "e1000"
	NICRTL8139 NICModel = "rtl8139"
)

// Backend is the variant part of a Network. The set of implementations is
// closed: NATBackend, BridgeBackend, MacvtapBackend and IsolatedBackend.
type Backend interface {
	Type() NetworkType
	validate(fields map[string]string, prefix string)
	backend()
}

// PortForward maps a host port to a guest port under NAT networking.
type PortForward struct {
	HostPort  int    `json:"host_port" yaml:"host_port"`
	GuestPort int    `json:"guest_port" yaml:"guest_port"`
	Protocol  string `json:"protocol" yaml:"protocol"`
}

// NATBackend is user-mode networking with optional port forwards.
type NATBackend struct {
	PortForwards []PortForward
}

// BridgeBackend attaches to an existing host bridge.
type BridgeBackend struct {
	BridgeName string
}

// MacvtapBackend creates a macvtap link on a physical parent interface.
type MacvtapBackend struct {
	ParentInterface string
}

// IsolatedBackend is user-mode networking with no route to the host.
type IsolatedBackend struct{}

func (NATBackend) Type() NetworkType      { return NetworkNAT }
func (BridgeBackend) Type() NetworkType   { return NetworkBridge }
func (MacvtapBackend) Type() NetworkType  { return NetworkMacvtap }
func (IsolatedBackend) Type() NetworkType { return NetworkIsolated }

func (NATBackend) backend()      {}
func (BridgeBackend) backend()   {}
func (MacvtapBackend) backend()  {}
func (IsolatedBackend) backend() {}

func (b NATBackend) validate(fields map[string]string, prefix string) {
	for i, pf := range b.PortForwards {
		key := fmt.Sprintf("%s.port_forwards[%d]", prefix, i)
		if pf.HostPort < 1 || pf.HostPort > 65535 {
			fields[key+".host_port"] = "must be between 1 and 65535"
		}
		if pf.GuestPort < 1 || pf.GuestPort > 65535 {
			fields[key+".guest_port"] = "must be between 1 and 65535"
		}
		switch strings.ToLower(pf.Protocol) {
		case "tcp", "udp":
		default:
			fields[key+".protocol"] = "must be tcp or udp"
		}
	}
}

func (b BridgeBackend) validate(fields map[string]string, prefix string) {
	if strings.TrimSpace(b.BridgeName) == "" {
		fields[prefix+".bridge_name"] = "bridge networking requires a bridge name"
	}
}

func (b MacvtapBackend) validate(fields map[string]string, prefix string) {
	if strings.TrimSpace(b.ParentInterface) == "" {
		fields[prefix+".parent_interface"] = "macvtap networking requires a parent interface"
	}
}

func (IsolatedBackend) validate(map[string]string, string) {}

// Network is one guest network interface.
type Network struct {
	Model   NICModel
	MAC     string
	Backend Backend
}

// networkWire is the flat on-disk and on-the-wire form of a Network.
type networkWire struct {
	Type            NetworkType   `json:"type" yaml:"type"`
	Model           NICModel      `json:"model,omitempty" yaml:"model,omitempty"`
	MAC             string        `json:"mac,omitempty" yaml:"mac,omitempty"`
	PortForwards    []PortForward `json:"port_forwards,omitempty" yaml:"port_forwards,omitempty"`
	BridgeName      string        `json:"bridge_name,omitempty" yaml:"bridge_name,omitempty"`
	ParentInterface string        `json:"parent_interface,omitempty" yaml:"parent_interface,omitempty"`
}

// Type returns the backend variant, or "" when no backend is set.
func (n Network) Type() NetworkType {
	if n.Backend == nil {
		return ""
	}
	return n.Backend.Type()
}

// Copy returns a deep copy of the interface description.
func (n Network) Copy() Network {
	if nat, ok := n.Backend.(NATBackend); ok {
		n.Backend = NATBackend{PortForwards: append([]PortForward(nil), nat.PortForwards...)}
	}
	return n
}

func (n Network) toWire() (networkWire, error) {
	w := networkWire{Model: n.Model, MAC: n.MAC}
	switch b := n.Backend.(type) {
	case NATBackend:
		w.Type = NetworkNAT
		w.PortForwards = b.PortForwards
	case BridgeBackend:
		w.Type = NetworkBridge
		w.BridgeName = b.BridgeName
	case MacvtapBackend:
		w.Type = NetworkMacvtap
		w.ParentInterface = b.ParentInterface
	case IsolatedBackend:
		w.Type = NetworkIsolated
	case nil:
		return w, fmt.Errorf("network has no backend")
	default:
		return w, fmt.Errorf("unsupported network backend %T", b)
	}
	return w, nil
}

func (w networkWire) toNetwork() (Network, error) {
	n := Network{Model: w.Model, MAC: w.MAC}
	switch w.Type {
	case NetworkNAT:
		n.Backend = NATBackend{PortForwards: w.PortForwards}
	case NetworkBridge:
		n.Backend = BridgeBackend{BridgeName: w.BridgeName}
	case NetworkMacvtap:
		n.Backend = MacvtapBackend{ParentInterface: w.ParentInterface}
	case NetworkIsolated:
		n.Backend = IsolatedBackend{}
	default:
		return n, fmt.Errorf("unknown network type %q", w.Type)
	}
	return n, nil
}

func (n Network) MarshalJSON() ([]byte, error) {
	w, err := n.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (n *Network) UnmarshalJSON(data []byte) error {
	var w networkWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out, err := w.toNetwork()
	if err != nil {
		return err
	}
	*n = out
	return nil
}

// MarshalYAML lets descriptor files use the same flat form as the API.
func (n Network) MarshalYAML() (interface{}, error) {
	return n.toWire()
}

// UnmarshalYAML decodes the flat descriptor form.
func (n *Network) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var w networkWire
	if err := unmarshal(&w); err != nil {
		return err
	}
	out, err := w.toNetwork()
	if err != nil {
		return err
	}
	*n = out
	return nil
}

// validateNetworks collects field errors for every interface.
func validateNetworks(networks []Network, fields map[string]string) {
	seen := make(map[string]int)
	for i, n := range networks {
		prefix := fmt.Sprintf("networks[%d]", i)
		if n.Backend == nil {
			fields[prefix+".type"] = "network type is required"
			continue
		}
		switch n.Model {
		case "", NICVirtio, NICE1000, NICRTL8139:
		default:
			fields[prefix+".model"] = "must be virtio, e1000 or rtl8139"
		}
		if n.MAC != "" {
			hw, err := net.ParseMAC(n.MAC)
			switch {
			case err != nil || len(hw) != 6:
				fields[prefix+".mac"] = "invalid hardware address"
			case hw[0]&1 == 1:
				fields[prefix+".mac"] = "must be a unicast address"
			default:
				if j, dup := seen[hw.String()]; dup {
					fields[prefix+".mac"] = fmt.Sprintf("duplicates networks[%d].mac", j)
				} else {
					seen[hw.String()] = i
				}
			}
		}
		n.Backend.validate(fields, prefix)
	}
}
