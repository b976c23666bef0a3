//go:build !linux

package hostnet

import "errors"

var errUnsupported = errors.New("host networking requires linux")

// Netlink is unavailable outside linux.
type Netlink struct{}

func (Netlink) Interfaces() ([]Interface, error) { return nil, errUnsupported }

func (Netlink) CreateMacvtap(string, string, string) (*Tap, error) { return nil, errUnsupported }

func (Netlink) DeleteLink(string) error { return errUnsupported }
