package allocator

import (
	"fmt"
	"strings"

	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// firstTapFD is the descriptor number of the first extra file handed to the
// hypervisor; descriptors 0-2 are stdio.
const firstTapFD = 3

// LaunchSpec is the resolved input of Build.
type LaunchSpec struct {
	VM      *models.VM
	Volumes []*models.Volume
	Port    int

	// TapFDs maps a network index to the descriptor of its opened macvtap.
	TapFDs map[int]int
}

// TapFD returns the descriptor number of the nth extra file.
func TapFD(n int) int {
	return firstTapFD + n
}

var nicDevices = map[models.NICModel]string{
	models.NICVirtio:  "virtio-net-pci",
	models.NICE1000:   "e1000",
	models.NICRTL8139: "rtl8139",
}

var bootLetters = map[models.BootDevice]string{
	models.BootDisk:    "c",
	models.BootCDROM:   "d",
	models.BootNetwork: "n",
}

// Build returns the hypervisor argument vector, binary first.
func (a *Allocator) Build(spec LaunchSpec) ([]string, error) {
	vm := spec.VM
	if spec.Port <= 0 {
		return nil, vmerr.New(vmerr.KindInternal, "vm %s has no console port", vm.ID)
	}

	params := []string{a.hv.Binary}
	params = appendName(params, vm)
	params = a.appendMachine(params, vm)
	params = appendCPU(params, vm)
	params = a.appendFirmware(params, vm)
	params, err := appendDrives(params, vm, spec.Volumes)
	if err != nil {
		return nil, err
	}
	params = appendBootOrder(params, vm)
	for i, n := range vm.Networks {
		params, err = appendNetwork(params, i, n, spec.TapFDs)
		if err != nil {
			return nil, err
		}
	}
	params, err = appendDisplay(params, vm.Display, spec.Port)
	if err != nil {
		return nil, err
	}
	params = append(params, "-device", "qemu-xhci", "-device", "usb-tablet")
	return params, nil
}

func appendName(params []string, vm *models.VM) []string {
	return append(params, "-name", fmt.Sprintf("guest=%s,process=fastvm-%s", escape(vm.Name), vm.ID))
}

func (a *Allocator) appendMachine(params []string, vm *models.VM) []string {
	machine := a.hv.Machine
	if a.hv.Accel != "" {
		machine += ",accel=" + a.hv.Accel
	}
	return append(params, "-machine", machine, "-m", fmt.Sprintf("%d", vm.MemoryMB))
}

func appendCPU(params []string, vm *models.VM) []string {
	model := vm.CPUModel
	if model == "" {
		model = "host"
	}
	return append(params, "-cpu", model, "-smp", fmt.Sprintf("cpus=%d,sockets=1,cores=%d,threads=1", vm.VCPUs, vm.VCPUs))
}

// appendFirmware adds UEFI pflash and a TPM emulator socket for windows guests.
func (a *Allocator) appendFirmware(params []string, vm *models.VM) []string {
	if vm.OSType != models.OSWindows {
		return params
	}
	return append(params,
		"-drive", fmt.Sprintf("if=pflash,format=raw,readonly=on,file=%s", escape(a.hv.OVMFCode)),
		"-drive", fmt.Sprintf("if=pflash,format=raw,file=%s", escape(a.VarsPath(vm.ID))),
		"-chardev", fmt.Sprintf("socket,id=chrtpm,path=%s", escape(a.TPMSocket(vm.ID))),
		"-tpmdev", "emulator,id=tpm0,chardev=chrtpm",
		"-device", "tpm-tis,tpmdev=tpm0",
	)
}

// appendDrives attaches the primary disk, volumes in attach order, then
// removable media.
func appendDrives(params []string, vm *models.VM, volumes []*models.Volume) ([]string, error) {
	params = append(params, "-drive", fmt.Sprintf("file=%s,format=qcow2,if=virtio,cache=writeback", escape(vm.DiskPath)))

	byID := make(map[string]*models.Volume, len(volumes))
	for _, v := range volumes {
		byID[v.ID] = v
	}
	for _, id := range vm.Volumes {
		vol, ok := byID[id]
		if !ok {
			return nil, vmerr.NotFound("volume", id)
		}
		params = append(params, "-drive", fmt.Sprintf("file=%s,format=%s,if=virtio", escape(vol.Path), vol.Format))
	}

	index := 2
	for _, iso := range []string{vm.ISOPath, vm.SecondaryISOPath} {
		if iso == "" {
			continue
		}
		params = append(params, "-drive", fmt.Sprintf("file=%s,media=cdrom,readonly=on,if=ide,index=%d", escape(iso), index))
		index++
	}
	return params, nil
}

// appendBootOrder keeps the first occurrence of each device; devices that
// have nothing to boot from are skipped.
func appendBootOrder(params []string, vm *models.VM) []string {
	var order strings.Builder
	seen := map[models.BootDevice]bool{}
	for _, d := range vm.BootOrder {
		if seen[d] {
			continue
		}
		seen[d] = true
		switch d {
		case models.BootCDROM:
			if vm.ISOPath == "" && vm.SecondaryISOPath == "" {
				continue
			}
		case models.BootNetwork:
			if len(vm.Networks) == 0 {
				continue
			}
		}
		order.WriteString(bootLetters[d])
	}
	if order.Len() == 0 {
		order.WriteString("c")
	}
	return append(params, "-boot", "order="+order.String())
}

// appendNetwork adds one backend and one guest device per interface.
func appendNetwork(params []string, index int, n models.Network, tapFDs map[int]int) ([]string, error) {
	id := fmt.Sprintf("net%d", index)

	var netdev string
	switch b := n.Backend.(type) {
	case models.NATBackend:
		netdev = "user,id=" + id
		for _, pf := range b.PortForwards {
			proto := strings.ToLower(pf.Protocol)
			if proto != "tcp" && proto != "udp" {
				return nil, vmerr.Invalid("invalid port forward", map[string]string{
					fmt.Sprintf("networks[%d].protocol", index): "must be tcp or udp",
				})
			}
			netdev += fmt.Sprintf(",hostfwd=%s::%d-:%d", proto, pf.HostPort, pf.GuestPort)
		}
	case models.IsolatedBackend:
		netdev = "user,id=" + id + ",restrict=on"
	case models.BridgeBackend:
		netdev = fmt.Sprintf("bridge,id=%s,br=%s", id, b.BridgeName)
	case models.MacvtapBackend:
		fd, ok := tapFDs[index]
		if !ok {
			return nil, vmerr.New(vmerr.KindInternal, "macvtap network %d has no open tap", index)
		}
		netdev = fmt.Sprintf("tap,id=%s,fd=%d", id, fd)
	default:
		return nil, vmerr.New(vmerr.KindValidation, "network %d has unsupported backend %T", index, b)
	}

	model := n.Model
	if model == "" {
		model = models.NICVirtio
	}
	device, ok := nicDevices[model]
	if !ok {
		return nil, vmerr.New(vmerr.KindValidation, "network %d has unsupported model %q", index, model)
	}
	device += ",netdev=" + id
	if n.MAC != "" {
		device += ",mac=" + n.MAC
	}
	return append(params, "-netdev", netdev, "-device", device), nil
}

// appendDisplay binds the console listener to loopback only; remote access
// goes through the console proxy.
func appendDisplay(params []string, display models.DisplayType, port int) ([]string, error) {
	switch display {
	case models.DisplayVNC:
		if port < 5900 {
			return nil, vmerr.New(vmerr.KindValidation, "vnc port %d is below display :0", port)
		}
		return append(params, "-vga", "std", "-vnc", fmt.Sprintf("127.0.0.1:%d", port-5900)), nil
	case models.DisplaySpice, "":
		return append(params,
			"-vga", "qxl",
			"-spice", fmt.Sprintf("port=%d,addr=127.0.0.1,disable-ticketing=on", port),
		), nil
	default:
		return nil, vmerr.New(vmerr.KindValidation, "unsupported display type %q", display)
	}
}

// escape doubles commas, which the hypervisor's option parser treats as
// separators.
func escape(s string) string {
	return strings.ReplaceAll(s, ",", ",,")
}
