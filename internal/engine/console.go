package engine

import (
	"context"

	"evalgo.org/fastvm/internal/console"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// ConsoleInfo tells a client how to reach the console of a running VM.
type ConsoleInfo struct {
	VMID        string             `json:"vm_id"`
	Protocol    models.DisplayType `json:"protocol"`
	Port        int                `json:"port"`
	Path        string             `json:"websocket_path"`
	Subprotocol string             `json:"subprotocol"`
	Sessions    []console.Info     `json:"sessions"`
}

// ConsolePath is the WebSocket path of a VM's console.
func ConsolePath(vmID string) string {
	return "/ws/console/" + vmID
}

// Console describes the console of a running VM.
func (e *Engine) Console(vmID string) (*ConsoleInfo, error) {
	vm, err := e.reg.Get(vmID)
	if err != nil {
		return nil, err
	}
	if !vm.IsRunning() {
		return nil, vmerr.Conflict("vm %s is not running", vmID)
	}
	return &ConsoleInfo{
		VMID:        vm.ID,
		Protocol:    vm.Runtime.Protocol,
		Port:        vm.Runtime.ConsolePort,
		Path:        ConsolePath(vm.ID),
		Subprotocol: console.Subprotocol,
		Sessions:    e.consoles.Sessions(vm.ID),
	}, nil
}

// OpenConsole connects a new session to the display of a running VM. The
// caller upgrades its WebSocket and hands it to Session.Serve.
func (e *Engine) OpenConsole(ctx context.Context, vmID string) (*console.Session, error) {
	return e.consoles.Open(ctx, vmID)
}

// DisconnectConsole closes one session. It reports whether the session
// was still open.
func (e *Engine) DisconnectConsole(sessionID string) bool {
	return e.consoles.Disconnect(sessionID)
}

// DisconnectVMConsoles closes every session of a VM and returns how many
// there were.
func (e *Engine) DisconnectVMConsoles(vmID string) (int, error) {
	if _, err := e.reg.Get(vmID); err != nil {
		return 0, err
	}
	n := len(e.consoles.Sessions(vmID))
	e.consoles.CloseVM(vmID)
	return n, nil
}
