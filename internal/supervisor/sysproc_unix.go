//go:build unix

package supervisor

import "syscall"

// detachedAttr starts the child in a new session, away from the engine's
// terminal and process group.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
