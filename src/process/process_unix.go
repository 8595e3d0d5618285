//go:build !windows

package process

import "syscall"

// setpgid puts the spawned process in its own process group so killProcess can signal the
// whole group (including any children it spawns itself) rather than just the immediate pid.
func setpgid() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
