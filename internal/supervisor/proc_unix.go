//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child the leader of a fresh process group while
// keeping it in our session, so Ctrl+C at the terminal still reaches it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGTERM to the child's whole process group. Lookup
// failures are ignored; the caller follows up with a direct kill of the
// root process either way.
func killProcessGroup(pid int) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
}
