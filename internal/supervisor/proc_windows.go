//go:build windows

package supervisor

import "os/exec"

// setProcessGroup is a no-op on Windows; teardown relies on the direct
// Process.Kill in KillTree.
func setProcessGroup(_ *exec.Cmd) {}

// killProcessGroup is a no-op on Windows.
func killProcessGroup(_ int) {}
