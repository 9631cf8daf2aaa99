//go:build !unix

package service

import "os/exec"

// setProcessGroup keeps the default cancellation, which kills only the shell.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {}
