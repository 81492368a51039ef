//go:build windows

package scripts

import "os/exec"

// configureProcessGroup Windows上沿用默认的Kill
func configureProcessGroup(cmd *exec.Cmd) {}
