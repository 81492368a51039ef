//go:build !windows

package scripts

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureProcessGroup 脚本及其子进程放入独立进程组，取消时一并结束
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
