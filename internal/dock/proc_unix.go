//go:build unix

package dock

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the docking process in its own process group so
// a timeout kills the whole tree, not just the interpreter.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
