//go:build !unix

package dock

import "os/exec"

// Without process groups the default CommandContext kill of the direct
// child is the best available.
func setProcessGroup(cmd *exec.Cmd) {}
