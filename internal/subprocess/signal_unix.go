//go:build !windows

package subprocess

import (
	stderrors "errors"
	"os"
	"syscall"
)

// terminate asks the process to stop with SIGTERM.
func terminate(proc *os.Process) error {
	if err := proc.Signal(syscall.SIGTERM); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return err
	}

	return nil
}
