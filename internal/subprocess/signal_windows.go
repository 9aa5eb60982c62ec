//go:build windows

package subprocess

import (
	stderrors "errors"
	"os"
)

// terminate stops the process. Windows has no SIGTERM, so this kills it.
func terminate(proc *os.Process) error {
	if err := proc.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return err
	}

	return nil
}
