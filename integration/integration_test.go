//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wagiedev/workerbridge"
)

// workerEnv overrides the worker command, e.g. "python3 client/bridge.py".
const workerEnv = "WORKERBRIDGE_INTEGRATION_WORKER"

// workerOptions returns options for the worker under test. Without
// WORKERBRIDGE_INTEGRATION_WORKER it runs testdata/echo_worker.py and skips
// if python3 is not installed.
func workerOptions(t *testing.T) []workerbridge.Option {
	t.Helper()

	if cmd := strings.Fields(os.Getenv(workerEnv)); len(cmd) > 0 {
		return []workerbridge.Option{
			workerbridge.WithWorkerPath(cmd[0]),
			workerbridge.WithArgs(cmd[1:]...),
			workerbridge.WithHandshakeTimeout(60 * time.Second),
		}
	}

	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not installed and " + workerEnv + " not set")
	}

	script, err := filepath.Abs(filepath.Join("testdata", "echo_worker.py"))
	if err != nil {
		t.Fatalf("resolve worker script: %v", err)
	}

	return []workerbridge.Option{
		workerbridge.WithWorkerPath(python),
		workerbridge.WithArgs("-u", script),
		workerbridge.WithHandshakeTimeout(30 * time.Second),
		workerbridge.WithGracePeriod(2 * time.Second),
	}
}

// usesEchoWorker reports whether the bundled echo worker is under test.
func usesEchoWorker() bool {
	return os.Getenv(workerEnv) == ""
}
