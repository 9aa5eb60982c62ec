package workerbridge

import "github.com/wagiedev/workerbridge/internal/config"

// Transport defines how the bridge reaches its worker.
// Implement this to drive the bridge from something other than a local
// subprocess, for example an in-memory fake in tests.
//
// The default implementation spawns Options.WorkerPath as a child process.
// Custom transports can be injected with WithTransport.
type Transport = config.Transport
