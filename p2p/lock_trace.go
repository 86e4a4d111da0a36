package p2p

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/canopy-network/layercast/lib"
)

const lockWaitWarning = 100 * time.Millisecond

// lockWithTrace acquires a lock and logs if the wait exceeds lockWaitWarning.
// The returned func must be called to unlock.
func lockWithTrace(name string, mux sync.Locker, logger lib.LoggerI) func() {
	start := time.Now()
	mux.Lock()
	if wait := time.Since(start); wait > lockWaitWarning {
		if pc, file, line, ok := runtime.Caller(1); ok {
			logger.Warnf("%s lock wait: %s caller=%s:%d (%s)\n%s", name, wait, file, line, runtime.FuncForPC(pc).Name(), debug.Stack())
		} else {
			logger.Warnf("%s lock wait: %s\n%s", name, wait, debug.Stack())
		}
	}
	return mux.Unlock
}
