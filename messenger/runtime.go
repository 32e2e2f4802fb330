// File: messenger/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide runtime shared by every messenger: the frame memory pool and
// the live instance count.

package messenger

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/config"
	"github.com/momentics/hioload-xmsgr/pool"
)

// Runtime is the shared state behind all messengers of a process.
type Runtime struct {
	pool      *pool.FramePool
	instances atomic.Int64 // -1 once shut down
}

var (
	rtMu      sync.Mutex
	rtCurrent atomic.Pointer[Runtime]
)

// Pool returns the shared frame pool.
func (r *Runtime) Pool() *pool.FramePool { return r.pool }

func (r *Runtime) enter() bool {
	for {
		n := r.instances.Load()
		if n < 0 {
			return false
		}
		if r.instances.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *Runtime) leave() { r.instances.Add(-1) }

// acquireRuntime returns the process runtime, creating it on first use, and
// counts one more instance against it.
func acquireRuntime(cfg *config.Config) (*Runtime, error) {
	if r := rtCurrent.Load(); r != nil && r.enter() {
		return r, nil
	}
	rtMu.Lock()
	defer rtMu.Unlock()
	if r := rtCurrent.Load(); r != nil && r.enter() {
		return r, nil
	}
	specs := make([]pool.ClassSpec, 0, len(cfg.PoolSizeClasses))
	for _, s := range cfg.PoolSizeClasses {
		specs = append(specs, pool.ClassSpec{Size: s, Prealloc: cfg.PoolPrealloc, Max: cfg.PoolMaxPerClass})
	}
	fp, err := pool.NewFramePool(specs)
	if err != nil {
		return nil, err
	}
	r := &Runtime{pool: fp}
	r.instances.Store(1)
	rtCurrent.Store(r)
	return r, nil
}

// Instances returns the number of live messengers.
func Instances() int64 {
	r := rtCurrent.Load()
	if r == nil {
		return 0
	}
	return max(r.instances.Load(), 0)
}

// ShutdownRuntime closes the shared pool. It fails with api.ErrRuntimeInUse
// while messengers are alive. A later New starts a fresh runtime.
func ShutdownRuntime() error {
	rtMu.Lock()
	defer rtMu.Unlock()
	r := rtCurrent.Load()
	if r == nil {
		return nil
	}
	if !r.instances.CompareAndSwap(0, -1) {
		return api.NewError(api.ErrCodeInternal, "runtime still has live messengers").
			WithContext("instances", r.instances.Load()).
			WithCause(api.ErrRuntimeInUse)
	}
	r.pool.Close()
	rtCurrent.Store(nil)
	return nil
}
