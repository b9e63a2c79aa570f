package checkout

import "sync"

// inflight provides non-blocking per-key lock semantics for idempotency keys
// whose checkout is still running.
type inflight struct {
	keys sync.Map // key -> struct{}
}

// tryAcquire claims key without blocking.
// Returns false if another checkout holds it.
func (f *inflight) tryAcquire(key string) bool {
	_, held := f.keys.LoadOrStore(key, struct{}{})
	return !held
}

// release frees key.
// Must only be called by the goroutine that acquired it.
func (f *inflight) release(key string) {
	f.keys.Delete(key)
}
