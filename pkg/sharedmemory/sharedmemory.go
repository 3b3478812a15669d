// Package sharedmemory holds in-process progress state shared between the
// trigger dispatch loop and anything observing it (metrics, health checks),
// without going through the chain adapter or a datastore.
package sharedmemory

import "sync"

// SharedMemory is an in-memory thread-safe data structure tracking the last
// block number processed for each data source by name.
type SharedMemory struct {
	mu                  sync.RWMutex
	lastSeenBlockNumber map[string]int64
}

// NewSharedMemory creates a new SharedMemory object.
func NewSharedMemory() *SharedMemory {
	return &SharedMemory{
		lastSeenBlockNumber: make(map[string]int64),
	}
}

// SetLastSeenBlockNumber sets the last seen block number for a data source.
func (sm *SharedMemory) SetLastSeenBlockNumber(dataSourceName string, blockNumber int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastSeenBlockNumber[dataSourceName] = blockNumber
}

// GetLastSeenBlockNumber gets the last seen block number for a data source.
func (sm *SharedMemory) GetLastSeenBlockNumber(dataSourceName string) (int64, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	blockNumber, ok := sm.lastSeenBlockNumber[dataSourceName]
	if !ok {
		return 0, false
	}
	return blockNumber, true
}
