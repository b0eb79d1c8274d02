package server

import (
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// openHandle represents an open file or directory.
type openHandle struct {
	ino   fuseops.InodeID
	isDir bool
}

// HandleManager hands out kernel handle IDs and remembers what they point at.
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[fuseops.HandleID]*openHandle
	nextHandle fuseops.HandleID
}

// NewHandleManager creates a new handle manager.
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[fuseops.HandleID]*openHandle),
		nextHandle: 1,
	}
}

// Allocate creates a new handle for the given inode.
func (hm *HandleManager) Allocate(ino fuseops.InodeID, isDir bool) fuseops.HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	handle := hm.nextHandle
	hm.nextHandle++

	hm.handles[handle] = &openHandle{
		ino:   ino,
		isDir: isDir,
	}

	return handle
}

// Get retrieves a handle's info.
func (hm *HandleManager) Get(h fuseops.HandleID) (*openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	info, ok := hm.handles[h]
	return info, ok
}

// Release frees a handle.
func (hm *HandleManager) Release(h fuseops.HandleID) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.handles, h)
}

// Count returns the number of live handles.
func (hm *HandleManager) Count() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.handles)
}

// Clear removes all handles, returning the count of handles cleared.
func (hm *HandleManager) Clear() int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	count := len(hm.handles)
	hm.handles = make(map[fuseops.HandleID]*openHandle)
	// Don't reset nextHandle to avoid handle ID reuse issues
	return count
}
