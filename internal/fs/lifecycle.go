// Copyright 2026 MemFuse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fs

import (
	log "github.com/sirupsen/logrus"

	"github.com/jacobsa/fuse/fuseops"

	"memfuse/internal/common"
)

// Forget releases count kernel references to an inode. An entry leaves the
// inode table only once it is both deleted and unreferenced; a forget for
// an inode already evicted is ignored.
func (fs *Filesystem) Forget(ino fuseops.InodeID, count uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, ok := fs.table[ino]
	if !ok {
		return
	}
	c := e.core()
	if count > c.lookupCount {
		c.lookupCount = 0
	} else {
		c.lookupCount -= count
	}
	if c.deleted && c.lookupCount == 0 {
		fs.evict(e)
	}
}

// remove implements the shared unlink/rmdir tail: run the backend delete
// hook, detach from the parent, and evict right away when the kernel holds
// no references. Hook failures are reported but never leave a dangling name
// in the parent's children map.
func (fs *Filesystem) remove(parent *Dir, child Entry) error {
	var hookErr error
	if err := fs.backend.Delete(child.Path(), child.Kind()); err != nil {
		log.Errorf("[FS] delete hook for %s: %v", child.Path(), err)
		hookErr = common.ErrBackendUnavailable
	}

	c := child.core()
	log.Debugf("[FS] unlinking %s (lookupCount=%d)", child.Path(), c.lookupCount)
	delete(parent.children, c.name)
	c.deleted = true
	if c.lookupCount == 0 {
		fs.evict(child)
	}

	// The parent's structure changed and needs a flush of its own.
	parent.touch()
	fs.markDirty(parent)
	return hookErr
}

// evict drops an entry from the inode table. Terminal: the inode number may
// be reused afterwards. Requires fs.mu.
func (fs *Filesystem) evict(e Entry) {
	log.Debugf("[FS] evicting %s", e.Describe())
	delete(fs.table, e.Inode())
}
