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
	"time"

	log "github.com/sirupsen/logrus"

	"memfuse/internal/common"
)

// markDirty flags an entry and walks root-ward setting dirtyChildren on
// every ancestor. Ancestors must never under-report pending work, so the
// upward walk is unconditional on becoming dirty; clearing happens only
// when a completed fsync confirms the subtree. The walk stops early at an
// ancestor already flagged, whose own ancestors are then flagged too.
// Requires fs.mu.
func (fs *Filesystem) markDirty(e Entry) {
	e.core().dirty = true
	for p := e.core().parent; p != nil; p = p.parent {
		if p.dirtyChildren {
			break
		}
		p.dirtyChildren = true
	}
}

// fsync flushes one entry, cascading through directories whose subtree
// still has pending work. Idempotent per entry, so correctness does not
// depend on walk order. Requires fs.mu.
func (fs *Filesystem) fsync(e Entry) error {
	c := e.core()
	if c.dirty {
		if err := fs.save(e); err != nil {
			return err
		}
		c.dirty = false
	}
	if d, ok := e.(*Dir); ok && d.dirtyChildren {
		for _, child := range d.children {
			if err := fs.fsync(child); err != nil {
				return err
			}
		}
		d.dirtyChildren = false
	}
	return nil
}

func (fs *Filesystem) save(e Entry) error {
	var content []byte
	if f, ok := e.(*File); ok {
		content = f.content
	}
	if err := fs.backend.Save(e.Path(), e.Kind(), content); err != nil {
		log.Errorf("[FS] saving %s: %v", e.Path(), err)
		return common.ErrBackendUnavailable
	}
	log.Tracef("[FS] saved %s", e.Path())
	return nil
}

// scheduleAutosync cancels any pending timer and arms a new one. Timer
// state lives under its own lock so that two concurrent writers cannot arm
// independent timers.
func (fs *Filesystem) scheduleAutosync() {
	if fs.syncDelay <= 0 {
		return
	}
	fs.syncMu.Lock()
	defer fs.syncMu.Unlock()
	if fs.stopped {
		return
	}
	if fs.syncTimer != nil {
		fs.syncTimer.Stop()
	}
	fs.syncTimer = time.AfterFunc(fs.syncDelay, fs.autosync)
}

// autosync fires once the debounce delay elapses with no further writes.
func (fs *Filesystem) autosync() {
	fs.syncMu.Lock()
	if fs.stopped {
		fs.syncMu.Unlock()
		return
	}
	fs.syncTimer = nil
	fs.syncMu.Unlock()

	log.Debugf("[FS] autosync firing")
	if err := fs.SyncAll(); err != nil {
		log.Errorf("[FS] autosync: %v", err)
	}
}
