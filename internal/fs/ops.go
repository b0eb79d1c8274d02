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
	"os"
	"sort"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	log "github.com/sirupsen/logrus"

	"memfuse/internal/common"
)

// Lookup resolves name within a directory. "." resolves to the directory
// itself and ".." to its parent (the root is its own parent). Every
// successful resolution grants the kernel one more reference, released
// later through Forget.
func (fs *Filesystem) Lookup(parent fuseops.InodeID, name string) (EntryInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, err := fs.dirByInode(parent)
	if err != nil {
		return EntryInfo{}, err
	}

	var child Entry
	switch name {
	case ".":
		child = dir
	case "..":
		if dir.parent != nil {
			child = dir.parent
		} else {
			child = dir
		}
	default:
		children, err := dir.childMap()
		if err != nil {
			return EntryInfo{}, err
		}
		c, ok := children[name]
		if !ok {
			return EntryInfo{}, common.ErrNotFound
		}
		child = c
	}

	child.core().lookupCount++
	return infoFor(child), nil
}

// Stat resolves by inode without granting a kernel reference.
func (fs *Filesystem) Stat(ino fuseops.InodeID) (EntryInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	e, err := fs.entryByInode(ino)
	if err != nil {
		return EntryInfo{}, err
	}
	return infoFor(e), nil
}

// CreateFile makes a new empty file. Creation counts as the initial kernel
// lookup of the entry.
func (fs *Filesystem) CreateFile(parent fuseops.InodeID, name string) (EntryInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, err := fs.dirByInode(parent)
	if err != nil {
		return EntryInfo{}, err
	}
	if fs.policy.IsIllegal(name) {
		return EntryInfo{}, common.ErrForbidden
	}
	children, err := dir.childMap()
	if err != nil {
		return EntryInfo{}, err
	}
	if _, exists := children[name]; exists {
		return EntryInfo{}, common.ErrExists
	}

	f := fs.newFile(name, dir, 0)
	// A brand new file has no persisted backing to load from.
	f.content = []byte{}
	f.state = loadDone
	f.lookupCount = 1
	fs.markDirty(f)
	return infoFor(f), nil
}

// MkDir makes a new empty directory, counted as an initial lookup.
func (fs *Filesystem) MkDir(parent fuseops.InodeID, name string) (EntryInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, err := fs.dirByInode(parent)
	if err != nil {
		return EntryInfo{}, err
	}
	if fs.policy.IsIllegal(name) {
		return EntryInfo{}, common.ErrForbidden
	}
	children, err := dir.childMap()
	if err != nil {
		return EntryInfo{}, err
	}
	if _, exists := children[name]; exists {
		return EntryInfo{}, common.ErrExists
	}

	d := fs.newDir(name, dir, 0)
	d.children = make(map[string]Entry)
	d.state = loadDone
	d.lookupCount = 1
	fs.markDirty(d)
	return infoFor(d), nil
}

// ReadAt copies content starting at offset into dst and reports how many
// bytes were copied. Reads past the end return 0 rather than an error.
func (fs *Filesystem) ReadAt(ino fuseops.InodeID, dst []byte, offset int64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := fs.fileByInode(ino)
	if err != nil {
		return 0, err
	}
	buf, err := f.data()
	if err != nil {
		return 0, err
	}
	if offset < 0 || offset >= int64(len(buf)) {
		return 0, nil
	}
	return copy(dst, buf[offset:]), nil
}

// WriteAt splices data into the file at offset, stamps the timestamps and
// reschedules the autosync timer.
func (fs *Filesystem) WriteAt(ino fuseops.InodeID, data []byte, offset int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := fs.fileByInode(ino)
	if err != nil {
		return err
	}
	if err := f.splice(offset, data); err != nil {
		return err
	}
	fs.markDirty(f)
	fs.scheduleAutosync()
	return nil
}

// AttrUpdate names the attribute fields a setattr request may change.
// Nil fields are left alone.
type AttrUpdate struct {
	Size  *uint64
	Mode  *os.FileMode
	Atime *time.Time
	Mtime *time.Time
}

// UpdateAttributes applies a setattr request and returns the resulting
// attributes. A size change grows by zero-filling or truncates the tail,
// and counts as write activity for the autosync timer.
func (fs *Filesystem) UpdateAttributes(ino fuseops.InodeID, upd AttrUpdate) (fuseops.InodeAttributes, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, err := fs.entryByInode(ino)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	c := e.core()

	if upd.Size != nil {
		f, ok := e.(*File)
		if !ok {
			return fuseops.InodeAttributes{}, common.ErrIsDir
		}
		if err := f.resize(*upd.Size); err != nil {
			return fuseops.InodeAttributes{}, err
		}
		fs.markDirty(f)
		fs.scheduleAutosync()
	}
	if upd.Mode != nil {
		// Permission bits only; the variant tag of the entry is fixed.
		c.attrs.Mode = (c.attrs.Mode &^ os.ModePerm) | (*upd.Mode & os.ModePerm)
	}
	if upd.Atime != nil {
		c.attrs.Atime = *upd.Atime
	}
	if upd.Mtime != nil {
		c.attrs.Mtime = *upd.Mtime
	}
	return c.attrs, nil
}

// ReadDir lists a directory starting after the given offset cursor. The
// cursor is an inode number: only entries whose inode strictly exceeds it
// are returned, sorted ascending by inode, with "." and ".." synthesized
// under the same contract. Repeating the call with the last-seen inode
// resumes the listing.
func (fs *Filesystem) ReadDir(ino fuseops.InodeID, offset fuseops.DirOffset) ([]fuseutil.Dirent, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, err := fs.dirByInode(ino)
	if err != nil {
		return nil, err
	}
	children, err := dir.childMap()
	if err != nil {
		return nil, err
	}

	ents := make([]fuseutil.Dirent, 0, len(children)+2)
	add := func(name string, ino fuseops.InodeID, kind Kind) {
		if fuseops.DirOffset(ino) <= offset {
			return
		}
		typ := fuseutil.DT_File
		if kind == KindDir {
			typ = fuseutil.DT_Directory
		}
		ents = append(ents, fuseutil.Dirent{
			Offset: fuseops.DirOffset(ino),
			Inode:  ino,
			Name:   name,
			Type:   typ,
		})
	}

	add(".", dir.ino, KindDir)
	if dir.parent != nil {
		add("..", dir.parent.ino, KindDir)
	} else {
		add("..", dir.ino, KindDir)
	}
	for _, child := range children {
		add(child.Name(), child.Inode(), child.Kind())
	}

	// Ascending inode order is the iteration contract; it is what makes
	// the offset cursor resumable.
	sort.Slice(ents, func(i, j int) bool { return ents[i].Inode < ents[j].Inode })
	return ents, nil
}

// Unlink removes a file. The entry is detached from its parent immediately
// but survives in the inode table until the kernel forgets it.
func (fs *Filesystem) Unlink(parent fuseops.InodeID, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, child, err := fs.resolveChild(parent, name)
	if err != nil {
		return err
	}
	if child.Kind() == KindDir {
		return common.ErrIsDir
	}
	return fs.remove(dir, child)
}

// RmDir removes an empty directory. A directory with live children fails
// without mutating anything.
func (fs *Filesystem) RmDir(parent fuseops.InodeID, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, child, err := fs.resolveChild(parent, name)
	if err != nil {
		return err
	}
	sub, ok := child.(*Dir)
	if !ok {
		return common.ErrNotDir
	}
	subChildren, err := sub.childMap()
	if err != nil {
		return err
	}
	if len(subChildren) > 0 {
		return common.ErrNotEmpty
	}
	return fs.remove(dir, child)
}

func (fs *Filesystem) resolveChild(parent fuseops.InodeID, name string) (*Dir, Entry, error) {
	dir, err := fs.dirByInode(parent)
	if err != nil {
		return nil, nil, err
	}
	children, err := dir.childMap()
	if err != nil {
		return nil, nil, err
	}
	child, ok := children[name]
	if !ok {
		return nil, nil, common.ErrNotFound
	}
	return dir, child, nil
}

// SyncAll flushes every dirty entry reachable from the root.
func (fs *Filesystem) SyncAll() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.fsync(fs.root)
}

// Fsync flushes one entry; for a directory with pending descendants the
// flush cascades through the subtree.
func (fs *Filesystem) Fsync(ino fuseops.InodeID) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, err := fs.entryByInode(ino)
	if err != nil {
		return err
	}
	return fs.fsync(e)
}

// Close cancels any pending autosync and forces a final synchronous flush.
func (fs *Filesystem) Close() error {
	fs.syncMu.Lock()
	fs.stopped = true
	if fs.syncTimer != nil {
		fs.syncTimer.Stop()
		fs.syncTimer = nil
	}
	fs.syncMu.Unlock()

	log.Debugf("[FS] closing, forcing final flush")
	return fs.SyncAll()
}
