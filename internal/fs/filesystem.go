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
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/fuse/fuseops"
	log "github.com/sirupsen/logrus"

	"memfuse/internal/common"
)

const (
	defaultFileMode os.FileMode = 0644
	defaultDirMode  os.FileMode = 0755 | os.ModeDir
)

// Config carries the collaborators and tunables for a Filesystem instance.
// Zero-value fields get working defaults: a MemoryBackend, the
// DefaultNamePolicy and no autosync timer.
type Config struct {
	Backend Backend
	Policy  NamePolicy

	// AutosyncDelay is the debounce interval between the last write and a
	// background full-tree sync. Zero disables autosync.
	AutosyncDelay time.Duration
}

// Filesystem is one mounted tree: the inode table, the root directory and
// the synchronization state. All operations are safe for concurrent use by
// the dispatch workers of the kernel bridge.
type Filesystem struct {
	mu sync.RWMutex

	table map[fuseops.InodeID]Entry
	root  *Dir

	backend Backend
	policy  NamePolicy

	uid uint32
	gid uint32

	// Autosync timer state. syncMu is never held while waiting on mu; the
	// timer callback releases it before flushing.
	syncMu    sync.Mutex
	syncTimer *time.Timer
	syncDelay time.Duration
	stopped   bool
}

// New creates a Filesystem with its root directory pre-registered under the
// kernel's well-known root inode.
func New(cfg Config) *Filesystem {
	backend := cfg.Backend
	if backend == nil {
		backend = MemoryBackend{}
	}
	policy := cfg.Policy
	if policy == nil {
		policy = DefaultNamePolicy{}
	}

	fs := &Filesystem{
		table:     make(map[fuseops.InodeID]Entry),
		backend:   backend,
		policy:    policy,
		uid:       uint32(os.Getuid()),
		gid:       uint32(os.Getgid()),
		syncDelay: cfg.AutosyncDelay,
	}

	fs.root = fs.newDir("", nil, fuseops.RootInodeID)
	// The kernel implicitly references the root for the lifetime of the
	// mount and never sends a forget for it.
	fs.root.lookupCount = 1
	return fs
}

// Root returns the inode of the root directory.
func (fs *Filesystem) Root() fuseops.InodeID { return fs.root.ino }

// allocateInode draws from a random 32-bit namespace and retries on
// collision with the table. Collisions are rare enough that the retry loop
// is practically O(1).
func (fs *Filesystem) allocateInode() fuseops.InodeID {
	for {
		u := uuid.New()
		ino := fuseops.InodeID(binary.BigEndian.Uint32(u[12:]))
		if ino == 0 || ino == fuseops.RootInodeID {
			continue
		}
		if _, taken := fs.table[ino]; !taken {
			return ino
		}
	}
}

// initCore stamps timestamps and ownership, resolves the inode number and
// registers the entry in the table. Callers attach the finished entry to
// its parent afterwards.
func (fs *Filesystem) initCore(e Entry, name string, parent *Dir, explicit fuseops.InodeID, mode os.FileMode) {
	c := e.core()
	c.fs = fs
	c.name = name
	c.parent = parent

	now := time.Now()
	c.attrs = fuseops.InodeAttributes{
		Nlink:  1,
		Mode:   mode,
		Uid:    fs.uid,
		Gid:    fs.gid,
		Atime:  now,
		Ctime:  now,
		Mtime:  now,
		Crtime: now,
	}

	if explicit != 0 {
		c.ino = explicit
	} else {
		c.ino = fs.allocateInode()
	}
	fs.table[c.ino] = e
}

// newFile constructs and registers a file. Requires fs.mu and a parent
// whose children map is materialized.
func (fs *Filesystem) newFile(name string, parent *Dir, explicit fuseops.InodeID) *File {
	log.Debugf("[FS] creating file %q in %s", name, parent.Path())
	f := &File{variant: fs.policy.FileVariant(name)}
	fs.initCore(f, name, parent, explicit, defaultFileMode)
	parent.attach(f)
	return f
}

// newDir constructs and registers a directory. A nil parent is valid
// exactly once, for the root.
func (fs *Filesystem) newDir(name string, parent *Dir, explicit fuseops.InodeID) *Dir {
	if parent != nil {
		log.Debugf("[FS] creating directory %q in %s", name, parent.Path())
	}
	d := &Dir{}
	fs.initCore(d, name, parent, explicit, defaultDirMode)
	if parent != nil {
		parent.attach(d)
	}
	return d
}

// EntryInfo is the snapshot handed to the dispatcher when an entry is
// resolved; the kernel caches the attributes on its side.
type EntryInfo struct {
	Inode      fuseops.InodeID
	Kind       Kind
	Attributes fuseops.InodeAttributes
}

func infoFor(e Entry) EntryInfo {
	return EntryInfo{
		Inode:      e.Inode(),
		Kind:       e.Kind(),
		Attributes: e.Attributes(),
	}
}

// entryByInode resolves through the table, the single source of truth.
// Requires fs.mu.
func (fs *Filesystem) entryByInode(ino fuseops.InodeID) (Entry, error) {
	e, ok := fs.table[ino]
	if !ok {
		return nil, common.ErrNotFound
	}
	return e, nil
}

func (fs *Filesystem) dirByInode(ino fuseops.InodeID) (*Dir, error) {
	e, err := fs.entryByInode(ino)
	if err != nil {
		return nil, err
	}
	d, ok := e.(*Dir)
	if !ok {
		return nil, common.ErrNotDir
	}
	return d, nil
}

func (fs *Filesystem) fileByInode(ino fuseops.InodeID) (*File, error) {
	e, err := fs.entryByInode(ino)
	if err != nil {
		return nil, err
	}
	f, ok := e.(*File)
	if !ok {
		return nil, common.ErrIsDir
	}
	return f, nil
}
