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

// Package fs implements the in-memory entry graph behind a memfuse mount:
// the file/directory tree, inode table, kernel lookup-count lifecycle and
// the dirty-state synchronization protocol. The kernel-facing operation
// surface lives in internal/server and calls into a Filesystem instance.
package fs

import (
	"fmt"
	"time"

	"github.com/jacobsa/fuse/fuseops"
)

// Kind tags the concrete variant of an Entry.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FileVariant is the tag a NamePolicy assigns to newly created files, so a
// backend can treat classes of files differently without subclassing.
type FileVariant uint8

const FileRegular FileVariant = 0

// loadState tracks lazy materialization of file content and directory
// children. A failed load is retried on the next access.
type loadState uint8

const (
	loadPending loadState = iota
	loadDone
	loadFailed
)

// Entry is a node of the tree: either a *File or a *Dir. Accessors are safe
// only while the owning Filesystem's lock is held; callers outside this
// package should go through Filesystem operations instead.
type Entry interface {
	Name() string
	Inode() fuseops.InodeID
	Parent() *Dir
	Kind() Kind
	Path() string
	Depth() int
	Attributes() fuseops.InodeAttributes
	Dirty() bool
	Describe() string

	core() *entryCore
}

// entryCore carries the state common to files and directories. Ownership of
// an entry is asserted by its parent's children map; the parent pointer here
// is a non-owning back-reference used for path and ancestor queries only.
type entryCore struct {
	fs     *Filesystem
	name   string
	parent *Dir

	ino   fuseops.InodeID
	attrs fuseops.InodeAttributes

	// Outstanding kernel references. The entry stays resolvable by inode
	// until the kernel forgets all of them, even after deletion.
	lookupCount uint64
	deleted     bool
	dirty       bool
}

func (e *entryCore) Name() string { return e.name }

func (e *entryCore) Inode() fuseops.InodeID { return e.ino }

func (e *entryCore) Parent() *Dir { return e.parent }

func (e *entryCore) Attributes() fuseops.InodeAttributes { return e.attrs }

func (e *entryCore) Dirty() bool { return e.dirty }

func (e *entryCore) core() *entryCore { return e }

// Depth is the number of ancestors above this entry; the root has depth 0.
func (e *entryCore) Depth() int {
	d := 0
	for p := e.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// touch stamps all three timestamps to now. They are always updated
// together whenever content or structure changes.
func (e *entryCore) touch() {
	now := time.Now()
	e.attrs.Atime = now
	e.attrs.Ctime = now
	e.attrs.Mtime = now
}
