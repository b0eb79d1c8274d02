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
	"fmt"

	log "github.com/sirupsen/logrus"

	"memfuse/internal/common"
)

// Dir is a directory. Children are lazily materialized through the
// backend's RefreshChildren hook, the same way file content is.
type Dir struct {
	entryCore

	children map[string]Entry
	state    loadState

	// dirtyChildren is true while at least one descendant still needs a
	// flush. Set on the upward walk in markDirty, cleared only by a
	// completed fsync of this directory.
	dirtyChildren bool
}

func (d *Dir) Kind() Kind { return KindDir }

// Path ends with a single delimiter; the root's path is just "/".
func (d *Dir) Path() string {
	if d.parent == nil {
		return "/"
	}
	return d.parent.Path() + d.name + "/"
}

func (d *Dir) Describe() string {
	return fmt.Sprintf("<directory %q ino=%d %s>", d.name, d.ino, d.attrs.Mode)
}

// DirtyChildren reports whether a flush of this directory's subtree is
// still pending.
func (d *Dir) DirtyChildren() bool { return d.dirtyChildren }

// childMap returns the children map, invoking the refresh hook on first
// access. The hook declares names and kinds; the entries themselves are
// constructed here so that they register in the inode table.
func (d *Dir) childMap() (map[string]Entry, error) {
	if d.state == loadDone {
		return d.children, nil
	}
	specs, err := d.fs.backend.RefreshChildren(d.Path())
	if err != nil {
		d.state = loadFailed
		log.Errorf("[FS] refreshing children of %s: %v", d.Path(), err)
		return nil, common.ErrBackendUnavailable
	}
	d.children = make(map[string]Entry, len(specs))
	d.state = loadDone
	for _, spec := range specs {
		switch spec.Kind {
		case KindDir:
			d.fs.newDir(spec.Name, d, 0)
		default:
			d.fs.newFile(spec.Name, d, 0)
		}
	}
	return d.children, nil
}

// attach inserts a child under its own name. A name collision here is a
// bug in the caller, which is expected to check the map first.
func (d *Dir) attach(child Entry) {
	name := child.Name()
	if _, ok := d.children[name]; ok {
		panic(fmt.Sprintf("fs: duplicate child %q in %s", name, d.Path()))
	}
	d.children[name] = child
}
