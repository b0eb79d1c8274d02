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

import "strings"

// ChildSpec declares one child during lazy directory materialization.
type ChildSpec struct {
	Name string
	Kind Kind
}

// Backend is the persistence collaborator. Hooks are called synchronously
// with the filesystem lock held and must not call back into the Filesystem.
// Any hook error is logged and surfaced to the kernel as a temporary
// failure; it never crosses the dispatcher as a raw error.
type Backend interface {
	// RefreshContent supplies the initial content of a file on first access.
	RefreshContent(path string) ([]byte, error)
	// RefreshChildren supplies the initial listing of a directory on first
	// access.
	RefreshChildren(path string) ([]ChildSpec, error)
	// Save persists an entry. Content is nil for directories.
	Save(path string, kind Kind, content []byte) error
	// Delete removes persisted state for an entry about to be unlinked.
	Delete(path string, kind Kind) error
}

// NamePolicy is consulted on create.
type NamePolicy interface {
	// IsIllegal rejects names that must never appear in the tree.
	IsIllegal(name string) bool
	// FileVariant selects the variant tag for a new file.
	FileVariant(name string) FileVariant
}

// MemoryBackend keeps everything in process memory: refresh hooks yield
// empty state and save/delete are no-ops. It is the default backend and the
// one the CLI mounts.
type MemoryBackend struct{}

func (MemoryBackend) RefreshContent(path string) ([]byte, error) { return []byte{}, nil }

func (MemoryBackend) RefreshChildren(path string) ([]ChildSpec, error) { return nil, nil }

func (MemoryBackend) Save(path string, kind Kind, content []byte) error { return nil }

func (MemoryBackend) Delete(path string, kind Kind) error { return nil }

// DefaultNamePolicy forbids names the tree cannot represent and tags every
// file as regular.
type DefaultNamePolicy struct{}

func (DefaultNamePolicy) IsIllegal(name string) bool {
	return name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/')
}

func (DefaultNamePolicy) FileVariant(name string) FileVariant { return FileRegular }
