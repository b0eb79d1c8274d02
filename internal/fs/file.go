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

// File is a regular file. Content is lazily materialized: the buffer stays
// unset until the first access invokes the backend's RefreshContent hook.
type File struct {
	entryCore

	variant FileVariant
	content []byte
	state   loadState
}

func (f *File) Kind() Kind { return KindFile }

// Variant returns the tag the filename policy assigned at creation.
func (f *File) Variant() FileVariant { return f.variant }

func (f *File) Path() string {
	return f.parent.Path() + f.name
}

func (f *File) Describe() string {
	return fmt.Sprintf("<file %q ino=%d %s>", f.name, f.ino, f.attrs.Mode)
}

// data returns the content buffer, invoking the refresh hook on first
// access. Hook failures surface as ErrBackendUnavailable and are retried on
// the next access.
func (f *File) data() ([]byte, error) {
	if f.state == loadDone {
		return f.content, nil
	}
	buf, err := f.fs.backend.RefreshContent(f.Path())
	if err != nil {
		f.state = loadFailed
		log.Errorf("[FS] refreshing content of %s: %v", f.Path(), err)
		return nil, common.ErrBackendUnavailable
	}
	f.content = buf
	f.state = loadDone
	f.attrs.Size = uint64(len(buf))
	return f.content, nil
}

// splice writes data at the given offset, growing the buffer when the write
// extends past the current end. A gap between the old end and the offset is
// zero-filled.
func (f *File) splice(offset int64, data []byte) error {
	buf, err := f.data()
	if err != nil {
		return err
	}
	if end := offset + int64(len(data)); end > int64(len(buf)) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], data)
	f.content = buf
	f.attrs.Size = uint64(len(buf))
	f.touch()
	return nil
}

// resize grows by zero-filling or shrinks by truncating the tail.
func (f *File) resize(size uint64) error {
	buf, err := f.data()
	if err != nil {
		return err
	}
	switch {
	case uint64(len(buf)) < size:
		grown := make([]byte, size)
		copy(grown, buf)
		f.content = grown
	case uint64(len(buf)) > size:
		f.content = buf[:size]
	}
	f.attrs.Size = size
	f.touch()
	return nil
}
