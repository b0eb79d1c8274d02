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

// Package server translates kernel FUSE requests into operations on the
// in-memory entry graph.
package server

import (
	"context"
	"os"
	"runtime/debug"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	log "github.com/sirupsen/logrus"

	"memfuse/internal/fs"
)

// attrCacheTTL bounds how long the kernel may cache attributes and entries
// before asking again.
const attrCacheTTL = time.Minute

// Server implements the kernel-facing request dispatcher. Anything not
// listed here is answered with ENOSYS by the embedded fallback.
type Server struct {
	fuseutil.NotImplementedFileSystem

	core    *fs.Filesystem
	handles *HandleManager
}

// New wraps the entry graph in a request dispatcher.
func New(core *fs.Filesystem) *Server {
	return &Server{
		core:    core,
		handles: NewHandleManager(),
	}
}

// FuseServer returns the mountable server for this dispatcher.
func (s *Server) FuseServer() fuse.Server {
	return fuseutil.NewFileSystemServer(s)
}

// Core exposes the underlying entry graph, mainly for the unmount path.
func (s *Server) Core() *fs.Filesystem {
	return s.core
}

// recoverServerPanic converts a panic in a request handler into EIO so one
// bad request cannot take the mount down.
func recoverServerPanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[FUSE] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = EIO
		}
	}
}

func (s *Server) stampEntry(entry *fuseops.ChildInodeEntry, info fs.EntryInfo) {
	now := time.Now()
	entry.Child = info.Inode
	entry.Attributes = info.Attributes
	entry.AttributesExpiration = now.Add(attrCacheTTL)
	entry.EntryExpiration = now.Add(attrCacheTTL)
}

func (s *Server) StatFS(ctx context.Context, op *fuseops.StatFSOp) (err error) {
	defer recoverServerPanic("StatFS", &err)

	op.BlockSize = 4096
	op.IoSize = 65536
	op.Blocks = 1 << 30
	op.BlocksFree = 1 << 30
	op.BlocksAvailable = 1 << 30
	return nil
}

func (s *Server) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) (err error) {
	defer recoverServerPanic("LookUpInode", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[FUSE] LookUpInode %d %q → %v (%v)", op.Parent, op.Name, err, time.Since(start)) }()
	}

	info, lerr := s.core.Lookup(op.Parent, op.Name)
	if lerr != nil {
		return errno(lerr)
	}
	s.stampEntry(&op.Entry, info)
	return nil
}

func (s *Server) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) (err error) {
	defer recoverServerPanic("GetInodeAttributes", &err)

	info, serr := s.core.Stat(op.Inode)
	if serr != nil {
		return errno(serr)
	}
	op.Attributes = info.Attributes
	op.AttributesExpiration = time.Now().Add(attrCacheTTL)
	return nil
}

func (s *Server) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) (err error) {
	defer recoverServerPanic("SetInodeAttributes", &err)
	log.Debugf("[FUSE] SetInodeAttributes: ino=%d", op.Inode)

	attrs, uerr := s.core.UpdateAttributes(op.Inode, fs.AttrUpdate{
		Size:  op.Size,
		Mode:  op.Mode,
		Atime: op.Atime,
		Mtime: op.Mtime,
	})
	if uerr != nil {
		return errno(uerr)
	}
	op.Attributes = attrs
	op.AttributesExpiration = time.Now().Add(attrCacheTTL)
	return nil
}

func (s *Server) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) (err error) {
	defer recoverServerPanic("ForgetInode", &err)

	s.core.Forget(op.Inode, op.N)
	return nil
}

func (s *Server) MkDir(ctx context.Context, op *fuseops.MkDirOp) (err error) {
	defer recoverServerPanic("MkDir", &err)
	log.Debugf("[FUSE] MkDir: parent=%d name=%q mode=%o", op.Parent, op.Name, op.Mode)

	info, merr := s.core.MkDir(op.Parent, op.Name)
	if merr != nil {
		return errno(merr)
	}
	s.stampEntry(&op.Entry, info)
	return nil
}

// MkNode supports regular files only. Devices, sockets and pipes have no
// representation in the entry graph.
func (s *Server) MkNode(ctx context.Context, op *fuseops.MkNodeOp) (err error) {
	defer recoverServerPanic("MkNode", &err)
	log.Debugf("[FUSE] MkNode: parent=%d name=%q mode=%o", op.Parent, op.Name, op.Mode)

	if op.Mode&os.ModeType != 0 {
		return ENOSYS
	}
	info, cerr := s.core.CreateFile(op.Parent, op.Name)
	if cerr != nil {
		return errno(cerr)
	}
	s.stampEntry(&op.Entry, info)
	return nil
}

func (s *Server) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) (err error) {
	defer recoverServerPanic("CreateFile", &err)
	log.Debugf("[FUSE] CreateFile: parent=%d name=%q mode=%o", op.Parent, op.Name, op.Mode)

	info, cerr := s.core.CreateFile(op.Parent, op.Name)
	if cerr != nil {
		return errno(cerr)
	}
	s.stampEntry(&op.Entry, info)
	op.Handle = s.handles.Allocate(info.Inode, false)
	return nil
}

func (s *Server) RmDir(ctx context.Context, op *fuseops.RmDirOp) (err error) {
	defer recoverServerPanic("RmDir", &err)
	log.Debugf("[FUSE] RmDir: parent=%d name=%q", op.Parent, op.Name)

	return errno(s.core.RmDir(op.Parent, op.Name))
}

func (s *Server) Unlink(ctx context.Context, op *fuseops.UnlinkOp) (err error) {
	defer recoverServerPanic("Unlink", &err)
	log.Debugf("[FUSE] Unlink: parent=%d name=%q", op.Parent, op.Name)

	return errno(s.core.Unlink(op.Parent, op.Name))
}

func (s *Server) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) (err error) {
	defer recoverServerPanic("OpenDir", &err)

	info, serr := s.core.Stat(op.Inode)
	if serr != nil {
		return errno(serr)
	}
	if info.Kind != fs.KindDir {
		return ENOTDIR
	}
	op.Handle = s.handles.Allocate(op.Inode, true)
	return nil
}

func (s *Server) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) (err error) {
	defer recoverServerPanic("ReadDir", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[FUSE] ReadDir %d off=%d → %v (%v)", op.Inode, op.Offset, err, time.Since(start)) }()
	}

	h, ok := s.handles.Get(op.Handle)
	if !ok || !h.isDir {
		return EBADF
	}
	ents, rerr := s.core.ReadDir(op.Inode, op.Offset)
	if rerr != nil {
		return errno(rerr)
	}
	for _, ent := range ents {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], ent)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (s *Server) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) (err error) {
	defer recoverServerPanic("ReleaseDirHandle", &err)

	s.handles.Release(op.Handle)
	return nil
}

func (s *Server) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) (err error) {
	defer recoverServerPanic("OpenFile", &err)
	log.Debugf("[FUSE] OpenFile: ino=%d", op.Inode)

	info, serr := s.core.Stat(op.Inode)
	if serr != nil {
		return errno(serr)
	}
	if info.Kind != fs.KindFile {
		return EISDIR
	}
	op.Handle = s.handles.Allocate(op.Inode, false)
	return nil
}

func (s *Server) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) (err error) {
	defer recoverServerPanic("ReadFile", &err)

	h, ok := s.handles.Get(op.Handle)
	if !ok || h.isDir {
		return EBADF
	}
	n, rerr := s.core.ReadAt(op.Inode, op.Dst, op.Offset)
	if rerr != nil {
		return errno(rerr)
	}
	op.BytesRead = n
	return nil
}

func (s *Server) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) (err error) {
	defer recoverServerPanic("WriteFile", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[FUSE] WriteFile %d len=%d off=%d → %v (%v)", op.Inode, len(op.Data), op.Offset, err, time.Since(start)) }()
	}

	h, ok := s.handles.Get(op.Handle)
	if !ok || h.isDir {
		return EBADF
	}
	return errno(s.core.WriteAt(op.Inode, op.Data, op.Offset))
}

func (s *Server) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) (err error) {
	defer recoverServerPanic("SyncFile", &err)
	log.Debugf("[FUSE] SyncFile: ino=%d", op.Inode)

	return errno(s.core.Fsync(op.Inode))
}

// FlushFile is called on every close(2). Flushing here would turn each
// close into a full flush, so persistence stays with fsync and the
// autosync timer.
func (s *Server) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) (err error) {
	defer recoverServerPanic("FlushFile", &err)
	return nil
}

func (s *Server) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) (err error) {
	defer recoverServerPanic("ReleaseFileHandle", &err)

	s.handles.Release(op.Handle)
	return nil
}

func (s *Server) Destroy() {
	log.Debugf("[FUSE] Destroy: flushing entry graph")
	if err := s.core.Close(); err != nil {
		log.Errorf("[FUSE] final flush failed: %v", err)
	}
}
