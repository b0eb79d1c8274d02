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

// Package daemon owns the lifetime of a mounted filesystem: the kernel
// session, the mount-point lock and the final flush on the way down.
package daemon

import (
	"context"
	"fmt"
	stdlog "log"
	"time"

	"github.com/gofrs/flock"
	"github.com/jacobsa/fuse"
	log "github.com/sirupsen/logrus"

	"memfuse/internal/fs"
	"memfuse/internal/server"
	"memfuse/internal/util"
)

// MountOptions configures a single mount.
type MountOptions struct {
	MountPoint    string
	VolumeName    string
	AutosyncDelay time.Duration
	FUSEDebug     bool

	// Backend persists entries on flush. Nil means purely in-memory.
	Backend fs.Backend
}

// Daemon is one live mount: the entry graph, its kernel session and the
// lock that keeps a second daemon off the same mount point.
type Daemon struct {
	opts MountOptions
	srv  *server.Server
	mfs  *fuse.MountedFileSystem
	lock *flock.Flock
}

// Mount builds the entry graph and attaches it to the kernel at the given
// mount point.
func Mount(ctx context.Context, opts MountOptions) (*Daemon, error) {
	if err := EnsureConfigDir(); err != nil {
		return nil, err
	}

	lock := flock.New(LockPath(opts.MountPoint))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire mount lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("mount point %s is already served by another process", opts.MountPoint)
	}

	core := fs.New(fs.Config{
		Backend:       opts.Backend,
		AutosyncDelay: opts.AutosyncDelay,
	})
	srv := server.New(core)

	cfg := &fuse.MountConfig{
		FSName:      "memfuse",
		Subtype:     "memfuse",
		VolumeName:  opts.VolumeName,
		ErrorLogger: stdlog.New(log.StandardLogger().WriterLevel(log.ErrorLevel), "", 0),
	}
	if opts.FUSEDebug {
		cfg.DebugLogger = stdlog.New(log.StandardLogger().WriterLevel(log.DebugLevel), "", 0)
	}

	mfs, err := fuse.Mount(opts.MountPoint, srv.FuseServer(), cfg)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to mount %s: %w", opts.MountPoint, err)
	}

	log.Infof("[Daemon] mounted %s", opts.MountPoint)
	return &Daemon{
		opts: opts,
		srv:  srv,
		mfs:  mfs,
		lock: lock,
	}, nil
}

// Join blocks until the mount is taken down, either by Unmount or
// externally with umount(8).
func (d *Daemon) Join(ctx context.Context) error {
	return d.mfs.Join(ctx)
}

// Unmount detaches the filesystem, retrying while the mount point is busy,
// then forces a final flush of the entry graph.
func (d *Daemon) Unmount(ctx context.Context) error {
	log.Infof("[Daemon] unmounting %s", d.opts.MountPoint)

	err := util.Retry(ctx, func() error {
		return fuse.Unmount(d.opts.MountPoint)
	}, util.UnmountRetryOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("failed to unmount %s: %w", d.opts.MountPoint, err)
	}

	if jerr := d.mfs.Join(ctx); jerr != nil {
		log.Warnf("[Daemon] join after unmount: %v", jerr)
	}

	// The kernel's Destroy already flushed, but a crash between unmount
	// and Destroy would lose data. Close is idempotent.
	if cerr := d.srv.Core().Close(); cerr != nil {
		log.Errorf("[Daemon] final flush failed: %v", cerr)
	}

	if uerr := d.lock.Unlock(); uerr != nil {
		log.Warnf("[Daemon] releasing mount lock: %v", uerr)
	}
	return nil
}
