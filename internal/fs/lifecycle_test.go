package fs

import (
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/common"
)

func lookupCount(t *testing.T, fsys *Filesystem, ino fuseops.InodeID) uint64 {
	t.Helper()
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	e, ok := fsys.table[ino]
	require.True(t, ok, "inode %d not in table", ino)
	return e.core().lookupCount
}

func TestLookupCount(t *testing.T) {
	t.Parallel()

	t.Run("create starts at one, lookups increment", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		info, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), lookupCount(t, fsys, info.Inode))

		_, err = fsys.Lookup(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		_, err = fsys.Lookup(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), lookupCount(t, fsys, info.Inode))
	})

	t.Run("stat does not touch the count", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		info, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		_, err = fsys.Stat(info.Inode)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), lookupCount(t, fsys, info.Inode))
	})
}

func TestUnlinkDefersEviction(t *testing.T) {
	t.Parallel()
	fsys := testFS(t)

	info, err := fsys.CreateFile(fuseops.RootInodeID, "a")
	require.NoError(t, err)
	_, err = fsys.Lookup(fuseops.RootInodeID, "a")
	require.NoError(t, err)

	require.NoError(t, fsys.Unlink(fuseops.RootInodeID, "a"))

	// Gone from the tree immediately.
	_, err = fsys.Lookup(fuseops.RootInodeID, "a")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Still reachable by inode while references are outstanding.
	_, err = fsys.Stat(info.Inode)
	require.NoError(t, err)

	fsys.Forget(info.Inode, 1)
	_, err = fsys.Stat(info.Inode)
	require.NoError(t, err, "one reference remains")

	fsys.Forget(info.Inode, 1)
	_, err = fsys.Stat(info.Inode)
	assert.ErrorIs(t, err, common.ErrNotFound, "last forget evicts")
}

func TestUnlinkWithZeroCountEvictsImmediately(t *testing.T) {
	t.Parallel()

	backend := newRecordingBackend()
	backend.children["/"] = []ChildSpec{{Name: "a", Kind: KindFile}}
	fsys := New(Config{Backend: backend})

	// Materialize via readdir only, so the child never gains a reference.
	ents, err := fsys.ReadDir(fuseops.RootInodeID, 0)
	require.NoError(t, err)

	var ino fuseops.InodeID
	for _, e := range ents {
		if e.Name == "a" {
			ino = e.Inode
		}
	}
	require.NotZero(t, ino)
	assert.Equal(t, uint64(0), lookupCount(t, fsys, ino))

	require.NoError(t, fsys.Unlink(fuseops.RootInodeID, "a"))
	_, err = fsys.Stat(ino)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestForget(t *testing.T) {
	t.Parallel()

	t.Run("unknown inode is ignored", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)
		fsys.Forget(12345, 3)
	})

	t.Run("count floors at zero", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		info, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		fsys.Forget(info.Inode, 100)
		assert.Equal(t, uint64(0), lookupCount(t, fsys, info.Inode))
	})

	t.Run("zero count alone does not evict a linked entry", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		info, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		fsys.Forget(info.Inode, 1)

		_, err = fsys.Stat(info.Inode)
		require.NoError(t, err)
		_, err = fsys.Lookup(fuseops.RootInodeID, "a")
		require.NoError(t, err)
	})
}

func TestRmDir(t *testing.T) {
	t.Parallel()

	t.Run("empty directory is removed", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		sub, err := fsys.MkDir(fuseops.RootInodeID, "sub")
		require.NoError(t, err)
		require.NoError(t, fsys.RmDir(fuseops.RootInodeID, "sub"))

		_, err = fsys.Lookup(fuseops.RootInodeID, "sub")
		assert.ErrorIs(t, err, common.ErrNotFound)

		fsys.Forget(sub.Inode, 1)
		_, err = fsys.Stat(sub.Inode)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("non-empty directory is left untouched", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		sub, err := fsys.MkDir(fuseops.RootInodeID, "sub")
		require.NoError(t, err)
		_, err = fsys.CreateFile(sub.Inode, "child")
		require.NoError(t, err)

		err = fsys.RmDir(fuseops.RootInodeID, "sub")
		assert.ErrorIs(t, err, common.ErrNotEmpty)

		_, err = fsys.Lookup(fuseops.RootInodeID, "sub")
		require.NoError(t, err)
		_, err = fsys.Lookup(sub.Inode, "child")
		require.NoError(t, err)
	})

	t.Run("rmdir on a file fails", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		_, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		err = fsys.RmDir(fuseops.RootInodeID, "a")
		assert.ErrorIs(t, err, common.ErrNotDir)
	})
}

func TestUnlinkDirectoryFails(t *testing.T) {
	t.Parallel()
	fsys := testFS(t)

	_, err := fsys.MkDir(fuseops.RootInodeID, "sub")
	require.NoError(t, err)
	err = fsys.Unlink(fuseops.RootInodeID, "sub")
	assert.ErrorIs(t, err, common.ErrIsDir)
}

func TestDeleteHookFailure(t *testing.T) {
	t.Parallel()

	backend := newRecordingBackend()
	fsys := New(Config{Backend: backend})

	_, err := fsys.CreateFile(fuseops.RootInodeID, "a")
	require.NoError(t, err)

	backend.mu.Lock()
	backend.deleteErr = common.ErrBackendUnavailable
	backend.mu.Unlock()

	// The hook failure is reported, but the tree mutation still happens.
	err = fsys.Unlink(fuseops.RootInodeID, "a")
	assert.ErrorIs(t, err, common.ErrBackendUnavailable)
	_, err = fsys.Lookup(fuseops.RootInodeID, "a")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
