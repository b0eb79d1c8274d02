package fs

import (
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/common"
)

func isDirty(t *testing.T, fsys *Filesystem, ino fuseops.InodeID) (dirty, dirtyChildren bool) {
	t.Helper()
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	e, ok := fsys.table[ino]
	require.True(t, ok, "inode %d not in table", ino)
	dirty = e.core().dirty
	if d, isDir := e.(*Dir); isDir {
		dirtyChildren = d.dirtyChildren
	}
	return dirty, dirtyChildren
}

func TestDirtyPropagation(t *testing.T) {
	t.Parallel()

	t.Run("a write marks every ancestor", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		a, err := fsys.MkDir(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		b, err := fsys.MkDir(a.Inode, "b")
		require.NoError(t, err)
		require.NoError(t, fsys.SyncAll())

		f, err := fsys.CreateFile(b.Inode, "leaf")
		require.NoError(t, err)
		require.NoError(t, fsys.WriteAt(f.Inode, []byte("x"), 0))

		dirty, _ := isDirty(t, fsys, f.Inode)
		assert.True(t, dirty)
		for _, ino := range []fuseops.InodeID{b.Inode, a.Inode, fuseops.RootInodeID} {
			_, dc := isDirty(t, fsys, ino)
			assert.True(t, dc, "ancestor %d should carry dirty children", ino)
		}
	})

	t.Run("propagation stops at an already-marked ancestor", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		a, err := fsys.MkDir(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		f1, err := fsys.CreateFile(a.Inode, "one")
		require.NoError(t, err)
		f2, err := fsys.CreateFile(a.Inode, "two")
		require.NoError(t, err)

		require.NoError(t, fsys.WriteAt(f1.Inode, []byte("x"), 0))
		require.NoError(t, fsys.WriteAt(f2.Inode, []byte("y"), 0))

		_, dc := isDirty(t, fsys, a.Inode)
		assert.True(t, dc)
	})

	t.Run("unlink dirties the parent", func(t *testing.T) {
		t.Parallel()
		fsys := testFS(t)

		a, err := fsys.MkDir(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		_, err = fsys.CreateFile(a.Inode, "f")
		require.NoError(t, err)
		require.NoError(t, fsys.SyncAll())

		require.NoError(t, fsys.Unlink(a.Inode, "f"))
		dirty, _ := isDirty(t, fsys, a.Inode)
		assert.True(t, dirty)
		_, dc := isDirty(t, fsys, fuseops.RootInodeID)
		assert.True(t, dc)
	})
}

func TestSyncAll(t *testing.T) {
	t.Parallel()

	t.Run("flushes every dirty entry and clears the flags", func(t *testing.T) {
		t.Parallel()
		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend})

		a, err := fsys.MkDir(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		f, err := fsys.CreateFile(a.Inode, "leaf")
		require.NoError(t, err)
		require.NoError(t, fsys.WriteAt(f.Inode, []byte("hi"), 0))

		require.NoError(t, fsys.SyncAll())
		assert.Contains(t, backend.savedPaths(), "/a/")
		assert.Contains(t, backend.savedPaths(), "/a/leaf")

		dirty, _ := isDirty(t, fsys, f.Inode)
		assert.False(t, dirty)
		_, dc := isDirty(t, fsys, a.Inode)
		assert.False(t, dc)
	})

	t.Run("clean tree saves nothing", func(t *testing.T) {
		t.Parallel()
		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend})

		_, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		require.NoError(t, fsys.SyncAll())

		before := backend.saveCount()
		require.NoError(t, fsys.SyncAll())
		assert.Equal(t, before, backend.saveCount())
	})

	t.Run("save failure keeps the entry dirty", func(t *testing.T) {
		t.Parallel()
		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend})

		f, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		require.NoError(t, fsys.SyncAll())
		require.NoError(t, fsys.WriteAt(f.Inode, []byte("x"), 0))

		backend.mu.Lock()
		backend.saveErr = common.ErrBackendUnavailable
		backend.mu.Unlock()

		err = fsys.SyncAll()
		assert.ErrorIs(t, err, common.ErrBackendUnavailable)
		dirty, _ := isDirty(t, fsys, f.Inode)
		assert.True(t, dirty)

		backend.mu.Lock()
		backend.saveErr = nil
		backend.mu.Unlock()

		require.NoError(t, fsys.SyncAll())
		dirty, _ = isDirty(t, fsys, f.Inode)
		assert.False(t, dirty)
	})
}

func TestFsync(t *testing.T) {
	t.Parallel()

	t.Run("cascades below the target only", func(t *testing.T) {
		t.Parallel()
		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend})

		a, err := fsys.MkDir(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		b, err := fsys.MkDir(fuseops.RootInodeID, "b")
		require.NoError(t, err)
		fa, err := fsys.CreateFile(a.Inode, "fa")
		require.NoError(t, err)
		fb, err := fsys.CreateFile(b.Inode, "fb")
		require.NoError(t, err)
		require.NoError(t, fsys.SyncAll())

		require.NoError(t, fsys.WriteAt(fa.Inode, []byte("x"), 0))
		require.NoError(t, fsys.WriteAt(fb.Inode, []byte("y"), 0))

		require.NoError(t, fsys.Fsync(a.Inode))
		assert.Contains(t, backend.savedPaths(), "/a/fa")
		assert.NotContains(t, backend.savedPaths(), "/b/fb")

		dirty, _ := isDirty(t, fsys, fa.Inode)
		assert.False(t, dirty)
		dirty, _ = isDirty(t, fsys, fb.Inode)
		assert.True(t, dirty)
	})

	t.Run("clean subtree is a no-op", func(t *testing.T) {
		t.Parallel()
		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend})

		f, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		require.NoError(t, fsys.SyncAll())

		before := backend.saveCount()
		require.NoError(t, fsys.Fsync(f.Inode))
		assert.Equal(t, before, backend.saveCount())
	})
}

func TestAutosync(t *testing.T) {
	t.Parallel()

	t.Run("flushes after the quiet period", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend, AutosyncDelay: 50 * time.Millisecond})
		defer fsys.Close()

		f, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		require.NoError(t, fsys.WriteAt(f.Inode, []byte("x"), 0))

		g.Eventually(func() []string {
			return backend.savedPaths()
		}, 3*time.Second, 10*time.Millisecond).Should(ContainElement("/a"))
	})

	t.Run("coalesces a burst of writes into one flush", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend, AutosyncDelay: 150 * time.Millisecond})
		defer fsys.Close()

		f, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			require.NoError(t, fsys.WriteAt(f.Inode, []byte("x"), int64(i)))
			time.Sleep(20 * time.Millisecond)
		}

		g.Eventually(func() int {
			n := 0
			for _, p := range backend.savedPaths() {
				if p == "/a" {
					n++
				}
			}
			return n
		}, 3*time.Second, 10*time.Millisecond).Should(Equal(1))
	})

	t.Run("disabled when the delay is zero", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend})

		f, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		require.NoError(t, fsys.WriteAt(f.Inode, []byte("x"), 0))

		g.Consistently(func() int {
			return backend.saveCount()
		}, 200*time.Millisecond, 20*time.Millisecond).Should(BeZero())
	})
}

func TestClose(t *testing.T) {
	t.Parallel()

	t.Run("forces a final flush", func(t *testing.T) {
		t.Parallel()
		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend, AutosyncDelay: time.Hour})

		f, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		require.NoError(t, fsys.WriteAt(f.Inode, []byte("x"), 0))

		require.NoError(t, fsys.Close())
		assert.Contains(t, backend.savedPaths(), "/a")
	})

	t.Run("pending timer does not fire after close", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		backend := newRecordingBackend()
		fsys := New(Config{Backend: backend, AutosyncDelay: 50 * time.Millisecond})

		f, err := fsys.CreateFile(fuseops.RootInodeID, "a")
		require.NoError(t, err)
		require.NoError(t, fsys.WriteAt(f.Inode, []byte("x"), 0))
		require.NoError(t, fsys.Close())

		after := backend.saveCount()
		g.Consistently(func() int {
			return backend.saveCount()
		}, 200*time.Millisecond, 20*time.Millisecond).Should(Equal(after))
	})
}
