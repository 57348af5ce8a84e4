package fusefs

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zmfs/internal/connection"
	"zmfs/internal/dsname"
	"zmfs/internal/testutil"
	"zmfs/internal/vfs"
)

func newTestFS(t *testing.T) (*FS, *testutil.FakeRemote) {
	t.Helper()
	remote := testutil.NewFakeRemote()
	p := vfs.New(testutil.Single("dev", remote))
	return New(p, Config{Profiles: []Profile{{Name: "dev", Pattern: "USER.*"}}}, nil), remote
}

func names(t *testing.T, ds fs.DirStream) []string {
	t.Helper()
	var out []string
	for ds.HasNext() {
		e, errno := ds.Next()
		require.Equal(t, syscall.Errno(0), errno)
		out = append(out, e.Name)
	}
	return out
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"not found", fmt.Errorf("x: %w", vfs.ErrNotFound), syscall.ENOENT},
		{"remote not found", &connection.APIError{StatusCode: 404}, syscall.ENOENT},
		{"not directory", vfs.ErrNotDirectory, syscall.ENOTDIR},
		{"exists", vfs.ErrExists, syscall.EEXIST},
		{"remote exists", fmt.Errorf("create: %w", connection.ErrExists), syscall.EEXIST},
		{"is directory", vfs.ErrIsDirectory, syscall.EISDIR},
		{"cross profile", vfs.ErrCrossProfile, syscall.EXDEV},
		{"conflict", &vfs.ConflictError{URI: "/dev/A", Err: connection.ErrPreconditionFailed}, syscall.ESTALE},
		{"unsupported", connection.ErrUnsupported, syscall.ENOTSUP},
		{"invalid name", &dsname.Error{Name: "1A", Reason: "bad"}, syscall.EINVAL},
		{"cancelled", context.Canceled, syscall.EINTR},
		{"other", errors.New("boom"), syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toErrno(tt.err))
		})
	}
}

func TestModeFor(t *testing.T) {
	assert.Equal(t, uint32(0755|syscall.S_IFDIR), modeFor(vfs.KindContainer, false))
	assert.Equal(t, uint32(0755|syscall.S_IFDIR), modeFor(vfs.KindFilter, false))
	assert.Equal(t, uint32(0644|syscall.S_IFREG), modeFor(vfs.KindLeaf, false))

	migrated := modeFor(vfs.KindLeaf, true)
	assert.NotZero(t, migrated&syscall.S_ISVTX)
	assert.Zero(t, migrated&0222)
}

func TestBufferHelpers(t *testing.T) {
	buf := writeAt(nil, []byte("abc"), 2)
	assert.Equal(t, []byte{0, 0, 'a', 'b', 'c'}, buf)
	buf = writeAt(buf, []byte("X"), 0)
	assert.Equal(t, "X\x00abc", string(buf))

	dest := make([]byte, 3)
	assert.Equal(t, "\x00ab", string(sliceAt(buf, dest, 1)))
	assert.Empty(t, sliceAt(buf, dest, 10))

	assert.Equal(t, "X\x00", string(resize(buf, 2)))
	assert.Len(t, resize([]byte("a"), 4), 4)
}

func TestRootReaddir(t *testing.T) {
	f, _ := newTestFS(t)
	f.cfg.Profiles = append(f.cfg.Profiles, Profile{Name: "alpha"})

	ds, errno := f.Root().Readdir(context.Background())
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, []string{"alpha", "dev"}, names(t, ds))
}

func TestProfileReaddirUsesPattern(t *testing.T) {
	f, remote := newTestFS(t)
	remote.AddPDS("USER.PDS", map[string]string{"M1": "x"})
	remote.AddSequential("OTHER.DATA", "y")
	n := &Node{fsys: f, uri: "/dev", kind: vfs.KindFilter}

	assert.Equal(t, "/dev?pattern=USER.%2A", n.listURI())
	ds, errno := n.Readdir(context.Background())
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, []string{"USER.PDS"}, names(t, ds))

	pds := &Node{fsys: f, uri: "/dev/USER.PDS", kind: vfs.KindContainer}
	ds, errno = pds.Readdir(context.Background())
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, []string{"M1"}, names(t, ds))
}

func TestHandleFlush(t *testing.T) {
	f, remote := newTestFS(t)
	remote.AddPDS("USER.PDS", map[string]string{"M1": "old"})
	ctx := context.Background()
	n := &Node{fsys: f, uri: "/dev/USER.PDS/M1", kind: vfs.KindLeaf}

	fh, _, errno := n.Open(ctx, syscall.O_RDWR)
	require.Equal(t, syscall.Errno(0), errno)
	h := fh.(*Handle)

	written, errno := h.Write(ctx, []byte("new"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(3), written)
	require.Equal(t, syscall.Errno(0), h.Flush(ctx))

	content, _ := remote.Content("USER.PDS(M1)")
	assert.Equal(t, "new", content)
	assert.Equal(t, syscall.Errno(0), h.Release(ctx))
}

func TestHandleFlushConflict(t *testing.T) {
	f, remote := newTestFS(t)
	remote.AddSequential("USER.DATA", "v1")
	ctx := context.Background()
	n := &Node{fsys: f, uri: "/dev/USER.DATA", kind: vfs.KindLeaf}

	fh, _, errno := n.Open(ctx, syscall.O_RDWR)
	require.Equal(t, syscall.Errno(0), errno)
	remote.Modify("USER.DATA", "v2")

	h := fh.(*Handle)
	_, errno = h.Write(ctx, []byte("v3"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, syscall.ESTALE, h.Flush(ctx))

	pending, ok := f.p.Pending("/dev/USER.DATA")
	require.True(t, ok)
	assert.Equal(t, "v3", string(pending))
}

func TestReadOnlyHandle(t *testing.T) {
	f, remote := newTestFS(t)
	remote.AddSequential("USER.DATA", "hello")
	ctx := context.Background()
	n := &Node{fsys: f, uri: "/dev/USER.DATA", kind: vfs.KindLeaf}

	fh, _, errno := n.Open(ctx, syscall.O_RDONLY)
	require.Equal(t, syscall.Errno(0), errno)
	_, errno = fh.(*Handle).Write(ctx, []byte("x"), 0)
	assert.Equal(t, syscall.EBADF, errno)

	dest := make([]byte, 16)
	res, errno := n.Read(ctx, fh, dest, 1)
	require.Equal(t, syscall.Errno(0), errno)
	data, _ := res.Bytes(dest)
	assert.Equal(t, "ello", string(data))

	dir := &Node{fsys: f, uri: "/dev/USER.PDS", kind: vfs.KindContainer}
	_, _, errno = dir.Open(ctx, syscall.O_RDONLY)
	assert.Equal(t, syscall.EISDIR, errno)
}

func TestUnlinkAndRename(t *testing.T) {
	f, remote := newTestFS(t)
	remote.AddPDS("USER.PDS", map[string]string{"M1": "a", "M2": "b"})
	remote.AddPDS("USER.OTHER", nil)
	ctx := context.Background()
	pds := &Node{fsys: f, uri: "/dev/USER.PDS", kind: vfs.KindContainer}
	other := &Node{fsys: f, uri: "/dev/USER.OTHER", kind: vfs.KindContainer}

	require.Equal(t, syscall.Errno(0), pds.Unlink(ctx, "M2"))
	assert.Equal(t, []string{"M1"}, remote.MemberNames("USER.PDS"))
	assert.Equal(t, syscall.ENOENT, pds.Unlink(ctx, "NOPE"))

	require.Equal(t, syscall.Errno(0), pds.Rename(ctx, "M1", pds, "M3", 0))
	assert.Equal(t, []string{"M3"}, remote.MemberNames("USER.PDS"))

	require.Equal(t, syscall.Errno(0), pds.Rename(ctx, "M3", other, "M3", 0))
	assert.Empty(t, remote.MemberNames("USER.PDS"))
	content, _ := remote.Content("USER.OTHER(M3)")
	assert.Equal(t, "a", content)
}
