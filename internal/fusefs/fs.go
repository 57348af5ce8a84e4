// Package fusefs mounts a vfs.Provider as a FUSE filesystem.
//
// The mount root lists one directory per configured profile. Partitioned
// data sets are directories under their profile and sequential data sets
// and members are regular files.
package fusefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"zmfs/internal/connection"
	"zmfs/internal/dsname"
	"zmfs/internal/vfs"
)

// renameNoReplace is RENAME_NOREPLACE from renameat2(2).
const renameNoReplace = 1

// Profile is one top-level directory of the mount.
type Profile struct {
	Name string
	// Pattern is the comma separated listing filter for the profile root.
	Pattern string
}

// Config holds mount options.
type Config struct {
	Profiles   []Profile
	AllowOther bool
	Debug      bool
}

// FS is the mounted filesystem.
type FS struct {
	p     *vfs.Provider
	mover *vfs.Mover
	cfg   Config
	log   *zap.Logger
}

func New(p *vfs.Provider, cfg Config, log *zap.Logger) *FS {
	if log == nil {
		log = zap.NewNop()
	}
	f := &FS{p: p, cfg: cfg, log: log}
	f.mover = vfs.NewMover(p, vfs.ReporterFunc(func(name string, err error) {
		f.log.Warn("move item failed", zap.String("name", name), zap.Error(err))
	}))
	return f
}

// Root returns the mount root node.
func (f *FS) Root() *Node {
	return &Node{fsys: f, kind: vfs.KindDir}
}

// Mount mounts the filesystem at mountPoint.
func (f *FS) Mount(mountPoint string) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mount point: %w", err)
	}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: f.cfg.AllowOther,
			Debug:      f.cfg.Debug,
			FsName:     "zmfs",
			Name:       "zmfs",
		},
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
	}

	server, err := fs.Mount(mountPoint, f.Root(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to mount %s: %w", mountPoint, err)
	}
	f.log.Info("mounted", zap.String("mountpoint", mountPoint), zap.Int("profiles", len(f.cfg.Profiles)))
	return server, nil
}

func (f *FS) profile(name string) (Profile, bool) {
	for _, p := range f.cfg.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Node is a directory or file of the mount. The mount root has an empty
// uri; every other node carries its vfs address.
type Node struct {
	fs.Inode

	fsys *FS
	uri  string
	kind vfs.Kind
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)

func (n *Node) isMountRoot() bool {
	return n.uri == ""
}

func (n *Node) childURI(name string) string {
	if n.isMountRoot() {
		return "/" + name
	}
	return vfs.MustParse(n.uri).Child(name).String()
}

// listURI is the address used to list n; profile roots carry their filter.
func (n *Node) listURI() string {
	if n.kind != vfs.KindFilter {
		return n.uri
	}
	addr := vfs.MustParse(n.uri)
	if p, ok := n.fsys.profile(addr.Profile); ok && p.Pattern != "" {
		return addr.WithQuery(vfs.Query{Pattern: p.Pattern}).URI()
	}
	return n.uri
}

func (n *Node) newChild(ctx context.Context, uri string, kind vfs.Kind, migrated bool) *fs.Inode {
	child := &Node{fsys: n.fsys, uri: uri, kind: kind}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: modeFor(kind, migrated) & syscall.S_IFMT})
}

func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	if n.isMountRoot() {
		out.Mode = modeFor(vfs.KindDir, false)
		return 0
	}
	if h, ok := fh.(*Handle); ok && h.writable {
		out.Mode = modeFor(vfs.KindLeaf, false)
		out.Size = uint64(h.size())
		return 0
	}

	st, err := n.fsys.p.Stat(ctx, n.uri)
	if err != nil {
		return n.fsys.errno("stat", n.uri, err)
	}
	info, _ := n.fsys.p.Entry(n.uri)
	fillAttr(&out.Attr, st.Kind, info.Migrated, st.Size, st.Mtime)
	return 0
}

func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.kind == vfs.KindLeaf {
		return nil, syscall.ENOTDIR
	}
	if n.isMountRoot() {
		if _, ok := n.fsys.profile(name); !ok {
			return nil, syscall.ENOENT
		}
		out.Mode = modeFor(vfs.KindFilter, false)
		return n.newChild(ctx, "/"+name, vfs.KindFilter, false), 0
	}

	uri := n.childURI(name)
	st, err := n.fsys.p.Stat(ctx, uri)
	if err != nil {
		return nil, n.fsys.errno("lookup", uri, err)
	}
	info, _ := n.fsys.p.Entry(uri)
	fillAttr(&out.Attr, st.Kind, info.Migrated, st.Size, st.Mtime)
	return n.newChild(ctx, uri, st.Kind, info.Migrated), 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	if n.kind == vfs.KindLeaf {
		return nil, syscall.ENOTDIR
	}

	var entries []gofuse.DirEntry
	if n.isMountRoot() {
		for _, p := range n.fsys.cfg.Profiles {
			entries = append(entries, gofuse.DirEntry{Name: p.Name, Mode: modeFor(vfs.KindFilter, false)})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		return fs.NewListDirStream(entries), 0
	}

	list, err := n.fsys.p.ReadDirectory(ctx, n.listURI())
	if err != nil {
		return nil, n.fsys.errno("readdir", n.uri, err)
	}
	for _, e := range list {
		info, _ := n.fsys.p.Entry(n.childURI(e.Name))
		entries = append(entries, gofuse.DirEntry{Name: e.Name, Mode: modeFor(e.Kind, info.Migrated)})
	}
	return fs.NewListDirStream(entries), 0
}

// Open returns a handle for leaves. Sizes of unread leaves are unknown
// until their first fetch, so content is served with direct I/O.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.kind != vfs.KindLeaf {
		return nil, 0, syscall.EISDIR
	}

	h := &Handle{node: n}
	switch {
	case flags&syscall.O_TRUNC != 0:
		h.dirty = true
	case flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0:
		data, err := n.fsys.p.ReadFile(ctx, n.uri)
		if err != nil {
			return nil, 0, n.fsys.errno("open", n.uri, err)
		}
		h.buf = data
	}
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		h.writable = true
	}
	return h, gofuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	if h, ok := fh.(*Handle); ok && h.writable {
		return h.Read(ctx, dest, off)
	}
	data, err := n.fsys.p.ReadFile(ctx, n.uri)
	if err != nil {
		return nil, n.fsys.errno("read", n.uri, err)
	}
	return gofuse.ReadResultData(sliceAt(data, dest, off)), 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.kind != vfs.KindContainer && n.kind != vfs.KindFilter {
		return nil, nil, 0, syscall.ENOTDIR
	}

	uri := n.childURI(name)
	if err := n.fsys.p.WriteFile(ctx, uri, nil, vfs.WriteOptions{Create: true}); err != nil {
		return nil, nil, 0, n.fsys.errno("create", uri, err)
	}

	now := time.Now()
	fillAttr(&out.Attr, vfs.KindLeaf, false, 0, now)
	child := &Node{fsys: n.fsys, uri: uri, kind: vfs.KindLeaf}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG})
	return inode, &Handle{node: child, writable: true}, gofuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.kind != vfs.KindFilter {
		return nil, syscall.EPERM
	}
	uri := n.childURI(name)
	if err := n.fsys.p.CreateDirectory(ctx, uri); err != nil {
		return nil, n.fsys.errno("mkdir", uri, err)
	}
	fillAttr(&out.Attr, vfs.KindContainer, false, 0, time.Now())
	return n.newChild(ctx, uri, vfs.KindContainer, false), 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.isMountRoot() {
		return syscall.EPERM
	}
	uri := n.childURI(name)
	if info, ok := n.fsys.p.Entry(uri); ok && info.Kind != vfs.KindLeaf {
		return syscall.EISDIR
	}
	return n.fsys.errno("unlink", uri, n.fsys.p.Delete(ctx, uri))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.kind != vfs.KindFilter {
		return syscall.ENOTDIR
	}
	uri := n.childURI(name)
	st, err := n.fsys.p.Stat(ctx, uri)
	if err != nil {
		return n.fsys.errno("rmdir", uri, err)
	}
	if st.Kind != vfs.KindContainer {
		return syscall.ENOTDIR
	}
	return n.fsys.errno("rmdir", uri, n.fsys.p.Delete(ctx, uri))
}

// Setattr supports truncation through an open handle; other attribute
// changes are accepted and ignored.
func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	if sz, ok := in.GetSize(); ok {
		h, ok := fh.(*Handle)
		if !ok || !h.writable {
			return syscall.EACCES
		}
		h.truncate(int64(sz))
	}
	return n.Getattr(ctx, fh, out)
}

// Rename renames within a directory and moves across directories,
// including across profiles.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*Node)
	if !ok || n.isMountRoot() || target.isMountRoot() {
		return syscall.EPERM
	}
	from, to := n.childURI(name), target.childURI(newName)

	if n.uri == target.uri {
		opts := vfs.RenameOptions{Overwrite: flags&renameNoReplace == 0}
		return n.fsys.errno("rename", from, n.fsys.p.Rename(ctx, from, to, opts))
	}

	if flags&renameNoReplace != 0 {
		if _, err := n.fsys.p.Stat(ctx, to); err == nil {
			return syscall.EEXIST
		}
	}
	moved, err := n.fsys.mover.Move(ctx, from, to, false)
	if err != nil {
		return n.fsys.errno("move", from, err)
	}
	if !moved {
		return syscall.EIO
	}
	return 0
}

// Handle buffers the bytes of an open leaf and uploads them on flush.
type Handle struct {
	node *Node

	mu       sync.Mutex
	buf      []byte
	writable bool
	dirty    bool
}

var _ fs.FileHandle = (*Handle)(nil)
var _ fs.FileReader = (*Handle)(nil)
var _ fs.FileWriter = (*Handle)(nil)
var _ fs.FileFlusher = (*Handle)(nil)
var _ fs.FileReleaser = (*Handle)(nil)

func (h *Handle) size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.buf))
}

func (h *Handle) truncate(size int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = resize(h.buf, size)
	h.dirty = true
}

func (h *Handle) Read(ctx context.Context, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return gofuse.ReadResultData(sliceAt(h.buf, dest, off)), 0
}

func (h *Handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.writable {
		return 0, syscall.EBADF
	}
	h.buf = writeAt(h.buf, data, off)
	h.dirty = true
	return uint32(len(data)), 0
}

// Flush uploads the buffer. A write rejected because the remote changed
// since the leaf was read is reported as ESTALE; the rejected bytes stay
// pending on the entry until resolved.
func (h *Handle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return 0
	}

	n := h.node
	if err := n.fsys.p.WriteFile(ctx, n.uri, h.buf, vfs.WriteOptions{Overwrite: true}); err != nil {
		return n.fsys.errno("flush", n.uri, err)
	}
	h.dirty = false
	n.fsys.log.Debug("uploaded", zap.String("uri", n.uri), zap.Int("bytes", len(h.buf)))
	return 0
}

func (h *Handle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = nil
	return 0
}

// errno logs err and maps it to the errno reported to the kernel.
func (f *FS) errno(op, uri string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	e := toErrno(err)
	if e == syscall.ENOENT {
		f.log.Debug(op+" failed", zap.String("uri", uri), zap.Error(err))
	} else {
		f.log.Warn(op+" failed", zap.String("uri", uri), zap.Error(err))
	}
	return e
}

func toErrno(err error) syscall.Errno {
	var dsErr *dsname.Error
	switch {
	case err == nil:
		return 0
	case errors.Is(err, vfs.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, vfs.ErrNotFound), errors.Is(err, connection.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, vfs.ErrExists), errors.Is(err, connection.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, vfs.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, vfs.ErrCrossProfile):
		return syscall.EXDEV
	case errors.Is(err, connection.ErrPreconditionFailed):
		return syscall.ESTALE
	case errors.Is(err, connection.ErrUnsupported):
		return syscall.ENOTSUP
	case errors.As(err, &dsErr):
		return syscall.EINVAL
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	}
	return syscall.EIO
}

// modeFor returns the file mode of an entry. Migrated data sets carry the
// sticky bit and no write permission.
func modeFor(kind vfs.Kind, migrated bool) uint32 {
	switch {
	case kind.IsDir():
		return 0755 | syscall.S_IFDIR
	case migrated:
		return 0444 | syscall.S_IFREG | syscall.S_ISVTX
	}
	return 0644 | syscall.S_IFREG
}

func fillAttr(out *gofuse.Attr, kind vfs.Kind, migrated bool, size int64, mtime time.Time) {
	out.Mode = modeFor(kind, migrated)
	out.Size = uint64(size)
	if !mtime.IsZero() {
		out.Mtime = uint64(mtime.Unix())
		out.Atime = out.Mtime
		out.Ctime = out.Mtime
	}
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
}

// sliceAt copies data[off:] into dest and returns the filled prefix.
func sliceAt(data, dest []byte, off int64) []byte {
	if off >= int64(len(data)) {
		return dest[:0]
	}
	n := copy(dest, data[off:])
	return dest[:n]
}

// writeAt writes data into buf at off, growing buf with zeros as needed.
func writeAt(buf, data []byte, off int64) []byte {
	end := off + int64(len(data))
	if end > int64(len(buf)) {
		buf = resize(buf, end)
	}
	copy(buf[off:], data)
	return buf
}

func resize(buf []byte, size int64) []byte {
	if size <= int64(len(buf)) {
		return buf[:size]
	}
	grown := make([]byte, size)
	copy(grown, buf)
	return grown
}
