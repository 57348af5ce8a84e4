// Package vfs presents remote z/OS data sets as a virtual filesystem.
//
// A Provider caches the remote namespace lazily: one subtree per profile,
// holding partitioned data sets (containers) with their members, and
// sequential data sets (leaves). Addresses have the form
// /{profile}/{dataset}[/{member}] with optional query directives.
package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"zmfs/internal/connection"
	"zmfs/internal/dsname"
	"zmfs/internal/metrics"
)

// Remotes hands out the connection for a profile.
type Remotes interface {
	Connection(ctx context.Context, profile string) (connection.Connection, error)
	// Encoding is the profile's default text codepage, empty for the
	// server default.
	Encoding(profile string) string
}

// Provider implements filesystem operations over the cached remote
// namespace. Remote calls are made without holding the cache lock.
type Provider struct {
	remotes Remotes
	log     *zap.Logger

	mu      sync.Mutex
	root    *Entry
	fetches singleflight.Group

	watchMu   sync.Mutex
	watchers  map[int]func([]Event)
	nextWatch int
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider's logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Provider) {
		p.log = log
	}
}

func New(remotes Remotes, opts ...Option) *Provider {
	p := &Provider{
		remotes:  remotes,
		log:      zap.NewNop(),
		root:     newDir("", KindDir),
		watchers: make(map[int]func([]Event)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FileStat is the result of Stat. Ctime is always zero: the remote has no
// creation time distinct from allocation.
type FileStat struct {
	Kind  Kind
	Ctime time.Time
	Mtime time.Time
	Size  int64
}

// DirEntry is one row of ReadDirectory.
type DirEntry struct {
	Name string
	Kind Kind
}

// WriteOptions mirrors create/overwrite semantics of a file write.
type WriteOptions struct {
	Create    bool
	Overwrite bool
}

// RenameOptions controls Rename.
type RenameOptions struct {
	Overwrite bool
}

// Resolution selects how ResolveConflict settles a conflict.
type Resolution int

const (
	// ResolveOverwrite uploads the rejected bytes without a precondition.
	ResolveOverwrite Resolution = iota
	// ResolveDiscard drops the rejected bytes and adopts the remote copy.
	ResolveDiscard
)

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

// transferOptionsLocked resolves an entry's encoding into transfer options.
func (p *Provider) transferOptionsLocked(e *Entry) connection.TransferOptions {
	return p.transferOptions(e.Profile, e.Encoding)
}

func (p *Provider) transferOptions(profile string, enc Encoding) connection.TransferOptions {
	opts := connection.TransferOptions{Binary: enc.Binary, Encoding: enc.Codepage}
	if enc.IsDefault() {
		opts.Encoding = p.remotes.Encoding(profile)
	}
	return opts
}

// Entry returns a snapshot of the cached entry for uri without touching
// the remote.
func (p *Provider) Entry(uri string) (Info, bool) {
	addr, err := Parse(uri)
	if err != nil {
		return Info{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.lookupLocked(addr)
	if e == nil {
		return Info{}, false
	}
	return e.info(), true
}

// Stat returns type, modification time and size. The profile root is
// answered from the cache; other entries query the remote for their
// modification time and fall back to the cached values if that fails.
func (p *Provider) Stat(ctx context.Context, uri string) (FileStat, error) {
	addr, err := Parse(uri)
	if err != nil {
		return FileStat{}, err
	}
	e, err := p.resolve(ctx, addr)
	if err != nil {
		return FileStat{}, err
	}

	if !addr.IsProfileRoot() {
		mtime, err := p.remoteModTime(ctx, addr)
		if err != nil {
			p.log.Warn("stat using cached attributes", zap.String("uri", addr.String()), zap.Error(err))
		} else if !mtime.IsZero() {
			p.mu.Lock()
			e.Mtime = mtime
			p.mu.Unlock()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return FileStat{Kind: e.Kind, Mtime: e.Mtime, Size: e.Size}, nil
}

// remoteModTime queries the parent container for members and the data set
// itself otherwise.
func (p *Provider) remoteModTime(ctx context.Context, addr Address) (time.Time, error) {
	conn, err := p.conn(ctx, addr.Profile)
	if err != nil {
		return time.Time{}, err
	}

	container, leaf := addr.SplitPath()
	if container == "" {
		ds, err := conn.GetDataset(ctx, leaf)
		if err != nil {
			return time.Time{}, err
		}
		return ds.ModTime(), nil
	}

	members, err := conn.ListMembers(ctx, container, leaf)
	if err != nil {
		return time.Time{}, err
	}
	for i := range members {
		if members[i].Name == leaf {
			return members[i].ModTime(), nil
		}
	}
	return time.Time{}, fmt.Errorf("member %s: %w", addr.RemoteName(), connection.ErrNotFound)
}

// ReadDirectory syncs the directory with the remote once and returns its
// cached children sorted by name.
func (p *Provider) ReadDirectory(ctx context.Context, uri string) ([]DirEntry, error) {
	addr, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	e, err := p.resolve(ctx, addr)
	if err != nil {
		return nil, err
	}

	switch e.Kind {
	case KindLeaf:
		return nil, fmt.Errorf("%s: %w", addr, ErrNotDirectory)
	case KindFilter:
		if addr.Query.Pattern == "" {
			p.mu.Lock()
			pattern := e.Pattern
			p.mu.Unlock()
			if pattern != "" {
				if err := p.refreshFilter(ctx, e, pattern); err != nil {
					return nil, fmt.Errorf("list %s: %w", addr, err)
				}
			}
		}
	case KindContainer:
		conn, err := p.conn(ctx, addr.Profile)
		if err != nil {
			return nil, err
		}
		if err := p.refreshContainer(ctx, conn, e); err != nil {
			return nil, fmt.Errorf("list %s: %w", addr, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	children := e.sortedChildren()
	out := make([]DirEntry, 0, len(children))
	for _, c := range children {
		out = append(out, DirEntry{Name: c.Name, Kind: c.Kind})
	}
	return out, nil
}

// ReadFile returns a leaf's bytes. The first read fetches from the remote;
// later reads are served from the cache. A conflict read fetches the
// remote copy into the conflict side channel only.
func (p *Provider) ReadFile(ctx context.Context, uri string) ([]byte, error) {
	addr, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	e, err := p.resolve(ctx, addr)
	if err != nil {
		return nil, err
	}
	if e.Kind != KindLeaf {
		return nil, fmt.Errorf("%s: %w", addr, ErrIsDirectory)
	}

	if addr.Query.Conflict {
		return p.fetchConflict(ctx, addr, e)
	}

	p.mu.Lock()
	if e.WasAccessed {
		data := clone(e.Data)
		p.mu.Unlock()
		metrics.RecordCacheHit()
		return data, nil
	}
	p.mu.Unlock()

	v, err, _ := p.fetches.Do("read:"+addr.String(), func() (any, error) {
		return p.fetch(ctx, addr, e)
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]byte)), nil
}

func (p *Provider) fetch(ctx context.Context, addr Address, e *Entry) ([]byte, error) {
	p.mu.Lock()
	if e.WasAccessed {
		data := clone(e.Data)
		p.mu.Unlock()
		return data, nil
	}
	if addr.Query.Encoding != "" {
		e.Encoding = ParseEncoding(addr.Query.Encoding)
	}
	opts := p.transferOptionsLocked(e)
	e.State = Fetching
	p.mu.Unlock()

	metrics.RecordCacheMiss()
	content, err := p.readRemote(ctx, addr, opts)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		e.State = Unfetched
		return nil, err
	}
	e.Data = content.Data
	e.Etag = content.Etag
	e.Size = int64(len(content.Data))
	e.WasAccessed = true
	e.State = Synced
	p.log.Debug("fetched", zap.String("uri", addr.String()), zap.Int("bytes", len(content.Data)))
	return clone(e.Data), nil
}

func (p *Provider) readRemote(ctx context.Context, addr Address, opts connection.TransferOptions) (*connection.Content, error) {
	conn, err := p.conn(ctx, addr.Profile)
	if err != nil {
		return nil, err
	}
	content, err := conn.Read(ctx, addr.RemoteName(), opts)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			return nil, notFound(addr.String(), err)
		}
		return nil, fmt.Errorf("read %s: %w", addr, err)
	}
	return content, nil
}

func (p *Provider) fetchConflict(ctx context.Context, addr Address, e *Entry) ([]byte, error) {
	p.mu.Lock()
	opts := p.transferOptionsLocked(e)
	p.mu.Unlock()

	content, err := p.readRemote(ctx, addr, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	e.Conflict = &ConflictData{
		Contents: content.Data,
		Etag:     content.Etag,
		Size:     int64(len(content.Data)),
	}
	return clone(content.Data), nil
}

// Pending returns the bytes rejected by the last conflicting write.
func (p *Provider) Pending(uri string) ([]byte, bool) {
	addr, err := Parse(uri)
	if err != nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.lookupLocked(addr)
	if e == nil || e.State != Conflicted {
		return nil, false
	}
	return clone(e.Pending), true
}

// WriteFile uploads data to a leaf. Writes to known entries carry the
// cached etag as a precondition unless forceUpload is set. A stale etag
// leaves the cached data untouched and returns a *ConflictError.
func (p *Provider) WriteFile(ctx context.Context, uri string, data []byte, opts WriteOptions) error {
	addr, err := Parse(uri)
	if err != nil {
		return err
	}
	if addr.IsProfileRoot() {
		return fmt.Errorf("%s: %w", addr, ErrIsDirectory)
	}
	if addr.Query.InDiffView {
		p.log.Debug("write suppressed in diff view", zap.String("uri", addr.String()))
		return nil
	}

	e, err := p.resolve(ctx, addr)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	switch {
	case e == nil && !opts.Create:
		return err
	case e != nil && e.Kind != KindLeaf:
		return fmt.Errorf("%s: %w", addr, ErrIsDirectory)
	case e != nil && opts.Create && !opts.Overwrite:
		return fmt.Errorf("%s: %w", addr, ErrExists)
	case e == nil:
		return p.create(ctx, addr, data)
	}
	return p.update(ctx, addr, e, data)
}

func (p *Provider) create(ctx context.Context, addr Address, data []byte) error {
	container, leaf := addr.SplitPath()
	var parent *Entry
	if container != "" {
		if err := dsname.ValidateMember(leaf); err != nil {
			return err
		}
		c, err := p.resolve(ctx, addr.Parent())
		if err != nil {
			return err
		}
		if c.Kind != KindContainer {
			return fmt.Errorf("%s: %w", addr.Parent(), ErrNotDirectory)
		}
		parent = c
	} else if err := dsname.ValidateDataset(leaf); err != nil {
		return err
	}

	conn, err := p.conn(ctx, addr.Profile)
	if err != nil {
		return err
	}
	if container == "" {
		if err := conn.CreateDataset(ctx, leaf, DefaultSequentialAttributes()); err != nil {
			return fmt.Errorf("create %s: %w", addr, err)
		}
	}

	enc := ParseEncoding(addr.Query.Encoding)
	var etag string
	switch {
	case len(data) > 0:
		etag, err = conn.Write(ctx, addr.RemoteName(), data, p.transferOptions(addr.Profile, enc))
	case container != "":
		err = conn.CreateMember(ctx, addr.RemoteName())
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", addr, err)
	}

	p.mu.Lock()
	if parent == nil {
		parent = p.profileRootLocked(addr.Profile)
	}
	e := newLeaf(leaf)
	e.Data = clone(data)
	e.Etag = etag
	e.Size = int64(len(data))
	e.Mtime = time.Now()
	e.Encoding = enc
	e.WasAccessed = true
	e.State = Synced
	parent.add(e)
	p.mu.Unlock()

	p.log.Info("created", zap.String("uri", addr.String()), zap.Int("bytes", len(data)))
	p.emit(mutated(Created, addr)...)
	return nil
}

func (p *Provider) update(ctx context.Context, addr Address, e *Entry, data []byte) error {
	// An empty write to a never-read leaf is an editor truncating before
	// its real save; uploading it would wipe the remote copy. Forced
	// uploads still truncate.
	p.mu.Lock()
	if !e.WasAccessed && len(data) == 0 && !addr.Query.ForceUpload {
		e.Data = nil
		e.Size = 0
		e.Mtime = time.Now()
		e.WasAccessed = true
		e.State = Synced
		p.mu.Unlock()
		p.log.Debug("empty write kept local", zap.String("uri", addr.String()))
		p.emit(Event{Type: Changed, URI: addr.String()})
		return nil
	}
	p.mu.Unlock()

	conn, err := p.conn(ctx, addr.Profile)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if addr.Query.Encoding != "" {
		e.Encoding = ParseEncoding(addr.Query.Encoding)
	}
	opts := p.transferOptionsLocked(e)
	if !addr.Query.ForceUpload {
		opts.Etag = e.Etag
	}
	p.mu.Unlock()

	etag, err := conn.Write(ctx, addr.RemoteName(), data, opts)
	if err != nil {
		if errors.Is(err, connection.ErrPreconditionFailed) {
			p.mu.Lock()
			e.Pending = clone(data)
			e.State = Conflicted
			p.mu.Unlock()
			metrics.RecordConflict()
			p.log.Info("write conflict", zap.String("uri", addr.String()), zap.String("etag", opts.Etag))
			return &ConflictError{URI: addr.String(), Err: err}
		}
		return fmt.Errorf("write %s: %w", addr, err)
	}

	p.mu.Lock()
	e.Data = clone(data)
	e.Etag = etag
	e.Size = int64(len(data))
	e.Mtime = time.Now()
	e.WasAccessed = true
	e.State = Synced
	e.Pending = nil
	e.Conflict = nil
	p.mu.Unlock()

	p.emit(Event{Type: Changed, URI: addr.String()})
	return nil
}

// ResolveConflict settles a conflicted leaf.
func (p *Provider) ResolveConflict(ctx context.Context, uri string, r Resolution) error {
	addr, err := Parse(uri)
	if err != nil {
		return err
	}
	e, err := p.resolve(ctx, addr)
	if err != nil {
		return err
	}

	p.mu.Lock()
	state, pending := e.State, clone(e.Pending)
	opts := p.transferOptionsLocked(e)
	p.mu.Unlock()
	if state != Conflicted {
		return fmt.Errorf("%s: %w", addr, ErrNoConflict)
	}

	switch r {
	case ResolveOverwrite:
		q := addr.Query
		q.ForceUpload = true
		return p.update(ctx, addr.WithQuery(q), e, pending)
	case ResolveDiscard:
		content, err := p.readRemote(ctx, addr, opts)
		if err != nil {
			return err
		}
		p.mu.Lock()
		e.Data = content.Data
		e.Etag = content.Etag
		e.Size = int64(len(content.Data))
		e.WasAccessed = true
		e.State = Synced
		e.Pending = nil
		e.Conflict = nil
		p.mu.Unlock()
		p.emit(Event{Type: Changed, URI: addr.String()})
		return nil
	}
	return fmt.Errorf("unknown resolution %d", r)
}

// Delete removes the remote object and then its cached entry. Deleting a
// container removes all of its members. A failed remote delete leaves the
// cache untouched.
func (p *Provider) Delete(ctx context.Context, uri string) error {
	addr, err := Parse(uri)
	if err != nil {
		return err
	}
	if addr.IsProfileRoot() {
		return fmt.Errorf("cannot delete profile root %s", addr)
	}
	e, err := p.resolve(ctx, addr)
	if err != nil {
		return err
	}
	conn, err := p.conn(ctx, addr.Profile)
	if err != nil {
		return err
	}

	if err := conn.Delete(ctx, addr.RemoteName()); err != nil {
		p.log.Warn("delete failed", zap.String("uri", addr.String()), zap.Error(err))
		return fmt.Errorf("delete %s: %w", addr.RemoteName(), err)
	}

	p.mu.Lock()
	if e.parent != nil {
		e.parent.remove(e.Name)
	}
	p.mu.Unlock()

	p.log.Info("deleted", zap.String("uri", addr.String()))
	p.emit(mutated(Deleted, addr)...)
	return nil
}

// Rename renames a data set, or a member within its data set. The
// destination is checked against the cache before any remote call.
func (p *Provider) Rename(ctx context.Context, oldURI, newURI string, opts RenameOptions) error {
	oldAddr, err := Parse(oldURI)
	if err != nil {
		return err
	}
	newAddr, err := Parse(newURI)
	if err != nil {
		return err
	}
	if oldAddr.Profile != newAddr.Profile {
		return ErrCrossProfile
	}
	if oldAddr.IsProfileRoot() || newAddr.IsProfileRoot() {
		return fmt.Errorf("cannot rename profile root %s", oldAddr)
	}

	p.mu.Lock()
	dst := p.lookupLocked(newAddr)
	p.mu.Unlock()
	if dst != nil && !opts.Overwrite {
		return fmt.Errorf("%s: %w", newAddr, ErrExists)
	}

	oldContainer, oldLeaf := oldAddr.SplitPath()
	newContainer, newLeaf := newAddr.SplitPath()
	if oldContainer != newContainer {
		return fmt.Errorf("cannot rename %s to %s: members can only be renamed within their data set", oldAddr, newAddr)
	}
	if oldContainer == "" {
		err = dsname.ValidateDataset(newLeaf)
	} else {
		err = dsname.ValidateMember(newLeaf)
	}
	if err != nil {
		return err
	}

	e, err := p.resolve(ctx, oldAddr)
	if err != nil {
		return err
	}
	conn, err := p.conn(ctx, oldAddr.Profile)
	if err != nil {
		return err
	}

	if oldContainer == "" {
		err = conn.RenameDataset(ctx, oldLeaf, newLeaf)
	} else {
		err = conn.RenameMember(ctx, oldContainer, oldLeaf, newLeaf)
	}
	if err != nil {
		return fmt.Errorf("rename %s: %w", oldAddr.RemoteName(), err)
	}

	p.mu.Lock()
	if parent := e.parent; parent != nil {
		parent.remove(e.Name)
		parent.remove(newLeaf)
		e.Name = newLeaf
		parent.add(e)
	}
	p.mu.Unlock()

	p.log.Info("renamed", zap.String("from", oldAddr.String()), zap.String("to", newAddr.String()))
	p.emit(append(mutated(Deleted, oldAddr), Event{Type: Created, URI: newAddr.String()})...)
	return nil
}

// CreateDirectory allocates a partitioned data set with default attributes.
// Members cannot hold children, so only profile-level addresses are valid.
func (p *Provider) CreateDirectory(ctx context.Context, uri string) error {
	addr, err := Parse(uri)
	if err != nil {
		return err
	}
	if addr.IsProfileRoot() {
		return fmt.Errorf("%s: %w", addr, ErrExists)
	}
	if addr.IsMember() {
		return fmt.Errorf("cannot create %s: partitioned data sets do not nest", addr)
	}
	name := addr.DottedName()
	if err := dsname.ValidateDataset(name); err != nil {
		return err
	}

	p.mu.Lock()
	exists := p.lookupLocked(addr) != nil
	p.mu.Unlock()
	if exists {
		return fmt.Errorf("%s: %w", addr, ErrExists)
	}

	conn, err := p.conn(ctx, addr.Profile)
	if err != nil {
		return err
	}
	if err := conn.CreateDataset(ctx, name, DefaultPartitionedAttributes()); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	p.mu.Lock()
	c := newDir(name, KindContainer)
	c.Mtime = time.Now()
	c.WasAccessed = true
	p.profileRootLocked(addr.Profile).add(c)
	p.mu.Unlock()

	p.log.Info("allocated", zap.String("dataset", name))
	p.emit(mutated(Created, addr)...)
	return nil
}
