package vfs

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"zmfs/internal/connection"
	"zmfs/internal/dsname"
)

func (p *Provider) conn(ctx context.Context, profile string) (connection.Connection, error) {
	return p.remotes.Connection(ctx, profile)
}

// profileRootLocked returns the profile entry, creating it on first use.
func (p *Provider) profileRootLocked(profile string) *Entry {
	if e := p.root.child(profile); e != nil {
		return e
	}
	e := newDir(profile, KindFilter)
	p.root.add(e)
	return e
}

// lookupLocked walks the cache without touching the remote.
func (p *Provider) lookupLocked(addr Address) *Entry {
	root := p.root.child(addr.Profile)
	if root == nil {
		return nil
	}
	if addr.IsProfileRoot() {
		return root
	}
	container, leaf := addr.SplitPath()
	if container == "" {
		return root.child(leaf)
	}
	if c := root.child(container); c != nil {
		return c.child(leaf)
	}
	return nil
}

// entryFromDataset classifies a listing row. Organizations other than
// partitioned and sequential are not represented and yield nil.
func entryFromDataset(ds connection.Dataset) *Entry {
	var e *Entry
	switch {
	case ds.Migrated:
		e = newLeaf(ds.Name)
		e.Migrated = true
	case ds.IsPartitioned():
		e = newDir(ds.Name, KindContainer)
	case ds.IsSequential():
		e = newLeaf(ds.Name)
	default:
		return nil
	}
	e.Mtime = ds.ModTime()
	return e
}

// splitPatterns normalizes a comma separated pattern list.
func splitPatterns(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, pat := range strings.Split(s, ",") {
		pat = dsname.Normalize(pat)
		if pat == "" || seen[pat] {
			continue
		}
		seen[pat] = true
		out = append(out, pat)
	}
	return out
}

// resolve returns the entry for addr. A cache miss is filled from the
// remote; any failure is reported as not found with the remote cause
// wrapped.
func (p *Provider) resolve(ctx context.Context, addr Address) (*Entry, error) {
	if addr.IsProfileRoot() {
		p.mu.Lock()
		root := p.profileRootLocked(addr.Profile)
		p.mu.Unlock()

		if addr.Query.Pattern != "" {
			if err := p.refreshFilter(ctx, root, addr.Query.Pattern); err != nil {
				return nil, notFound(addr.String(), err)
			}
		}
		return root, nil
	}

	p.mu.Lock()
	e := p.lookupLocked(addr)
	p.mu.Unlock()
	if e != nil {
		return e, nil
	}

	v, err, _ := p.fetches.Do("resolve:"+addr.String(), func() (any, error) {
		return p.materialize(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// materialize classifies a missing address against the remote and inserts
// the matching entry. Containers get their member listing populated one
// level deep.
func (p *Provider) materialize(ctx context.Context, addr Address) (*Entry, error) {
	conn, err := p.conn(ctx, addr.Profile)
	if err != nil {
		return nil, notFound(addr.String(), err)
	}

	container, leaf := addr.SplitPath()
	dsn := leaf
	if container != "" {
		dsn = container
	}

	p.mu.Lock()
	root := p.profileRootLocked(addr.Profile)
	e := root.child(dsn)
	p.mu.Unlock()

	if e == nil {
		ds, err := conn.GetDataset(ctx, dsn)
		if err != nil {
			if !errors.Is(err, connection.ErrNotFound) {
				p.log.Warn("attribute query failed", zap.String("dataset", dsn), zap.Error(err))
			}
			return nil, notFound(addr.String(), err)
		}
		e = entryFromDataset(*ds)
		if e == nil {
			p.log.Debug("unsupported organization", zap.String("dataset", dsn), zap.String("dsorg", ds.Dsorg))
			return nil, notFound(addr.String(), nil)
		}

		p.mu.Lock()
		if existing := root.child(e.Name); existing != nil {
			e = existing
		} else {
			root.add(e)
		}
		p.mu.Unlock()
		p.log.Debug("materialized", zap.String("profile", addr.Profile), zap.String("dataset", dsn), zap.Stringer("kind", e.Kind))
	}

	if e.Kind == KindContainer {
		if err := p.refreshContainer(ctx, conn, e); err != nil {
			return nil, notFound(addr.String(), err)
		}
	}
	if container == "" {
		return e, nil
	}
	if e.Kind != KindContainer {
		return nil, notFound(addr.String(), nil)
	}

	p.mu.Lock()
	m := e.child(leaf)
	p.mu.Unlock()
	if m == nil {
		return nil, notFound(addr.String(), nil)
	}
	return m, nil
}

// refreshFilter lists each pattern and inserts rows not already cached.
// Existing entries keep their identity and cached bytes.
func (p *Provider) refreshFilter(ctx context.Context, root *Entry, pattern string) error {
	conn, err := p.conn(ctx, root.Profile)
	if err != nil {
		return err
	}

	patterns := splitPatterns(pattern)
	var rows []connection.Dataset
	for _, pat := range patterns {
		ds, err := conn.ListDatasets(ctx, pat)
		if err != nil {
			p.log.Warn("list failed", zap.String("profile", root.Profile), zap.String("pattern", pat), zap.Error(err))
			return err
		}
		rows = append(rows, ds...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	root.Pattern = strings.Join(patterns, ",")
	added := 0
	for _, ds := range rows {
		if root.child(ds.Name) != nil {
			continue
		}
		if e := entryFromDataset(ds); e != nil {
			root.add(e)
			added++
		}
	}
	root.WasAccessed = true
	p.log.Debug("filter refreshed", zap.String("profile", root.Profile), zap.Strings("patterns", patterns),
		zap.Int("rows", len(rows)), zap.Int("added", added))
	return nil
}

// refreshContainer syncs a container's member set with the remote listing.
// Members still present keep their entry; members gone remotely are dropped.
func (p *Provider) refreshContainer(ctx context.Context, conn connection.Connection, c *Entry) error {
	p.mu.Lock()
	name := c.Name
	p.mu.Unlock()

	members, err := conn.ListMembers(ctx, name, "")
	if err != nil {
		p.log.Warn("member list failed", zap.String("dataset", name), zap.Error(err))
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool, len(members))
	for i := range members {
		m := &members[i]
		seen[m.Name] = true
		if existing := c.child(m.Name); existing != nil {
			if !existing.WasAccessed {
				existing.Mtime = m.ModTime()
			}
			continue
		}
		leaf := newLeaf(m.Name)
		leaf.Mtime = m.ModTime()
		c.add(leaf)
	}
	for n := range c.children {
		if !seen[n] {
			c.remove(n)
		}
	}
	c.WasAccessed = true
	return nil
}

// invalidate drops cached bytes for addr so the next read refetches. It
// reports whether an entry was cached.
func (p *Provider) invalidate(addr Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.lookupLocked(addr)
	if e == nil {
		return false
	}
	if e.Kind == KindLeaf {
		e.Data = nil
		e.Etag = ""
		e.WasAccessed = false
		e.State = Unfetched
		e.Conflict = nil
		e.Pending = nil
	}
	return true
}

// addContainer caches a container known to exist remotely.
func (p *Provider) addContainer(profile, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	root := p.profileRootLocked(profile)
	if root.child(name) != nil {
		return
	}
	root.add(newDir(name, KindContainer))
}

// forget drops the cached entry for addr.
func (p *Provider) forget(addr Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.lookupLocked(addr); e != nil && e.parent != nil {
		e.parent.remove(e.Name)
	}
}

// memberExists asks the remote whether a member exists.
func memberExists(ctx context.Context, conn connection.Connection, dataset, member string) (bool, error) {
	members, err := conn.ListMembers(ctx, dataset, member)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for i := range members {
		if members[i].Name == member {
			return true, nil
		}
	}
	return false, nil
}

// datasetExists asks the remote whether a data set exists.
func datasetExists(ctx context.Context, conn connection.Connection, name string) (bool, error) {
	_, err := conn.GetDataset(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, connection.ErrNotFound):
		return false, nil
	}
	return false, err
}
