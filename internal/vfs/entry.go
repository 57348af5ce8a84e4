package vfs

import (
	"sort"
	"time"
)

// Kind discriminates the entry variants.
type Kind int

const (
	// KindDir is the cache root.
	KindDir Kind = iota
	// KindFilter is a profile root, optionally constrained by a listing pattern.
	KindFilter
	// KindContainer is a partitioned data set.
	KindContainer
	// KindLeaf is a sequential data set or a member.
	KindLeaf
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFilter:
		return "filter"
	case KindContainer:
		return "container"
	case KindLeaf:
		return "leaf"
	}
	return "unknown"
}

// IsDir reports whether entries of this kind hold children.
func (k Kind) IsDir() bool {
	return k != KindLeaf
}

// AccessState tracks a leaf's relationship to its remote bytes.
type AccessState int

const (
	Unfetched AccessState = iota
	Fetching
	Synced
	Conflicted
)

func (s AccessState) String() string {
	switch s {
	case Unfetched:
		return "unfetched"
	case Fetching:
		return "fetching"
	case Synced:
		return "synced"
	case Conflicted:
		return "conflicted"
	}
	return "unknown"
}

// Encoding is the transfer mode of a leaf.
type Encoding struct {
	// Binary transfers bytes unconverted.
	Binary bool
	// Codepage names an explicit text codepage. Empty with Binary unset
	// means the profile default.
	Codepage string
}

// ParseEncoding reads the encoding query directive.
func ParseEncoding(s string) Encoding {
	switch s {
	case "":
		return Encoding{}
	case "binary":
		return Encoding{Binary: true}
	}
	return Encoding{Codepage: s}
}

// IsDefault reports whether the profile default applies.
func (e Encoding) IsDefault() bool {
	return !e.Binary && e.Codepage == ""
}

// Directive renders the encoding as a query directive value.
func (e Encoding) Directive() string {
	if e.Binary {
		return "binary"
	}
	return e.Codepage
}

// ConflictData is the remote side of a pending conflict.
type ConflictData struct {
	Contents []byte
	Etag     string
	Size     int64
}

// Entry is one cached node of the remote namespace. Entries are only
// touched with the owning Provider's lock held.
type Entry struct {
	Name  string
	Kind  Kind
	Mtime time.Time
	Size  int64

	Profile string
	// Path is the canonical remote path without the profile: DS or DS/MEMBER.
	Path string

	WasAccessed bool

	// Filter state.
	Pattern string

	// Leaf state.
	Data     []byte
	Etag     string
	IsMember bool
	Migrated bool
	Encoding Encoding
	State    AccessState
	Conflict *ConflictData
	// Pending holds bytes rejected by a stale-etag write.
	Pending []byte

	// parent is a lookup aid for path recomputation, not ownership.
	parent   *Entry
	children map[string]*Entry
}

func newDir(name string, kind Kind) *Entry {
	return &Entry{Name: name, Kind: kind, children: make(map[string]*Entry)}
}

func newLeaf(name string) *Entry {
	return &Entry{Name: name, Kind: KindLeaf}
}

// child looks up a direct child by name.
func (e *Entry) child(name string) *Entry {
	if e.children == nil {
		return nil
	}
	return e.children[name]
}

// add inserts c under e, fixing up its identity fields.
func (e *Entry) add(c *Entry) {
	if e.children == nil {
		e.children = make(map[string]*Entry)
	}
	c.parent = e
	c.Profile = e.Profile
	if e.Kind == KindDir {
		c.Profile = c.Name
	}
	c.IsMember = e.Kind == KindContainer && c.Kind == KindLeaf
	c.repath()
	e.children[c.Name] = c
}

func (e *Entry) remove(name string) {
	if c := e.children[name]; c != nil {
		c.parent = nil
		delete(e.children, name)
	}
}

// repath recomputes Path for e and its children from the parent chain.
func (e *Entry) repath() {
	switch {
	case e.parent == nil || e.parent.Kind == KindDir:
		e.Path = ""
	case e.parent.Kind == KindFilter:
		e.Path = e.Name
	default:
		e.Path = e.parent.Path + "/" + e.Name
	}
	for _, c := range e.children {
		c.Profile = e.Profile
		c.repath()
	}
}

func (e *Entry) sortedChildren() []*Entry {
	out := make([]*Entry, 0, len(e.children))
	for _, c := range e.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Entry) address() Address {
	return Address{Profile: e.Profile, Path: e.Path}
}

// Info is a point-in-time copy of an entry's public state.
type Info struct {
	Name        string
	Kind        Kind
	Mtime       time.Time
	Size        int64
	Profile     string
	Path        string
	WasAccessed bool
	Etag        string
	IsMember    bool
	Migrated    bool
	Encoding    Encoding
	State       AccessState
	HasConflict bool
	Children    int
}

func (e *Entry) info() Info {
	return Info{
		Name:        e.Name,
		Kind:        e.Kind,
		Mtime:       e.Mtime,
		Size:        e.Size,
		Profile:     e.Profile,
		Path:        e.Path,
		WasAccessed: e.WasAccessed,
		Etag:        e.Etag,
		IsMember:    e.IsMember,
		Migrated:    e.Migrated,
		Encoding:    e.Encoding,
		State:       e.State,
		HasConflict: e.Conflict != nil || e.Pending != nil,
		Children:    len(e.children),
	}
}
