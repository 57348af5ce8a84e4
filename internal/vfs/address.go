package vfs

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"zmfs/internal/connection"
	"zmfs/internal/dsname"
)

// Query carries the directives that may follow an address.
type Query struct {
	// Pattern is a comma separated list of listing patterns for a profile root.
	Pattern string
	// ForceUpload skips the etag precondition on write.
	ForceUpload bool
	// Encoding is "binary" or a codepage such as IBM-1047.
	Encoding string
	// Conflict selects the remote side of a pending conflict on read.
	Conflict bool
	// InDiffView suppresses remote writes.
	InDiffView bool
}

// Address is a parsed virtual path of the form
// /{profile}/{container}[/{leaf}][?query].
type Address struct {
	Profile string
	// Path is the remainder after the profile segment, without leading slash.
	Path  string
	Query Query
}

// Parse converts a virtual path into an Address. Segments are upper-cased
// since data set and member names are case-insensitive.
func Parse(uri string) (Address, error) {
	raw, rawQuery, _ := strings.Cut(uri, "?")
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return Address{}, fmt.Errorf("invalid address %q: missing profile", uri)
	}

	profile, rest, _ := strings.Cut(raw, "/")
	addr := Address{Profile: profile}

	var segs []string
	for _, s := range strings.Split(rest, "/") {
		if s = dsname.Normalize(s); s != "" {
			segs = append(segs, s)
		}
	}
	addr.Path = strings.Join(segs, "/")

	if rawQuery != "" {
		values, err := url.ParseQuery(rawQuery)
		if err != nil {
			return Address{}, fmt.Errorf("invalid address %q: %w", uri, err)
		}
		addr.Query = Query{
			Pattern:     values.Get("pattern"),
			ForceUpload: flag(values, "forceUpload"),
			Encoding:    values.Get("encoding"),
			Conflict:    flag(values, "conflict"),
			InDiffView:  flag(values, "inDiffView"),
		}
	}
	return addr, nil
}

func flag(values url.Values, key string) bool {
	if !values.Has(key) {
		return false
	}
	v := values.Get(key)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// MustParse is Parse for addresses known to be well formed.
func MustParse(uri string) Address {
	a, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return a
}

// IsProfileRoot reports whether the address names the profile itself.
func (a Address) IsProfileRoot() bool {
	return a.Path == ""
}

// Segments returns the path segments after the profile.
func (a Address) Segments() []string {
	if a.Path == "" {
		return nil
	}
	return strings.Split(a.Path, "/")
}

// SplitPath returns the container name (all segments but the last, joined
// with dots) and the leaf name (the last segment).
func (a Address) SplitPath() (container, leaf string) {
	segs := a.Segments()
	if len(segs) == 0 {
		return "", ""
	}
	return strings.Join(segs[:len(segs)-1], "."), segs[len(segs)-1]
}

// DottedName is the address as one dotted remote name.
func (a Address) DottedName() string {
	return strings.Join(a.Segments(), ".")
}

// RemoteName is the fully-qualified remote name: DS for a single segment,
// DS(MEMBER) otherwise.
func (a Address) RemoteName() string {
	container, leaf := a.SplitPath()
	if container == "" {
		return leaf
	}
	return connection.QualifiedName(container, leaf)
}

// CachePath is the canonical path used as Entry.Path: the container name
// and, for members, the member name.
func (a Address) CachePath() string {
	container, leaf := a.SplitPath()
	if container == "" {
		return leaf
	}
	return container + "/" + leaf
}

// IsMember reports whether the address names a member of a container.
func (a Address) IsMember() bool {
	container, _ := a.SplitPath()
	return container != ""
}

// Parent returns the address of the enclosing container or profile root,
// without query.
func (a Address) Parent() Address {
	container, _ := a.SplitPath()
	return Address{Profile: a.Profile, Path: container}
}

// Child returns the address of name inside a.
func (a Address) Child(name string) Address {
	p := a.CachePath()
	if p == "" {
		return Address{Profile: a.Profile, Path: dsname.Normalize(name)}
	}
	return Address{Profile: a.Profile, Path: p + "/" + dsname.Normalize(name)}
}

// WithQuery returns a copy of a carrying q.
func (a Address) WithQuery(q Query) Address {
	a.Query = q
	return a
}

// String renders the address without its query.
func (a Address) String() string {
	if p := a.CachePath(); p != "" {
		return "/" + a.Profile + "/" + p
	}
	return "/" + a.Profile
}

// URI renders the address including its query directives.
func (a Address) URI() string {
	values := url.Values{}
	if a.Query.Pattern != "" {
		values.Set("pattern", a.Query.Pattern)
	}
	if a.Query.Encoding != "" {
		values.Set("encoding", a.Query.Encoding)
	}
	for key, on := range map[string]bool{
		"forceUpload": a.Query.ForceUpload,
		"conflict":    a.Query.Conflict,
		"inDiffView":  a.Query.InDiffView,
	} {
		if on {
			values.Set(key, "true")
		}
	}
	if len(values) == 0 {
		return a.String()
	}
	return a.String() + "?" + values.Encode()
}

// Join builds a virtual path from a profile and a remote name given either
// as DS, DS(MEMBER) or already split into segments.
func Join(profile string, parts ...string) string {
	var segs []string
	for _, p := range parts {
		ds, member := connection.SplitQualified(p)
		if ds != "" {
			segs = append(segs, dsname.Normalize(ds))
		}
		if member != "" {
			segs = append(segs, dsname.Normalize(member))
		}
	}
	if len(segs) == 0 {
		return "/" + profile
	}
	return "/" + profile + "/" + strings.Join(segs, "/")
}
