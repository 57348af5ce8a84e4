// Package testutil provides an in-memory z/OS data set store that
// implements connection.Connection, with call counters and failure
// injection for exercising the virtual filesystem.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"zmfs/internal/connection"
)

// FakeDataset is one data set held by FakeRemote.
type FakeDataset struct {
	Attrs   connection.Dataset
	Data    []byte
	Etag    string
	Members map[string]*FakeMember
}

// FakeMember is one PDS member held by FakeRemote.
type FakeMember struct {
	Data    []byte
	Etag    string
	Changed string
}

// FakeRemote is a thread-safe in-memory remote.
type FakeRemote struct {
	mu       sync.Mutex
	datasets map[string]*FakeDataset
	calls    map[string]int
	failures map[string]error
	opts     map[string]connection.TransferOptions
	seq      int
	now      func() time.Time
}

func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		datasets: make(map[string]*FakeDataset),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		opts:     make(map[string]connection.TransferOptions),
		now:      time.Now,
	}
}

func (f *FakeRemote) nextEtag() string {
	f.seq++
	return fmt.Sprintf("E%04d", f.seq)
}

func (f *FakeRemote) stamp() string {
	return f.now().Format("2006/01/02 15:04:05")
}

// AddPDS allocates a partitioned data set with the given members. The
// allocation is 15 tracks primary, 15 secondary unless attrs overrides it.
func (f *FakeRemote) AddPDS(name string, members map[string]string, attrs ...connection.Dataset) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a := connection.Dataset{
		Dsorg: "PO", Recfm: "FB", Lrecl: 80, Blksize: 27920,
		SpaceUnit: "TRACKS", Primary: 15, Secondary: 15, Volser: "WRK001",
		Created: "2025/01/02", Referred: "2025/01/03",
	}
	if len(attrs) > 0 {
		a = attrs[0]
	}
	a.Name = name
	ds := &FakeDataset{Attrs: a, Members: make(map[string]*FakeMember)}
	for m, content := range members {
		ds.Members[m] = &FakeMember{Data: []byte(content), Etag: f.nextEtag(), Changed: "2025/01/03 10:00:00"}
	}
	f.datasets[name] = ds
}

// AddSequential allocates a sequential data set holding content.
func (f *FakeRemote) AddSequential(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datasets[name] = &FakeDataset{
		Attrs: connection.Dataset{
			Name: name, Dsorg: "PS", Recfm: "VB", Lrecl: 255, Blksize: 27998,
			SpaceUnit: "TRACKS", Primary: 1, Volser: "WRK001",
			Created: "2025/01/02", Referred: "2025/01/03",
		},
		Data: []byte(content),
		Etag: f.nextEtag(),
	}
}

// AddMigrated registers a migrated data set.
func (f *FakeRemote) AddMigrated(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datasets[name] = &FakeDataset{Attrs: connection.Dataset{Name: name, Migrated: true, Volser: "MIGRAT"}}
}

// AddVSAM registers a VSAM cluster.
func (f *FakeRemote) AddVSAM(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datasets[name] = &FakeDataset{Attrs: connection.Dataset{Name: name, Dsorg: "VS"}}
}

// Modify replaces content as another client would, changing the etag.
func (f *FakeRemote) Modify(name string, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dsn, member := connection.SplitQualified(name)
	ds := f.datasets[dsn]
	if ds == nil {
		return
	}
	if member == "" {
		ds.Data = []byte(content)
		ds.Etag = f.nextEtag()
		return
	}
	if m := ds.Members[member]; m != nil {
		m.Data = []byte(content)
		m.Etag = f.nextEtag()
		m.Changed = f.stamp()
	}
}

// Fail makes every call of op on name return err. An empty name matches any
// name.
func (f *FakeRemote) Fail(op, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op+":"+name] = err
}

// ClearFailures removes all injected failures.
func (f *FakeRemote) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]error)
}

// Calls returns the number of calls made to op.
func (f *FakeRemote) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// CallsFor returns the number of calls made to op for name.
func (f *FakeRemote) CallsFor(op, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op+":"+name]
}

// TotalCalls returns the number of remote calls of any kind.
func (f *FakeRemote) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for k, n := range f.calls {
		if !strings.Contains(k, ":") {
			total += n
		}
	}
	return total
}

// LastOptions returns the transfer options of the last read or write of name.
func (f *FakeRemote) LastOptions(name string) connection.TransferOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts[name]
}

// ResetCalls zeroes all counters.
func (f *FakeRemote) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

// Exists reports whether DS or DS(MEMBER) exists.
func (f *FakeRemote) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	dsn, member := connection.SplitQualified(name)
	ds := f.datasets[dsn]
	if ds == nil {
		return false
	}
	if member == "" {
		return true
	}
	_, ok := ds.Members[member]
	return ok
}

// Content returns the bytes of DS or DS(MEMBER).
func (f *FakeRemote) Content(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _, err := f.lookup(name)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Dataset returns a copy of a data set's attributes.
func (f *FakeRemote) Dataset(name string) (connection.Dataset, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds := f.datasets[name]
	if ds == nil {
		return connection.Dataset{}, false
	}
	return ds.Attrs, true
}

// MemberNames returns the sorted member names of a PDS.
func (f *FakeRemote) MemberNames(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds := f.datasets[name]
	if ds == nil {
		return nil
	}
	names := make([]string, 0, len(ds.Members))
	for m := range ds.Members {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

// enter counts the call and returns an injected failure, if any. Must be
// called with f.mu held.
func (f *FakeRemote) enter(op, name string) error {
	f.calls[op]++
	f.calls[op+":"+name]++
	if err, ok := f.failures[op+":"+name]; ok {
		return err
	}
	if err, ok := f.failures[op+":"]; ok {
		return err
	}
	return nil
}

func notFound(action, name string) error {
	return &connection.APIError{Action: action + " " + name, StatusCode: http.StatusNotFound, Message: "not found"}
}

func (f *FakeRemote) lookup(name string) ([]byte, string, error) {
	dsn, member := connection.SplitQualified(name)
	ds := f.datasets[dsn]
	if ds == nil {
		return nil, "", notFound("read", name)
	}
	if member == "" {
		if ds.Attrs.IsPartitioned() {
			return nil, "", fmt.Errorf("read %s: data set is partitioned", name)
		}
		return ds.Data, ds.Etag, nil
	}
	m := ds.Members[member]
	if m == nil {
		return nil, "", notFound("read", name)
	}
	return m.Data, m.Etag, nil
}

func (f *FakeRemote) Connect() error { return nil }
func (f *FakeRemote) Close() error   { return nil }

func matchPattern(pattern, name string) bool {
	pattern = strings.ToUpper(pattern)
	for _, suffix := range []string{".**", ".*"} {
		if prefix, ok := strings.CutSuffix(pattern, suffix); ok && !strings.ContainsAny(prefix, "*%") {
			return strings.HasPrefix(name, prefix+".")
		}
	}
	ok, _ := path.Match(strings.ReplaceAll(pattern, "%", "?"), name)
	return ok
}

func (f *FakeRemote) ListDatasets(ctx context.Context, pattern string) ([]connection.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListDatasets", pattern); err != nil {
		return nil, err
	}

	var out []connection.Dataset
	for name, ds := range f.datasets {
		if matchPattern(pattern, name) {
			out = append(out, ds.Attrs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeRemote) GetDataset(ctx context.Context, name string) (*connection.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetDataset", name); err != nil {
		return nil, err
	}
	ds := f.datasets[name]
	if ds == nil {
		return nil, fmt.Errorf("dataset %s: %w", name, connection.ErrNotFound)
	}
	attrs := ds.Attrs
	return &attrs, nil
}

func (f *FakeRemote) ListMembers(ctx context.Context, dataset, pattern string) ([]connection.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListMembers", dataset); err != nil {
		return nil, err
	}
	ds := f.datasets[dataset]
	if ds == nil {
		return nil, notFound("list members of", dataset)
	}

	var out []connection.Member
	for name, m := range ds.Members {
		if pattern != "" && !matchPattern(pattern, name) {
			continue
		}
		out = append(out, connection.Member{Name: name, Changed: m.Changed, Size: len(m.Data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeRemote) Read(ctx context.Context, name string, opts connection.TransferOptions) (*connection.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Read", name); err != nil {
		return nil, err
	}
	f.opts[name] = opts
	data, etag, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	return &connection.Content{Data: append([]byte(nil), data...), Etag: etag}, nil
}

func (f *FakeRemote) Write(ctx context.Context, name string, content []byte, opts connection.TransferOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Write", name); err != nil {
		return "", err
	}
	f.opts[name] = opts

	dsn, member := connection.SplitQualified(name)
	ds := f.datasets[dsn]
	if ds == nil {
		return "", notFound("write", name)
	}
	data := append([]byte(nil), content...)

	if member == "" {
		if ds.Attrs.IsPartitioned() {
			return "", fmt.Errorf("write %s: data set is partitioned", name)
		}
		if opts.Etag != "" && opts.Etag != ds.Etag {
			return "", &connection.APIError{Action: "write " + name, StatusCode: http.StatusPreconditionFailed}
		}
		ds.Data = data
		ds.Etag = f.nextEtag()
		return ds.Etag, nil
	}

	if !ds.Attrs.IsPartitioned() {
		return "", fmt.Errorf("write %s: data set is not partitioned", name)
	}
	m := ds.Members[member]
	if m == nil {
		m = &FakeMember{}
		ds.Members[member] = m
	} else if opts.Etag != "" && opts.Etag != m.Etag {
		return "", &connection.APIError{Action: "write " + name, StatusCode: http.StatusPreconditionFailed}
	}
	m.Data = data
	m.Etag = f.nextEtag()
	m.Changed = f.stamp()
	return m.Etag, nil
}

func (f *FakeRemote) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Delete", name); err != nil {
		return err
	}
	dsn, member := connection.SplitQualified(name)
	ds := f.datasets[dsn]
	if ds == nil {
		return notFound("delete", name)
	}
	if member == "" {
		delete(f.datasets, dsn)
		return nil
	}
	if _, ok := ds.Members[member]; !ok {
		return notFound("delete", name)
	}
	delete(ds.Members, member)
	return nil
}

func (f *FakeRemote) RenameDataset(ctx context.Context, oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RenameDataset", oldName); err != nil {
		return err
	}
	ds := f.datasets[oldName]
	if ds == nil {
		return notFound("rename", oldName)
	}
	if _, ok := f.datasets[newName]; ok {
		return fmt.Errorf("rename %s: %w", newName, connection.ErrExists)
	}
	delete(f.datasets, oldName)
	ds.Attrs.Name = newName
	f.datasets[newName] = ds
	return nil
}

func (f *FakeRemote) RenameMember(ctx context.Context, dataset, oldMember, newMember string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RenameMember", connection.QualifiedName(dataset, oldMember)); err != nil {
		return err
	}
	ds := f.datasets[dataset]
	if ds == nil || ds.Members[oldMember] == nil {
		return notFound("rename", connection.QualifiedName(dataset, oldMember))
	}
	if _, ok := ds.Members[newMember]; ok {
		return fmt.Errorf("rename %s: %w", connection.QualifiedName(dataset, newMember), connection.ErrExists)
	}
	ds.Members[newMember] = ds.Members[oldMember]
	delete(ds.Members, oldMember)
	return nil
}

func (f *FakeRemote) CreateDataset(ctx context.Context, name string, attrs connection.AllocationAttributes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateDataset", name); err != nil {
		return err
	}
	if _, ok := f.datasets[name]; ok {
		return fmt.Errorf("create %s: %w", name, connection.ErrExists)
	}

	unit := "TRACKS"
	if attrs.Alcunit == "CYL" {
		unit = "CYLINDERS"
	}
	ds := &FakeDataset{
		Attrs: connection.Dataset{
			Name: name, Dsorg: attrs.Dsorg, Recfm: attrs.Recfm, Lrecl: attrs.Lrecl,
			Blksize: attrs.Blksize, SpaceUnit: unit, Primary: attrs.Primary,
			Secondary: attrs.Secondary, Dsntype: attrs.Dsntype, Volser: attrs.Volser,
			Created: f.now().Format("2006/01/02"),
		},
	}
	if ds.Attrs.IsPartitioned() {
		ds.Members = make(map[string]*FakeMember)
	} else {
		ds.Etag = f.nextEtag()
	}
	f.datasets[name] = ds
	return nil
}

func (f *FakeRemote) CreateMember(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateMember", name); err != nil {
		return err
	}
	dsn, member := connection.SplitQualified(name)
	ds := f.datasets[dsn]
	if ds == nil {
		return notFound("create", name)
	}
	if !ds.Attrs.IsPartitioned() {
		return fmt.Errorf("create %s: data set is not partitioned", name)
	}
	// Like the real clients, creating an existing member truncates it.
	ds.Members[member] = &FakeMember{Etag: f.nextEtag(), Changed: f.stamp()}
	return nil
}

func (f *FakeRemote) AllocateLike(ctx context.Context, name, like string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AllocateLike", name); err != nil {
		return err
	}
	model := f.datasets[like]
	if model == nil {
		return notFound("allocate like", like)
	}
	if _, ok := f.datasets[name]; ok {
		return fmt.Errorf("allocate %s: %w", name, connection.ErrExists)
	}
	attrs := model.Attrs
	attrs.Name = name
	ds := &FakeDataset{Attrs: attrs}
	if attrs.IsPartitioned() {
		ds.Members = make(map[string]*FakeMember)
	} else {
		ds.Etag = f.nextEtag()
	}
	f.datasets[name] = ds
	return nil
}

func (f *FakeRemote) CopyMember(ctx context.Context, from, to string, replace bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CopyMember", to); err != nil {
		return err
	}
	data, _, err := f.lookup(from)
	if err != nil {
		return err
	}
	dsn, member := connection.SplitQualified(to)
	if member == "" {
		_, member = connection.SplitQualified(from)
	}
	ds := f.datasets[dsn]
	if ds == nil || !ds.Attrs.IsPartitioned() {
		return notFound("copy to", to)
	}
	if _, ok := ds.Members[member]; ok && !replace {
		return fmt.Errorf("copy to %s: %w", to, connection.ErrExists)
	}
	ds.Members[member] = &FakeMember{Data: append([]byte(nil), data...), Etag: f.nextEtag(), Changed: f.stamp()}
	return nil
}

func (f *FakeRemote) CopyDataset(ctx context.Context, from, to string, replace bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CopyDataset", to); err != nil {
		return err
	}
	src := f.datasets[from]
	if src == nil {
		return notFound("copy from", from)
	}
	dst := f.datasets[to]
	if dst == nil {
		return notFound("copy to", to)
	}
	if src.Attrs.IsPartitioned() {
		for name, m := range src.Members {
			if _, ok := dst.Members[name]; ok && !replace {
				continue
			}
			dst.Members[name] = &FakeMember{Data: append([]byte(nil), m.Data...), Etag: f.nextEtag(), Changed: f.stamp()}
		}
		return nil
	}
	if len(dst.Data) > 0 && !replace {
		return fmt.Errorf("copy to %s: %w", to, connection.ErrExists)
	}
	dst.Data = append([]byte(nil), src.Data...)
	dst.Etag = f.nextEtag()
	return nil
}

var _ connection.Connection = (*FakeRemote)(nil)

// Remotes serves fixed connections per profile name.
type Remotes struct {
	Conns     map[string]connection.Connection
	Encodings map[string]string
}

// Single returns Remotes holding one profile.
func Single(profile string, conn connection.Connection) *Remotes {
	return &Remotes{Conns: map[string]connection.Connection{profile: conn}}
}

func (r *Remotes) Connection(ctx context.Context, profile string) (connection.Connection, error) {
	c, ok := r.Conns[profile]
	if !ok {
		return nil, fmt.Errorf("profile %q not found", profile)
	}
	return c, nil
}

func (r *Remotes) Encoding(profile string) string {
	return r.Encodings[profile]
}
