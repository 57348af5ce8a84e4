package vfs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zmfs/internal/connection"
	"zmfs/internal/testutil"
)

type failure struct {
	name string
	err  error
}

type recorder struct {
	mu       sync.Mutex
	failures []failure
}

func (r *recorder) ItemFailed(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure{name: name, err: err})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range r.failures {
		out = append(out, f.name)
	}
	return out
}

func TestMoveContainer(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddPDS("A.B.PDS", map[string]string{"M1": "one", "M2": "two"})
	rec := &recorder{}
	ctx := context.Background()

	ok, err := NewMover(p, rec).Move(ctx, "/dev/A.B.PDS", "/dev/A.C.PDS", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, rec.names())

	assert.False(t, remote.Exists("A.B.PDS"))
	assert.Equal(t, []string{"M1", "M2"}, remote.MemberNames("A.C.PDS"))
	content, _ := remote.Content("A.C.PDS(M2)")
	assert.Equal(t, "two", content)

	ds, ok := remote.Dataset("A.C.PDS")
	require.True(t, ok)
	assert.Equal(t, "PO", ds.Dsorg)
	assert.Equal(t, "CYLINDERS", ds.SpaceUnit)
	assert.Equal(t, 1, ds.Primary)
	assert.Equal(t, 1, ds.Secondary)
	assert.Empty(t, ds.Volser)

	_, cached := p.Entry("/dev/A.B.PDS")
	assert.False(t, cached)
	entries, err := p.ReadDirectory(ctx, "/dev/A.C.PDS")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMoveContainerPartialFailure(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddPDS("A.B.PDS", map[string]string{"M1": "one", "M2": "two"})
	remote.Fail("Write", "A.C.PDS(M2)", errors.New("out of space"))
	rec := &recorder{}

	ok, err := NewMover(p, rec).Move(context.Background(), "/dev/A.B.PDS", "/dev/A.C.PDS", false)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"A.C.PDS(M2)"}, rec.names())
	assert.Equal(t, []string{"M1"}, remote.MemberNames("A.C.PDS"))
	assert.Equal(t, []string{"M2"}, remote.MemberNames("A.B.PDS"))
	content, _ := remote.Content("A.C.PDS(M1)")
	assert.Equal(t, "one", content)

	_, cached := p.Entry("/dev/A.C.PDS/M2")
	assert.False(t, cached)
	_, cached = p.Entry("/dev/A.B.PDS/M2")
	assert.True(t, cached)
}

func TestMoveConvertsTracksToCylinders(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddPDS("A.B.PDS", map[string]string{"M1": "x"}, connection.Dataset{
		Dsorg: "PO", Recfm: "VB", Lrecl: 255, Blksize: 27998,
		SpaceUnit: "TRACKS", Primary: 45, Secondary: 20, Volser: "WRK002",
	})

	ok, err := NewMover(p, nil).Move(context.Background(), "/dev/A.B.PDS", "/dev/A.D.PDS", false)
	require.NoError(t, err)
	require.True(t, ok)

	ds, _ := remote.Dataset("A.D.PDS")
	assert.Equal(t, "CYLINDERS", ds.SpaceUnit)
	assert.Equal(t, 3, ds.Primary)
	assert.Equal(t, 2, ds.Secondary)
	assert.Equal(t, "VB", ds.Recfm)
	assert.Equal(t, 255, ds.Lrecl)
}

func TestMoveMemberAcrossProfiles(t *testing.T) {
	dev := testutil.NewFakeRemote()
	prod := testutil.NewFakeRemote()
	dev.AddPDS("USER.PDS", map[string]string{"M1": "payload", "M2": "stay"})
	p := New(&testutil.Remotes{Conns: map[string]connection.Connection{"dev": dev, "prod": prod}})
	events := watch(p)

	ok, err := NewMover(p, nil).Move(context.Background(), "/dev/USER.PDS/M1", "/prod/USER.PDS/M1", false)
	require.NoError(t, err)
	require.True(t, ok)

	content, exists := prod.Content("USER.PDS(M1)")
	require.True(t, exists)
	assert.Equal(t, "payload", content)
	assert.Equal(t, []string{"M2"}, dev.MemberNames("USER.PDS"))

	ds, _ := prod.Dataset("USER.PDS")
	assert.Equal(t, "PO", ds.Dsorg)
	assert.NotEmpty(t, events.all())
}

func TestMoveMemberOverwritesExisting(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddPDS("USER.SRC", map[string]string{"M1": "new"})
	remote.AddPDS("USER.DST", map[string]string{"M1": "old"})

	ok, err := NewMover(p, nil).Move(context.Background(), "/dev/USER.SRC/M1", "/dev/USER.DST/M1", false)
	require.NoError(t, err)
	require.True(t, ok)

	content, _ := remote.Content("USER.DST(M1)")
	assert.Equal(t, "new", content)
	assert.Empty(t, remote.MemberNames("USER.SRC"))
	assert.Equal(t, 0, remote.Calls("CreateDataset"))
}

func TestMoveMemberKeepsExistingDestinationOnReadFailure(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddPDS("USER.SRC", map[string]string{"M1": "new"})
	remote.AddPDS("USER.DST", map[string]string{"M1": "precious"})
	remote.Fail("Read", "USER.SRC(M1)", errors.New("I/O error"))
	rec := &recorder{}

	ok, err := NewMover(p, rec).Move(context.Background(), "/dev/USER.SRC/M1", "/dev/USER.DST/M1", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"USER.SRC(M1)"}, rec.names())
	assert.Equal(t, 0, remote.Calls("CreateMember"))

	content, _ := remote.Content("USER.DST(M1)")
	assert.Equal(t, "precious", content)
	assert.Equal(t, []string{"M1"}, remote.MemberNames("USER.SRC"))
}

func TestMoveMemberCreatesMissingDestination(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddPDS("USER.SRC", map[string]string{"M1": "new"})
	remote.AddPDS("USER.DST", nil)
	remote.Fail("Write", "USER.DST(M1)", errors.New("quota exceeded"))

	ok, err := NewMover(p, nil).Move(context.Background(), "/dev/USER.SRC/M1", "/dev/USER.DST/M1", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, remote.Calls("CreateMember"))
	assert.Empty(t, remote.MemberNames("USER.DST"))
	assert.Equal(t, []string{"M1"}, remote.MemberNames("USER.SRC"))
}

func TestMoveSequential(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddSequential("USER.SEQ", "records")

	ok, err := NewMover(p, nil).Move(context.Background(), "/dev/USER.SEQ", "/dev/USER.SEQ2", false)
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, remote.Exists("USER.SEQ"))
	content, _ := remote.Content("USER.SEQ2")
	assert.Equal(t, "records", content)

	ds, _ := remote.Dataset("USER.SEQ2")
	assert.Equal(t, "PS", ds.Dsorg)
	assert.Equal(t, "CYLINDERS", ds.SpaceUnit)
	assert.Equal(t, 1, ds.Primary)
}

func TestMoveSequentialCleansUpOnWriteFailure(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddSequential("USER.SEQ", "records")
	remote.Fail("Write", "USER.SEQ2", errors.New("quota exceeded"))
	rec := &recorder{}

	ok, err := NewMover(p, rec).Move(context.Background(), "/dev/USER.SEQ", "/dev/USER.SEQ2", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"USER.SEQ2"}, rec.names())
	assert.False(t, remote.Exists("USER.SEQ2"))
	assert.True(t, remote.Exists("USER.SEQ"))
}

func TestMoveKeepsBinaryEncoding(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddSequential("USER.LOAD", "\x01\x02")

	ok, err := NewMover(p, nil).Move(context.Background(), "/dev/USER.LOAD?encoding=binary", "/dev/USER.LOAD2", false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, remote.LastOptions("USER.LOAD2").Binary)
}

func TestMoveRejectsMalformedRequests(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddPDS("USER.PDS", map[string]string{"M1": "x"})
	m := NewMover(p, nil)
	ctx := context.Background()

	_, err := m.Move(ctx, "/dev", "/dev/USER.X", false)
	assert.Error(t, err)

	_, err = m.Move(ctx, "/dev/USER.PDS", "/dev/USER.OTHER/M1", false)
	assert.Error(t, err)
	assert.True(t, remote.Exists("USER.PDS(M1)"))
}

func TestMoveAll(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddSequential("USER.ONE", "1")
	rec := &recorder{}

	res, err := NewMover(p, rec).MoveAll(context.Background(), []Transfer{
		{Src: "/dev/USER.ONE", Dst: "/dev/USER.ONE.MOVED"},
		{Src: "/dev/USER.MISSING", Dst: "/dev/USER.TWO.MOVED"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1 of 2 succeeded", res.String())
	assert.Equal(t, []string{"USER.MISSING"}, rec.names())
	require.Len(t, res.Failures(), 1)
	assert.ErrorIs(t, res.Err(), ErrNotFound)
}

func TestMoveAllCancelled(t *testing.T) {
	p, remote := newTestProvider(t)
	remote.AddSequential("USER.ONE", "1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewMover(p, nil).MoveAll(ctx, []Transfer{{Src: "/dev/USER.ONE", Dst: "/dev/USER.TWO"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, 0, remote.TotalCalls())
}

func TestAllocationFromDataset(t *testing.T) {
	tests := []struct {
		name        string
		ds          connection.Dataset
		partitioned bool
		want        connection.AllocationAttributes
	}{
		{
			name:        "tracks round up",
			ds:          connection.Dataset{Name: "A.B", Dsorg: "PO", Recfm: "FB", Lrecl: 80, Blksize: 3120, SpaceUnit: "TRACKS", Primary: 16, Secondary: 1, Volser: "VOL1"},
			partitioned: true,
			want:        connection.AllocationAttributes{Dsorg: "PO", Alcunit: "CYL", Primary: 2, Secondary: 1, Dirblk: 10, Recfm: "FB", Lrecl: 80, Blksize: 3120},
		},
		{
			name:        "cylinders kept",
			ds:          connection.Dataset{Dsorg: "PO", Recfm: "VB", Lrecl: 255, Blksize: 27998, SpaceUnit: "CYLINDERS", Primary: 5, Secondary: 2},
			partitioned: true,
			want:        connection.AllocationAttributes{Dsorg: "PO", Alcunit: "CYL", Primary: 5, Secondary: 2, Dirblk: 10, Recfm: "VB", Lrecl: 255, Blksize: 27998},
		},
		{
			name:        "library has no directory blocks",
			ds:          connection.Dataset{Dsorg: "PO-E", Dsntype: "LIBRARY", SpaceUnit: "TRK", Primary: 15},
			partitioned: true,
			want:        connection.AllocationAttributes{Dsorg: "PO", Alcunit: "CYL", Primary: 1, Secondary: 1, Dsntype: "LIBRARY", Recfm: "FB", Lrecl: 80, Blksize: 27920},
		},
		{
			name: "sequential defaults",
			ds:   connection.Dataset{Dsorg: "PS", Dsntype: "BASIC"},
			want: connection.AllocationAttributes{Dsorg: "PS", Alcunit: "CYL", Primary: 1, Secondary: 1, Recfm: "FB", Lrecl: 80, Blksize: 27920},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllocationFromDataset(tt.ds, tt.partitioned))
		})
	}
}
