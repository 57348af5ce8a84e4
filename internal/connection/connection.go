package connection

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Dataset is one row of a data set listing with its allocation attributes.
type Dataset struct {
	Name      string
	Dsorg     string // PO, PO-E, PS, VS, ...
	Migrated  bool
	Recfm     string
	Lrecl     int
	Blksize   int
	SpaceUnit string // TRACKS, CYLINDERS, BLOCKS
	Primary   int
	Secondary int
	Dsntype   string // PDS, LIBRARY, BASIC, ...
	Volser    string
	Created   string // YYYY/MM/DD
	Referred  string // YYYY/MM/DD
	Changed   string // YYYY/MM/DD HH:MM[:SS], empty when the remote does not report it
}

type Member struct {
	Name    string
	VV      int    // version
	MM      int    // modification
	Created string // YYYY/MM/DD
	Changed string // YYYY/MM/DD HH:MM[:SS]
	Size    int
	Init    int
	Mod     int
	User    string
}

// AllocationAttributes describes a new data set.
type AllocationAttributes struct {
	Dsorg     string `json:"dsorg,omitempty"`
	Alcunit   string `json:"alcunit,omitempty"` // TRK, CYL
	Primary   int    `json:"primary,omitempty"`
	Secondary int    `json:"secondary,omitempty"`
	Dirblk    int    `json:"dirblk,omitempty"`
	Recfm     string `json:"recfm,omitempty"`
	Blksize   int    `json:"blksize,omitempty"`
	Lrecl     int    `json:"lrecl,omitempty"`
	Dsntype   string `json:"dsntype,omitempty"`
	Volser    string `json:"volser,omitempty"`
}

// TransferOptions controls how content is converted and versioned.
type TransferOptions struct {
	Binary   bool
	Encoding string // explicit codepage, e.g. IBM-1047; empty = server default
	// Etag is sent as a write precondition when non-empty.
	Etag string
}

// Content is the result of a read.
type Content struct {
	Data []byte
	Etag string
}

// Connection is implemented by all transport protocols (FTP, z/OSMF).
// Data set names passed to Read, Write, Delete and CreateMember may carry a
// member in parentheses: USER.SOURCE(MYPROG).
type Connection interface {
	Connect() error
	Close() error

	ListDatasets(ctx context.Context, pattern string) ([]Dataset, error)
	GetDataset(ctx context.Context, name string) (*Dataset, error)
	ListMembers(ctx context.Context, dataset, pattern string) ([]Member, error)

	Read(ctx context.Context, name string, opts TransferOptions) (*Content, error)
	Write(ctx context.Context, name string, content []byte, opts TransferOptions) (string, error)
	Delete(ctx context.Context, name string) error

	RenameDataset(ctx context.Context, oldName, newName string) error
	RenameMember(ctx context.Context, dataset, oldMember, newMember string) error

	CreateDataset(ctx context.Context, name string, attrs AllocationAttributes) error
	CreateMember(ctx context.Context, name string) error
	AllocateLike(ctx context.Context, name, like string) error
	CopyMember(ctx context.Context, from, to string, replace bool) error
	CopyDataset(ctx context.Context, from, to string, replace bool) error
}

// QualifiedName joins a data set and an optional member as DS(MEMBER).
func QualifiedName(dataset, member string) string {
	if member == "" {
		return dataset
	}
	return fmt.Sprintf("%s(%s)", dataset, member)
}

// SplitQualified splits DS(MEMBER) into its parts. A plain name returns an
// empty member.
func SplitQualified(name string) (dataset, member string) {
	name = strings.Trim(name, "'")
	open := strings.IndexByte(name, '(')
	if open == -1 || !strings.HasSuffix(name, ")") {
		return name, ""
	}
	return name[:open], name[open+1 : len(name)-1]
}

// IsPartitioned reports whether a dsorg denotes a PDS or PDSE.
func (d *Dataset) IsPartitioned() bool {
	return strings.HasPrefix(d.Dsorg, "PO")
}

// IsSequential reports whether a dsorg denotes a sequential data set,
// basic or extended.
func (d *Dataset) IsSequential() bool {
	return strings.HasPrefix(d.Dsorg, "PS")
}

// ModTime returns the best available modification instant of the data set.
func (d *Dataset) ModTime() time.Time {
	for _, s := range []string{d.Changed, d.Referred, d.Created} {
		if t := ParseModTime(s); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

// ModTime returns the member's last change instant.
func (m *Member) ModTime() time.Time {
	if t := ParseModTime(m.Changed); !t.IsZero() {
		return t
	}
	return ParseModTime(m.Created)
}

var modTimeLayouts = []string{
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseModTime folds the remote's date, time and seconds fields into a
// single comparable instant. Unparseable input returns the zero time.
func ParseModTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range modTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
