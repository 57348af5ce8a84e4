package connection

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

const ftpTimeout = 30 * time.Second

// FTPConnection talks to the z/OS FTP server. FTP has no version tokens, so
// etags are SHA-256 digests of the content and write preconditions are
// checked by re-reading the target before STOR. The check is not atomic.
type FTPConnection struct {
	host     string
	port     int
	user     string
	password string
	conn     *ftp.ServerConn
}

func NewFTPConnection(host string, port int, user, password string) *FTPConnection {
	return &FTPConnection{
		host:     host,
		port:     port,
		user:     user,
		password: password,
	}
}

func (f *FTPConnection) Connect() error {
	addr := fmt.Sprintf("%s:%d", f.host, f.port)

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(ftpTimeout))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := conn.Login(f.user, f.password); err != nil {
		conn.Quit()
		return fmt.Errorf("login failed: %w", err)
	}

	f.conn = conn
	return nil
}

func (f *FTPConnection) Close() error {
	if f.conn != nil {
		if err := f.conn.Quit(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
		f.conn = nil
	}
	return nil
}

func quoted(name string) string {
	return fmt.Sprintf("'%s'", strings.Trim(name, "'"))
}

func contentDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ftpError maps z/OS FTP reply text onto the package sentinels.
func ftpError(action string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "550") && (strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")):
		return fmt.Errorf("%s: %s: %w", action, msg, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}

// rawList runs LIST on a fresh connection and returns the listing lines.
// The z/OS listing format is not understood by the client's parser, so the
// lines are taken from the debug transcript.
func (f *FTPConnection) rawList(dir, arg string) ([]string, error) {
	addr := fmt.Sprintf("%s:%d", f.host, f.port)
	var debugBuf bytes.Buffer
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(ftpTimeout), ftp.DialWithDebugOutput(&debugBuf))
	if err != nil {
		return nil, fmt.Errorf("failed to connect for LIST: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(f.user, f.password); err != nil {
		return nil, fmt.Errorf("login failed for LIST: %w", err)
	}

	if dir != "" {
		if err := conn.ChangeDir(quoted(dir)); err != nil {
			return nil, ftpError(fmt.Sprintf("failed to access dataset %s", dir), err)
		}
	}

	// List fails to parse but the debug output has the raw data
	conn.List(arg)

	return parseListFromDebug(debugBuf.String()), nil
}

func parseListFromDebug(debug string) []string {
	var lines []string
	inList := false
	for _, line := range strings.Split(debug, "\n") {
		// Lines after "125 List started" until "250 List completed"
		if strings.Contains(line, "125 List started") {
			inList = true
			continue
		}
		if strings.Contains(line, "250 List completed") || strings.HasPrefix(line, "< 550") {
			break
		}
		if !inList {
			continue
		}
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (f *FTPConnection) ListDatasets(ctx context.Context, pattern string) ([]Dataset, error) {
	if f.conn == nil {
		return nil, ErrNotConnected
	}

	lines, err := f.rawList("", quoted(pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}

	var datasets []Dataset
	for _, line := range lines {
		if ds, ok := parseDatasetLine(line); ok {
			datasets = append(datasets, ds)
		}
	}
	return datasets, nil
}

func parseDatasetLine(line string) (Dataset, bool) {
	// Format: Volume Unit    Referred Ext Used Recfm Lrecl BlkSz Dsorg Dsname
	// Example: WRKD01 3390   2024/01/15  1   15  FB      80 27920  PO  USER.SOURCE
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Dataset{}, false
	}
	if fields[0] == "Volume" && fields[len(fields)-1] == "Dsname" {
		return Dataset{}, false
	}

	name := strings.Trim(fields[len(fields)-1], "'")
	switch {
	case fields[0] == "Migrated":
		return Dataset{Name: name, Migrated: true}, true
	case fields[0] == "Pseudo":
		return Dataset{}, false
	case fields[len(fields)-2] == "VSAM":
		return Dataset{Name: name, Dsorg: "VS"}, true
	}

	if len(fields) < 10 {
		return Dataset{}, false
	}

	ds := Dataset{
		Name:      name,
		Volser:    fields[0],
		Referred:  fields[2],
		Recfm:     fields[5],
		Dsorg:     fields[8],
		SpaceUnit: "TRACKS",
	}
	ds.Primary, _ = strconv.Atoi(fields[4])
	ds.Lrecl, _ = strconv.Atoi(fields[6])
	ds.Blksize, _ = strconv.Atoi(fields[7])
	return ds, true
}

func (f *FTPConnection) GetDataset(ctx context.Context, name string) (*Dataset, error) {
	dsn := strings.ToUpper(strings.Trim(name, "'"))
	datasets, err := f.ListDatasets(ctx, dsn)
	if err != nil {
		return nil, err
	}
	for i := range datasets {
		if datasets[i].Name == dsn {
			return &datasets[i], nil
		}
	}
	return nil, fmt.Errorf("dataset %s: %w", dsn, ErrNotFound)
}

func (f *FTPConnection) ListMembers(ctx context.Context, dataset, pattern string) ([]Member, error) {
	if f.conn == nil {
		return nil, ErrNotConnected
	}

	dsn := strings.Trim(dataset, "'")
	lines, err := f.rawList(dsn, "")
	if err != nil {
		return nil, err
	}

	members := parseMemberLines(lines)
	if pattern == "" {
		return members, nil
	}

	glob := strings.ReplaceAll(strings.ToUpper(pattern), "%", "?")
	filtered := members[:0]
	for _, m := range members {
		if ok, _ := path.Match(glob, m.Name); ok {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

func parseMemberLines(lines []string) []Member {
	var members []Member
	for _, line := range lines {
		// Skip header line
		if strings.Contains(line, "Name") && strings.Contains(line, "VV.MM") {
			continue
		}
		member := parseMemberLine(line)
		if member.Name != "" {
			members = append(members, member)
		}
	}
	return members
}

func parseMemberLine(line string) Member {
	// Format: Name     VV.MM   Created       Changed      Size  Init   Mod   Id
	// Example: HSISAPIE  01.82 2024/04/16 2025/12/10 20:18     5    27     0 FALZONE
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return Member{}
	}

	m := Member{Name: fields[0]}

	if vvmm := strings.Split(fields[1], "."); len(vvmm) == 2 {
		m.VV, _ = strconv.Atoi(vvmm[0])
		m.MM, _ = strconv.Atoi(vvmm[1])
	}

	m.Created = fields[2]

	if len(fields) >= 5 {
		m.Changed = fields[3] + " " + fields[4]
	}

	if len(fields) >= 6 {
		m.Size, _ = strconv.Atoi(fields[5])
	}
	if len(fields) >= 7 {
		m.Init, _ = strconv.Atoi(fields[6])
	}
	if len(fields) >= 8 {
		m.Mod, _ = strconv.Atoi(fields[7])
	}
	if len(fields) >= 9 {
		m.User = fields[8]
	}

	return m
}

func (f *FTPConnection) setType(opts TransferOptions) error {
	// ASCII mode converts EBCDIC to ASCII on the server
	mode := ftp.TransferTypeASCII
	if opts.Binary {
		mode = ftp.TransferTypeBinary
	}
	if err := f.conn.Type(mode); err != nil {
		return fmt.Errorf("failed to set transfer type: %w", err)
	}
	return nil
}

func (f *FTPConnection) retrieve(name string, opts TransferOptions) ([]byte, error) {
	if err := f.setType(opts); err != nil {
		return nil, err
	}

	dsn := quoted(name)
	reader, err := f.conn.Retr(dsn)
	if err != nil {
		return nil, ftpError(fmt.Sprintf("failed to read %s", dsn), err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *FTPConnection) Read(ctx context.Context, name string, opts TransferOptions) (*Content, error) {
	if f.conn == nil {
		return nil, ErrNotConnected
	}
	data, err := f.retrieve(name, opts)
	if err != nil {
		return nil, err
	}
	return &Content{Data: data, Etag: contentDigest(data)}, nil
}

func (f *FTPConnection) Write(ctx context.Context, name string, content []byte, opts TransferOptions) (string, error) {
	if f.conn == nil {
		return "", ErrNotConnected
	}

	if opts.Etag != "" {
		current, err := f.retrieve(name, opts)
		if err != nil {
			return "", err
		}
		if contentDigest(current) != opts.Etag {
			return "", fmt.Errorf("failed to write %s: %w", name, ErrPreconditionFailed)
		}
	}

	if err := f.setType(opts); err != nil {
		return "", err
	}
	if err := f.conn.Stor(quoted(name), bytes.NewReader(content)); err != nil {
		return "", ftpError(fmt.Sprintf("failed to write %s", name), err)
	}
	return contentDigest(content), nil
}

func (f *FTPConnection) Delete(ctx context.Context, name string) error {
	if f.conn == nil {
		return ErrNotConnected
	}
	if err := f.conn.Delete(quoted(name)); err != nil {
		return ftpError(fmt.Sprintf("failed to delete %s", name), err)
	}
	return nil
}

func (f *FTPConnection) RenameDataset(ctx context.Context, oldName, newName string) error {
	if f.conn == nil {
		return ErrNotConnected
	}
	if err := f.conn.Rename(quoted(oldName), quoted(newName)); err != nil {
		return ftpError(fmt.Sprintf("failed to rename %s to %s", oldName, newName), err)
	}
	return nil
}

func (f *FTPConnection) RenameMember(ctx context.Context, dataset, oldMember, newMember string) error {
	return f.RenameDataset(ctx, QualifiedName(dataset, oldMember), QualifiedName(dataset, newMember))
}

func (f *FTPConnection) CreateDataset(ctx context.Context, name string, attrs AllocationAttributes) error {
	c, err := newControlClient(f.host, f.port, f.user, f.password)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.site(siteParams(attrs)...); err != nil {
		return fmt.Errorf("failed to set allocation parameters for %s: %w", name, err)
	}
	if strings.HasPrefix(attrs.Dsorg, "PO") {
		return c.mkd(quoted(name))
	}
	return c.stor(quoted(name), nil)
}

func siteParams(attrs AllocationAttributes) []string {
	var params []string
	if attrs.Recfm != "" {
		params = append(params, "RECFM="+attrs.Recfm)
	}
	if attrs.Lrecl > 0 {
		params = append(params, fmt.Sprintf("LRECL=%d", attrs.Lrecl))
	}
	if attrs.Blksize > 0 {
		params = append(params, fmt.Sprintf("BLKSIZE=%d", attrs.Blksize))
	}
	switch strings.ToUpper(attrs.Alcunit) {
	case "TRK", "TRACKS":
		params = append(params, "TRACKS")
	case "CYL", "CYLINDERS", "":
		params = append(params, "CYLINDERS")
	}
	if attrs.Primary > 0 {
		params = append(params, fmt.Sprintf("PRIMARY=%d", attrs.Primary))
	}
	if attrs.Secondary > 0 {
		params = append(params, fmt.Sprintf("SECONDARY=%d", attrs.Secondary))
	}
	if attrs.Dirblk > 0 {
		params = append(params, fmt.Sprintf("DIRECTORY=%d", attrs.Dirblk))
	}
	if attrs.Dsntype != "" {
		params = append(params, "DSNTYPE="+attrs.Dsntype)
	}
	if attrs.Volser != "" {
		params = append(params, "VOLUME="+attrs.Volser)
	}
	return params
}

func (f *FTPConnection) CreateMember(ctx context.Context, name string) error {
	if f.conn == nil {
		return ErrNotConnected
	}
	if err := f.conn.Stor(quoted(name), bytes.NewReader(nil)); err != nil {
		return ftpError(fmt.Sprintf("failed to create %s", name), err)
	}
	return nil
}

func (f *FTPConnection) AllocateLike(ctx context.Context, name, like string) error {
	model, err := f.GetDataset(ctx, like)
	if err != nil {
		return err
	}

	c, err := newControlClient(f.host, f.port, f.user, f.password)
	if err != nil {
		return err
	}
	defer c.close()

	// DCBDSN models record format, lrecl and blksize on the existing data set
	if err := c.site("DCBDSN=" + quoted(like)); err != nil {
		return fmt.Errorf("failed to allocate %s like %s: %w", name, like, err)
	}
	if model.IsPartitioned() {
		return c.mkd(quoted(name))
	}
	return c.stor(quoted(name), nil)
}

func (f *FTPConnection) exists(ctx context.Context, name string) (bool, error) {
	dataset, member := SplitQualified(name)
	if member == "" {
		_, err := f.GetDataset(ctx, dataset)
		if err != nil {
			if isNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
	members, err := f.ListMembers(ctx, dataset, member)
	if err != nil {
		return false, err
	}
	return len(members) > 0, nil
}

func (f *FTPConnection) copyContent(ctx context.Context, from, to string, replace bool) error {
	if f.conn == nil {
		return ErrNotConnected
	}
	if !replace {
		found, err := f.exists(ctx, to)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("failed to copy %s to %s: %w", from, to, ErrExists)
		}
	}

	opts := TransferOptions{Binary: true}
	data, err := f.retrieve(from, opts)
	if err != nil {
		return err
	}
	if err := f.setType(opts); err != nil {
		return err
	}
	if err := f.conn.Stor(quoted(to), bytes.NewReader(data)); err != nil {
		return ftpError(fmt.Sprintf("failed to copy %s to %s", from, to), err)
	}
	return nil
}

func (f *FTPConnection) CopyMember(ctx context.Context, from, to string, replace bool) error {
	return f.copyContent(ctx, from, to, replace)
}

func (f *FTPConnection) CopyDataset(ctx context.Context, from, to string, replace bool) error {
	return f.copyContent(ctx, from, to, replace)
}

var _ Connection = (*FTPConnection)(nil)
