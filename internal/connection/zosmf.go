package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const restFiles = "/zosmf/restfiles/ds"

type ZOSMFConnection struct {
	host            string
	port            int
	user            string
	password        string
	responseTimeout time.Duration
	insecure        bool
	client          *http.Client
	transport       *http.Transport
	baseURL         string
}

// ZOSMFOption configures a ZOSMFConnection.
type ZOSMFOption func(*ZOSMFConnection)

// WithResponseTimeout sets both the client timeout and the
// X-IBM-Response-Timeout header.
func WithResponseTimeout(d time.Duration) ZOSMFOption {
	return func(z *ZOSMFConnection) {
		z.responseTimeout = d
	}
}

// WithInsecureTLS disables server certificate verification.
func WithInsecureTLS() ZOSMFOption {
	return func(z *ZOSMFConnection) {
		z.insecure = true
	}
}

func NewZOSMFConnection(host string, port int, user, password string, opts ...ZOSMFOption) *ZOSMFConnection {
	z := &ZOSMFConnection{
		host:            host,
		port:            port,
		user:            user,
		password:        password,
		responseTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

func (z *ZOSMFConnection) Connect() error {
	z.baseURL = fmt.Sprintf("https://%s", net.JoinHostPort(z.host, strconv.Itoa(z.port)))
	z.transport = &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: z.insecure,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
	}
	z.client = &http.Client{
		Timeout:   z.responseTimeout,
		Transport: z.transport,
	}
	return nil
}

func (z *ZOSMFConnection) Close() error {
	if z.transport != nil {
		z.transport.CloseIdleConnections()
	}
	z.client = nil
	z.transport = nil
	return nil
}

func (z *ZOSMFConnection) doRequest(ctx context.Context, method, path string, body io.Reader, extraHeaders ...string) (*http.Response, error) {
	if z.client == nil {
		return nil, ErrNotConnected
	}
	req, err := http.NewRequestWithContext(ctx, method, z.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(z.user, z.password)
	req.Header.Set("X-CSRF-ZOSMF-HEADER", "*")
	if z.responseTimeout > 0 {
		req.Header.Set("X-IBM-Response-Timeout", strconv.Itoa(int(z.responseTimeout.Seconds())))
	}

	for i := 0; i+1 < len(extraHeaders); i += 2 {
		req.Header.Set(extraHeaders[i], extraHeaders[i+1])
	}

	return z.client.Do(req)
}

func isSuccess(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// dsPath builds the REST path for DS or DS(MEMBER).
func dsPath(name string) string {
	return restFiles + "/" + url.PathEscape(strings.Trim(name, "'"))
}

func dataTypeHeader(opts TransferOptions) string {
	if opts.Binary {
		return "binary"
	}
	if opts.Encoding != "" {
		return "text;fileEncoding=" + opts.Encoding
	}
	return "text"
}

// sendJSON issues a request with a JSON body and discards a successful response.
func (z *ZOSMFConnection) sendJSON(ctx context.Context, method, path, action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	resp, err := z.doRequest(ctx, method, path, bytes.NewReader(body), "Content-Type", "application/json")
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if !isSuccess(resp) {
		return zosmfError(action, resp)
	}
	resp.Body.Close()
	return nil
}

// --- Dataset operations ---

// flexInt accepts both JSON numbers and numeric strings; z/OSMF reports
// several allocation attributes as strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || s == "?" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

type dsListItem struct {
	Dsname string  `json:"dsname"`
	Dsorg  string  `json:"dsorg"`
	Migr   string  `json:"migr"`
	Recfm  string  `json:"recfm"`
	Lrecl  flexInt `json:"lrecl"`
	Blksz  flexInt `json:"blksz"`
	Spacu  string  `json:"spacu"`
	Sizex  flexInt `json:"sizex"`
	Dsntp  string  `json:"dsntp"`
	Vol    string  `json:"vol"`
	Cdate  string  `json:"cdate"`
	Rdate  string  `json:"rdate"`
}

type dsListResponse struct {
	Items []dsListItem `json:"items"`
}

func (item dsListItem) toDataset() Dataset {
	return Dataset{
		Name:      item.Dsname,
		Dsorg:     item.Dsorg,
		Migrated:  strings.EqualFold(item.Migr, "YES"),
		Recfm:     item.Recfm,
		Lrecl:     int(item.Lrecl),
		Blksize:   int(item.Blksz),
		SpaceUnit: item.Spacu,
		Primary:   int(item.Sizex),
		Dsntype:   item.Dsntp,
		Volser:    item.Vol,
		Created:   item.Cdate,
		Referred:  item.Rdate,
	}
}

func (z *ZOSMFConnection) ListDatasets(ctx context.Context, pattern string) ([]Dataset, error) {
	path := restFiles + "?dslevel=" + url.QueryEscape(pattern)
	resp, err := z.doRequest(ctx, "GET", path, nil, "X-IBM-Attributes", "base", "X-IBM-Max-Items", "0")
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, zosmfError("failed to list datasets", resp)
	}
	defer resp.Body.Close()

	var result dsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse dataset list: %w", err)
	}

	datasets := make([]Dataset, 0, len(result.Items))
	for _, item := range result.Items {
		datasets = append(datasets, item.toDataset())
	}
	return datasets, nil
}

func (z *ZOSMFConnection) GetDataset(ctx context.Context, name string) (*Dataset, error) {
	dsn := strings.ToUpper(strings.Trim(name, "'"))
	datasets, err := z.ListDatasets(ctx, dsn)
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

type memberListResponse struct {
	Items []struct {
		Member string `json:"member"`
		Vers   int    `json:"vers"`
		Mod    int    `json:"mod"`
		C4date string `json:"c4date"`
		M4date string `json:"m4date"`
		Mtime  string `json:"mtime"`
		Msec   string `json:"msec"`
		Cnorc  int    `json:"cnorc"`
		Inorc  int    `json:"inorc"`
		Mnorc  int    `json:"mnorc"`
		User   string `json:"user"`
	} `json:"items"`
}

func (z *ZOSMFConnection) ListMembers(ctx context.Context, dataset, pattern string) ([]Member, error) {
	dsn := strings.Trim(dataset, "'")
	path := dsPath(dsn) + "/member"
	if pattern != "" {
		path += "?pattern=" + url.QueryEscape(pattern)
	}
	resp, err := z.doRequest(ctx, "GET", path, nil, "X-IBM-Attributes", "base", "X-IBM-Max-Items", "0")
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, zosmfError(fmt.Sprintf("failed to list members of %s", dsn), resp)
	}
	defer resp.Body.Close()

	var result memberListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse member list: %w", err)
	}

	members := make([]Member, 0, len(result.Items))
	for _, item := range result.Items {
		m := Member{
			Name:    item.Member,
			VV:      item.Vers,
			MM:      item.Mod,
			Created: item.C4date,
			Size:    item.Cnorc,
			Init:    item.Inorc,
			Mod:     item.Mnorc,
			User:    item.User,
		}
		switch {
		case item.Mtime != "" && item.Msec != "":
			m.Changed = item.M4date + " " + item.Mtime + ":" + item.Msec
		case item.Mtime != "":
			m.Changed = item.M4date + " " + item.Mtime
		default:
			m.Changed = item.M4date
		}
		members = append(members, m)
	}
	return members, nil
}

func (z *ZOSMFConnection) Read(ctx context.Context, name string, opts TransferOptions) (*Content, error) {
	resp, err := z.doRequest(ctx, "GET", dsPath(name), nil,
		"X-IBM-Data-Type", dataTypeHeader(opts), "X-IBM-Return-Etag", "true")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, zosmfError(fmt.Sprintf("failed to read %s", name), resp)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return &Content{Data: data, Etag: resp.Header.Get("ETag")}, nil
}

func (z *ZOSMFConnection) Write(ctx context.Context, name string, content []byte, opts TransferOptions) (string, error) {
	headers := []string{"X-IBM-Data-Type", dataTypeHeader(opts), "X-IBM-Return-Etag", "true"}
	if opts.Binary {
		headers = append(headers, "Content-Type", "application/octet-stream")
	} else {
		headers = append(headers, "Content-Type", "text/plain")
	}
	if opts.Etag != "" {
		headers = append(headers, "If-Match", opts.Etag)
	}

	resp, err := z.doRequest(ctx, "PUT", dsPath(name), bytes.NewReader(content), headers...)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", zosmfError(fmt.Sprintf("failed to write %s", name), resp)
	}
	resp.Body.Close()

	return resp.Header.Get("ETag"), nil
}

func (z *ZOSMFConnection) Delete(ctx context.Context, name string) error {
	resp, err := z.doRequest(ctx, "DELETE", dsPath(name), nil)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	if !isSuccess(resp) {
		return zosmfError(fmt.Sprintf("failed to delete %s", name), resp)
	}
	resp.Body.Close()
	return nil
}

type fromDataset struct {
	Dsn    string `json:"dsn"`
	Member string `json:"member,omitempty"`
}

type utilityRequest struct {
	Request     string      `json:"request"`
	FromDataset fromDataset `json:"from-dataset"`
	Replace     *bool       `json:"replace,omitempty"`
}

func (z *ZOSMFConnection) RenameDataset(ctx context.Context, oldName, newName string) error {
	req := utilityRequest{Request: "rename", FromDataset: fromDataset{Dsn: oldName}}
	return z.sendJSON(ctx, "PUT", dsPath(newName), fmt.Sprintf("failed to rename %s to %s", oldName, newName), req)
}

func (z *ZOSMFConnection) RenameMember(ctx context.Context, dataset, oldMember, newMember string) error {
	req := utilityRequest{Request: "rename", FromDataset: fromDataset{Dsn: dataset, Member: oldMember}}
	action := fmt.Sprintf("failed to rename %s to %s", QualifiedName(dataset, oldMember), QualifiedName(dataset, newMember))
	return z.sendJSON(ctx, "PUT", dsPath(QualifiedName(dataset, newMember)), action, req)
}

func (z *ZOSMFConnection) CreateDataset(ctx context.Context, name string, attrs AllocationAttributes) error {
	return z.sendJSON(ctx, "POST", dsPath(name), fmt.Sprintf("failed to create %s", name), attrs)
}

func (z *ZOSMFConnection) CreateMember(ctx context.Context, name string) error {
	resp, err := z.doRequest(ctx, "PUT", dsPath(name), bytes.NewReader(nil),
		"X-IBM-Data-Type", "text", "Content-Type", "text/plain")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if !isSuccess(resp) {
		return zosmfError(fmt.Sprintf("failed to create %s", name), resp)
	}
	resp.Body.Close()
	return nil
}

func (z *ZOSMFConnection) AllocateLike(ctx context.Context, name, like string) error {
	payload := struct {
		Like string `json:"like"`
	}{Like: like}
	return z.sendJSON(ctx, "POST", dsPath(name), fmt.Sprintf("failed to allocate %s like %s", name, like), payload)
}

func (z *ZOSMFConnection) CopyMember(ctx context.Context, from, to string, replace bool) error {
	fromDS, fromMember := SplitQualified(from)
	req := utilityRequest{
		Request:     "copy",
		FromDataset: fromDataset{Dsn: fromDS, Member: fromMember},
		Replace:     &replace,
	}
	return z.sendJSON(ctx, "PUT", dsPath(to), fmt.Sprintf("failed to copy %s to %s", from, to), req)
}

func (z *ZOSMFConnection) CopyDataset(ctx context.Context, from, to string, replace bool) error {
	req := utilityRequest{
		Request:     "copy",
		FromDataset: fromDataset{Dsn: from},
		Replace:     &replace,
	}
	return z.sendJSON(ctx, "PUT", dsPath(to), fmt.Sprintf("failed to copy %s to %s", from, to), req)
}

var _ Connection = (*ZOSMFConnection)(nil)
