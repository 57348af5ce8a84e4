package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"zmfs/internal/config"
)

func newTestZOSMF(t *testing.T, handler http.HandlerFunc) *ZOSMFConnection {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	z := NewZOSMFConnection(host, port, "user", "pass", WithInsecureTLS(), WithResponseTimeout(5*time.Second))
	if err := z.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { z.Close() })
	return z
}

func TestNewZOSMFConnection(t *testing.T) {
	conn := NewZOSMFConnection("host.example.com", 443, "user", "pass")
	if conn.host != "host.example.com" {
		t.Errorf("host = %q, want host.example.com", conn.host)
	}
	if conn.port != 443 {
		t.Errorf("port = %d, want 443", conn.port)
	}
	if conn.responseTimeout != 30*time.Second {
		t.Errorf("responseTimeout = %v, want 30s", conn.responseTimeout)
	}
}

func TestNewConnection(t *testing.T) {
	insecure := false
	tests := []struct {
		name     string
		profile  config.Profile
		wantErr  bool
		insecure bool
	}{
		{"zosmf", config.Profile{Host: "host", Port: 443, Protocol: "zosmf"}, false, false},
		{"zosmf insecure", config.Profile{Host: "host", Port: 443, Protocol: "zosmf", RejectUnauthorized: &insecure}, false, true},
		{"ftp", config.Profile{Host: "host", Port: 21, Protocol: "ftp"}, false, false},
		{"invalid", config.Profile{Host: "host", Port: 23, Protocol: "telnet"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := NewConnection(&tt.profile)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewConnection() error = %v, wantErr %v", err, tt.wantErr)
			}
			if z, ok := conn.(*ZOSMFConnection); ok && z.insecure != tt.insecure {
				t.Errorf("insecure = %v, want %v", z.insecure, tt.insecure)
			}
		})
	}
}

func TestZOSMFNotConnected(t *testing.T) {
	z := NewZOSMFConnection("host", 443, "user", "pass")
	_, err := z.Read(context.Background(), "USER.DATA", TransferOptions{})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Read() error = %v, want ErrNotConnected", err)
	}
}

func TestZOSMFReadReturnsEtag(t *testing.T) {
	z := newTestZOSMF(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/zosmf/restfiles/ds/USER.PDS(MEM1)" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("X-IBM-Data-Type"); got != "text;fileEncoding=IBM-1047" {
			t.Errorf("X-IBM-Data-Type = %q, want text;fileEncoding=IBM-1047", got)
		}
		if got := r.Header.Get("X-IBM-Return-Etag"); got != "true" {
			t.Errorf("X-IBM-Return-Etag = %q, want true", got)
		}
		if got := r.Header.Get("X-IBM-Response-Timeout"); got != "5" {
			t.Errorf("X-IBM-Response-Timeout = %q, want 5", got)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "user" || p != "pass" {
			t.Errorf("basic auth = %q/%q", u, p)
		}
		w.Header().Set("ETag", "ABC123")
		io.WriteString(w, "HELLO\n")
	})

	content, err := z.Read(context.Background(), "USER.PDS(MEM1)", TransferOptions{Encoding: "IBM-1047"})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(content.Data) != "HELLO\n" {
		t.Errorf("Data = %q, want HELLO", content.Data)
	}
	if content.Etag != "ABC123" {
		t.Errorf("Etag = %q, want ABC123", content.Etag)
	}
}

func TestZOSMFWriteIfMatch(t *testing.T) {
	tests := []struct {
		name     string
		etag     string
		status   int
		wantEtag string
		wantErr  error
	}{
		{"fresh", "OLD", http.StatusNoContent, "NEW", nil},
		{"forced", "", http.StatusCreated, "NEW", nil},
		{"stale", "STALE", http.StatusPreconditionFailed, "", ErrPreconditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z := newTestZOSMF(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut {
					t.Errorf("method = %q, want PUT", r.Method)
				}
				if got := r.Header.Get("If-Match"); got != tt.etag {
					t.Errorf("If-Match = %q, want %q", got, tt.etag)
				}
				if got := r.Header.Get("X-IBM-Data-Type"); got != "binary" {
					t.Errorf("X-IBM-Data-Type = %q, want binary", got)
				}
				if tt.status == http.StatusPreconditionFailed {
					w.WriteHeader(tt.status)
					io.WriteString(w, `{"message":"Etag mismatch"}`)
					return
				}
				w.Header().Set("ETag", "NEW")
				w.WriteHeader(tt.status)
			})

			etag, err := z.Write(context.Background(), "USER.BIN", []byte{0x01, 0x02}, TransferOptions{Binary: true, Etag: tt.etag})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Write() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if etag != tt.wantEtag {
				t.Errorf("etag = %q, want %q", etag, tt.wantEtag)
			}
		})
	}
}

func TestZOSMFListDatasets(t *testing.T) {
	z := newTestZOSMF(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("dslevel"); got != "USER.*" {
			t.Errorf("dslevel = %q, want USER.*", got)
		}
		if got := r.Header.Get("X-IBM-Attributes"); got != "base" {
			t.Errorf("X-IBM-Attributes = %q, want base", got)
		}
		io.WriteString(w, `{"items":[
			{"dsname":"USER.PDS","dsorg":"PO-E","recfm":"FB","lrecl":"80","blksz":"27920","spacu":"TRACKS","sizex":15,"dsntp":"LIBRARY","vol":"WRK001","cdate":"2025/01/02","rdate":"2025/03/04"},
			{"dsname":"USER.OLD","migr":"YES","vol":"MIGRAT"}
		]}`)
	})

	datasets, err := z.ListDatasets(context.Background(), "USER.*")
	if err != nil {
		t.Fatalf("ListDatasets() error = %v", err)
	}
	if len(datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(datasets))
	}

	want := Dataset{
		Name: "USER.PDS", Dsorg: "PO-E", Recfm: "FB", Lrecl: 80, Blksize: 27920,
		SpaceUnit: "TRACKS", Primary: 15, Dsntype: "LIBRARY", Volser: "WRK001",
		Created: "2025/01/02", Referred: "2025/03/04",
	}
	if datasets[0] != want {
		t.Errorf("datasets[0] = %+v, want %+v", datasets[0], want)
	}
	if !datasets[0].IsPartitioned() {
		t.Error("expected USER.PDS to be partitioned")
	}
	if !datasets[1].Migrated {
		t.Error("expected USER.OLD to be migrated")
	}
}

func TestZOSMFGetDatasetNotFound(t *testing.T) {
	z := newTestZOSMF(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items":[{"dsname":"USER.DATA.OTHER","dsorg":"PS"}]}`)
	})

	_, err := z.GetDataset(context.Background(), "user.data")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDataset() error = %v, want ErrNotFound", err)
	}
}

func TestZOSMFListMembers(t *testing.T) {
	z := newTestZOSMF(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/zosmf/restfiles/ds/USER.PDS/member" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("pattern"); got != "A*" {
			t.Errorf("pattern = %q, want A*", got)
		}
		io.WriteString(w, `{"items":[
			{"member":"ALPHA","vers":1,"mod":2,"c4date":"2025/01/01","m4date":"2025/02/03","mtime":"10:11","msec":"12","cnorc":40,"user":"IBMUSER"},
			{"member":"ANOSTATS"}
		]}`)
	})

	members, err := z.ListMembers(context.Background(), "USER.PDS", "A*")
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].Changed != "2025/02/03 10:11:12" {
		t.Errorf("Changed = %q, want 2025/02/03 10:11:12", members[0].Changed)
	}
	if members[0].Size != 40 {
		t.Errorf("Size = %d, want 40", members[0].Size)
	}
	if members[1].Changed != "" {
		t.Errorf("Changed = %q, want empty", members[1].Changed)
	}
}

func TestZOSMFNotFoundMapping(t *testing.T) {
	z := newTestZOSMF(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"Data set not found","details":[{"messageText":"USER.GONE"}]}`)
	})

	err := z.Delete(context.Background(), "USER.GONE")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() error = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Message != "Data set not found: USER.GONE" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestZOSMFUtilityRequests(t *testing.T) {
	type captured struct {
		method string
		path   string
		body   map[string]any
	}

	tests := []struct {
		name     string
		call     func(z *ZOSMFConnection) error
		wantPath string
		check    func(t *testing.T, body map[string]any)
	}{
		{
			name:     "rename member",
			call:     func(z *ZOSMFConnection) error { return z.RenameMember(context.Background(), "USER.PDS", "OLD", "NEW") },
			wantPath: "/zosmf/restfiles/ds/USER.PDS(NEW)",
			check: func(t *testing.T, body map[string]any) {
				from := body["from-dataset"].(map[string]any)
				if body["request"] != "rename" || from["dsn"] != "USER.PDS" || from["member"] != "OLD" {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name:     "rename dataset",
			call:     func(z *ZOSMFConnection) error { return z.RenameDataset(context.Background(), "USER.A", "USER.B") },
			wantPath: "/zosmf/restfiles/ds/USER.B",
			check: func(t *testing.T, body map[string]any) {
				from := body["from-dataset"].(map[string]any)
				if from["dsn"] != "USER.A" {
					t.Errorf("body = %v", body)
				}
				if _, ok := from["member"]; ok {
					t.Error("member should be omitted")
				}
			},
		},
		{
			name:     "copy member with replace",
			call:     func(z *ZOSMFConnection) error { return z.CopyMember(context.Background(), "USER.A(M1)", "USER.B(M1)", true) },
			wantPath: "/zosmf/restfiles/ds/USER.B(M1)",
			check: func(t *testing.T, body map[string]any) {
				from := body["from-dataset"].(map[string]any)
				if body["request"] != "copy" || body["replace"] != true || from["member"] != "M1" {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name:     "allocate like",
			call:     func(z *ZOSMFConnection) error { return z.AllocateLike(context.Background(), "USER.NEW", "USER.MODEL") },
			wantPath: "/zosmf/restfiles/ds/USER.NEW",
			check: func(t *testing.T, body map[string]any) {
				if body["like"] != "USER.MODEL" {
					t.Errorf("body = %v", body)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			z := newTestZOSMF(t, func(w http.ResponseWriter, r *http.Request) {
				got.method = r.Method
				got.path = r.URL.Path
				json.NewDecoder(r.Body).Decode(&got.body)
				w.WriteHeader(http.StatusOK)
			})

			if err := tt.call(z); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if got.path != tt.wantPath {
				t.Errorf("path = %q, want %q", got.path, tt.wantPath)
			}
			tt.check(t, got.body)
		})
	}
}

func TestFlexInt(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{`80`, 80},
		{`"80"`, 80},
		{`"?"`, 0},
		{`null`, 0},
		{`"abc"`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var f flexInt
			if err := json.Unmarshal([]byte(tt.input), &f); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if int(f) != tt.want {
				t.Errorf("flexInt = %d, want %d", f, tt.want)
			}
		})
	}
}
