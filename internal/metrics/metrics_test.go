package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRemoteCall(t *testing.T) {
	ok := testutil.ToFloat64(remoteRequestsTotal.WithLabelValues("read", "ok"))
	failed := testutil.ToFloat64(remoteRequestsTotal.WithLabelValues("read", "error"))

	RecordRemoteCall("read", time.Now(), nil)
	RecordRemoteCall("read", time.Now(), errors.New("boom"))
	RecordRemoteCall("read", time.Now(), nil)

	if got := testutil.ToFloat64(remoteRequestsTotal.WithLabelValues("read", "ok")) - ok; got != 2 {
		t.Errorf("success count delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(remoteRequestsTotal.WithLabelValues("read", "error")) - failed; got != 1 {
		t.Errorf("error count delta = %v, want 1", got)
	}
}

func TestRecordItem(t *testing.T) {
	before := testutil.ToFloat64(moveItemsTotal.WithLabelValues("move", "failed"))
	RecordItem("move", false)
	if got := testutil.ToFloat64(moveItemsTotal.WithLabelValues("move", "failed")) - before; got != 1 {
		t.Errorf("failed count delta = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	RecordConflict()
	RecordCacheHit()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"zm_write_conflicts_total", "zm_cache_lookups_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
