package connection_test

import (
	"context"
	"errors"
	"testing"

	"zmfs/internal/config"
	"zmfs/internal/connection"
	"zmfs/internal/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultProfile: "dev",
		Profiles: map[string]*config.Profile{
			"dev":    {Host: "dev.example.com", User: "ibmuser", Password: "secret", Protocol: "ftp", Encoding: "IBM-1047"},
			"broken": {Host: "prod.example.com", Protocol: "zosmf"},
		},
	}
}

type countingDialer struct {
	dials  map[string]int
	remote *testutil.FakeRemote
	err    error
}

func (d *countingDialer) dial(p *config.Profile) (connection.Connection, error) {
	d.dials[p.Host]++
	if d.err != nil {
		return nil, d.err
	}
	return d.remote, nil
}

func TestPoolReusesConnection(t *testing.T) {
	d := &countingDialer{dials: map[string]int{}, remote: testutil.NewFakeRemote()}
	d.remote.AddSequential("USER.DATA", "hello")
	pool := connection.NewPool(testConfig(), connection.WithDialer(d.dial))
	ctx := context.Background()

	first, err := pool.Connection(ctx, "dev")
	if err != nil {
		t.Fatalf("Connection() error: %v", err)
	}
	second, err := pool.Connection(ctx, "dev")
	if err != nil {
		t.Fatalf("Connection() error: %v", err)
	}
	if first != second {
		t.Error("Connection() returned a new connection for the same profile")
	}
	if d.dials["dev.example.com"] != 1 {
		t.Errorf("dials = %d, want 1", d.dials["dev.example.com"])
	}

	content, err := first.Read(ctx, "USER.DATA", connection.TransferOptions{})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(content.Data) != "hello" {
		t.Errorf("Read() = %q, want %q", content.Data, "hello")
	}

	if err := pool.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := pool.Connection(ctx, "dev"); err != nil {
		t.Fatalf("Connection() after Close error: %v", err)
	}
	if d.dials["dev.example.com"] != 2 {
		t.Errorf("dials after Close = %d, want 2", d.dials["dev.example.com"])
	}
}

func TestPoolErrors(t *testing.T) {
	dialErr := errors.New("connection refused")
	tests := []struct {
		name    string
		profile string
		dialErr error
	}{
		{"unknown profile", "nope", nil},
		{"invalid profile", "broken", nil},
		{"dial failure", "dev", dialErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &countingDialer{dials: map[string]int{}, remote: testutil.NewFakeRemote(), err: tt.dialErr}
			pool := connection.NewPool(testConfig(), connection.WithDialer(d.dial))
			_, err := pool.Connection(context.Background(), tt.profile)
			if err == nil {
				t.Fatalf("Connection(%q) error = nil, want error", tt.profile)
			}
			if tt.dialErr != nil && !errors.Is(err, tt.dialErr) {
				t.Errorf("Connection(%q) error = %v, want %v", tt.profile, err, tt.dialErr)
			}
		})
	}
}

func TestPoolEncoding(t *testing.T) {
	pool := connection.NewPool(testConfig())
	if got := pool.Encoding("dev"); got != "IBM-1047" {
		t.Errorf("Encoding(dev) = %q, want %q", got, "IBM-1047")
	}
	if got := pool.Encoding("nope"); got != "" {
		t.Errorf("Encoding(nope) = %q, want empty", got)
	}
}
