package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{
			name: "valid ftp profile",
			profile: Profile{
				Host:     "mainframe.example.com",
				User:     "user",
				Password: "pass",
				Protocol: "ftp",
			},
			wantErr: false,
		},
		{
			name: "valid zosmf profile",
			profile: Profile{
				Host:     "mainframe.example.com",
				User:     "user",
				Password: "pass",
				Protocol: "zosmf",
			},
			wantErr: false,
		},
		{
			name: "missing host",
			profile: Profile{
				User:     "user",
				Password: "pass",
				Protocol: "ftp",
			},
			wantErr: true,
		},
		{
			name: "missing user",
			profile: Profile{
				Host:     "mainframe.example.com",
				Password: "pass",
				Protocol: "ftp",
			},
			wantErr: true,
		},
		{
			name: "missing password",
			profile: Profile{
				Host:     "mainframe.example.com",
				User:     "user",
				Protocol: "ftp",
			},
			wantErr: true,
		},
		{
			name: "invalid protocol",
			profile: Profile{
				Host:     "mainframe.example.com",
				User:     "user",
				Password: "pass",
				Protocol: "telnet",
			},
			wantErr: true,
		},
		{
			name: "negative timeout",
			profile: Profile{
				Host:            "mainframe.example.com",
				User:            "user",
				Password:        "pass",
				Protocol:        "zosmf",
				ResponseTimeout: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".zmconfig")

	original := &Config{
		Profiles: map[string]*Profile{
			"test": {
				Host:     "mainframe.example.com",
				Port:     21,
				User:     "testuser",
				Password: "testpass",
				Protocol: "ftp",
				HLQ:      "TESTUSER",
				USSHome:  "/u/testuser",
				Encoding: "IBM-1047",
				Patterns: []string{"TESTUSER.*", "SYS1.PROCLIB"},
			},
		},
		DefaultProfile: "test",
	}

	if err := original.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Check file permissions
	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file permissions = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.DefaultProfile != original.DefaultProfile {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, original.DefaultProfile)
	}

	profile, err := loaded.GetProfile("test")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}

	if profile.Host != "mainframe.example.com" {
		t.Errorf("Host = %q, want mainframe.example.com", profile.Host)
	}
	if profile.User != "testuser" {
		t.Errorf("User = %q, want testuser", profile.User)
	}
	if profile.Encoding != "IBM-1047" {
		t.Errorf("Encoding = %q, want IBM-1047", profile.Encoding)
	}
	if len(profile.Patterns) != 2 || profile.Patterns[1] != "SYS1.PROCLIB" {
		t.Errorf("Patterns = %v, want [TESTUSER.* SYS1.PROCLIB]", profile.Patterns)
	}
}

func TestConfigGetProfile(t *testing.T) {
	cfg := &Config{
		Profiles: map[string]*Profile{
			"prod": {Host: "prod.example.com"},
			"dev":  {Host: "dev.example.com"},
		},
		DefaultProfile: "prod",
	}

	t.Run("get by name", func(t *testing.T) {
		p, err := cfg.GetProfile("dev")
		if err != nil {
			t.Fatalf("error: %v", err)
		}
		if p.Host != "dev.example.com" {
			t.Errorf("Host = %q, want dev.example.com", p.Host)
		}
	})

	t.Run("get default", func(t *testing.T) {
		p, err := cfg.GetProfile("")
		if err != nil {
			t.Fatalf("error: %v", err)
		}
		if p.Host != "prod.example.com" {
			t.Errorf("Host = %q, want prod.example.com", p.Host)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := cfg.GetProfile("nonexistent")
		if err == nil {
			t.Error("expected error for nonexistent profile")
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".zmconfig")

	// Config without port and protocol
	content := `profiles:
  test:
    host: mainframe.example.com
    user: user
    password: pass
  rest:
    host: zosmf.example.com
    user: user
    password: pass
    protocol: zosmf
    reject_unauthorized: false
default_profile: test
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	profile, _ := cfg.GetProfile("test")
	if profile.Port != DefaultFTPPort {
		t.Errorf("Port = %d, want %d", profile.Port, DefaultFTPPort)
	}
	if profile.Protocol != DefaultProtocol {
		t.Errorf("Protocol = %q, want %q", profile.Protocol, DefaultProtocol)
	}
	if profile.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v, want 30s", profile.Timeout())
	}
	if !profile.VerifyTLS() {
		t.Error("VerifyTLS() = false, want true by default")
	}

	zosmf, _ := cfg.GetProfile("rest")
	if zosmf.Port != DefaultZOSMFPort {
		t.Errorf("zosmf Port = %d, want %d", zosmf.Port, DefaultZOSMFPort)
	}
	if zosmf.VerifyTLS() {
		t.Error("VerifyTLS() = true, want false when reject_unauthorized is false")
	}
}

func TestListPatterns(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		want    []string
	}{
		{"explicit", Profile{Patterns: []string{"A.*", "B.C"}, HLQ: "X"}, []string{"A.*", "B.C"}},
		{"from hlq", Profile{HLQ: "falzone", User: "other"}, []string{"FALZONE.*"}},
		{"from user", Profile{User: "ibmuser"}, []string{"IBMUSER.*"}},
		{"none", Profile{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.profile.ListPatterns()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ListPatterns() = %v, want %v", got, tt.want)
			}
		})
	}
}
