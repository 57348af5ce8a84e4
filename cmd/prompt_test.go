package cmd

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"

	"zmfs/internal/vfs"
)

func testPrompter(input string) *termPrompter {
	return &termPrompter{in: bufio.NewReader(strings.NewReader(input)), out: io.Discard}
}

func TestConfirmReplace(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			got, err := testPrompter(tt.input).ConfirmReplace(context.Background(), "A.B(C)")
			if err != nil {
				t.Fatalf("ConfirmReplace() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ConfirmReplace(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	p := testPrompter("")
	p.yes = true
	if ok, _ := p.ConfirmReplace(context.Background(), "A.B"); !ok {
		t.Error("ConfirmReplace() with --yes = false, want true")
	}
}

func TestMemberName(t *testing.T) {
	member := vfs.ClipboardItem{Profile: "dev", Dataset: "USER.PDS", Member: "PROG1", Context: vfs.ContextMember}
	seq := vfs.ClipboardItem{Profile: "dev", Dataset: "USER.JCL.DATA", Context: vfs.ContextSequential}

	tests := []struct {
		name  string
		item  vfs.ClipboardItem
		input string
		want  string
	}{
		{"default member", member, "\n", "PROG1"},
		{"default from last qualifier", seq, "\n", "DATA"},
		{"explicit", member, "prog2\n", "prog2"},
		{"cancel", member, "-\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := testPrompter(tt.input).MemberName(context.Background(), tt.item)
			if err != nil {
				t.Fatalf("MemberName() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("MemberName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDestinationNameFromFlag(t *testing.T) {
	p := testPrompter("")
	p.dest = "USER.NEW"
	got, err := p.DestinationName(context.Background(), vfs.ClipboardItem{Dataset: "USER.OLD"})
	if err != nil {
		t.Fatalf("DestinationName() error: %v", err)
	}
	if got != "USER.NEW" {
		t.Errorf("DestinationName() = %q, want %q", got, "USER.NEW")
	}
}
