package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"zmfs/internal/vfs"

	"golang.org/x/term"
)

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

// promptPassword reads a password without echo when stdin is a terminal.
func promptPassword(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(pw))
		}
	}

	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

// termPrompter answers copy decisions from flags, falling back to
// questions on the terminal.
type termPrompter struct {
	in     *bufio.Reader
	out    io.Writer
	dest   string
	member string
	yes    bool
}

func newTermPrompter(dest, member string, yes bool) *termPrompter {
	return &termPrompter{in: bufio.NewReader(os.Stdin), out: os.Stderr, dest: dest, member: member, yes: yes}
}

func (p *termPrompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	input, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(input), nil
}

func (p *termPrompter) DestinationName(ctx context.Context, item vfs.ClipboardItem) (string, error) {
	if p.dest != "" {
		return p.dest, nil
	}
	return p.ask(fmt.Sprintf("New name for %s (empty to cancel)", item.RemoteName()))
}

func (p *termPrompter) MemberName(ctx context.Context, item vfs.ClipboardItem) (string, error) {
	if p.member != "" {
		return p.member, nil
	}
	def := item.Member
	if def == "" {
		if i := strings.LastIndexByte(item.Dataset, '.'); i >= 0 {
			def = item.Dataset[i+1:]
		}
	}
	answer, err := p.ask(fmt.Sprintf("Member name [%s] (- to cancel)", def))
	switch {
	case err != nil:
		return "", err
	case answer == "-":
		return "", nil
	case answer == "":
		return def, nil
	}
	return answer, nil
}

func (p *termPrompter) ConfirmReplace(ctx context.Context, name string) (bool, error) {
	return p.confirm(fmt.Sprintf("%s already exists. Replace?", name))
}

// confirm asks a yes/no question; --yes answers it.
func (p *termPrompter) confirm(question string) (bool, error) {
	if p.yes {
		return true, nil
	}
	answer, err := p.ask(question + " (y/n)")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"), nil
}

var _ vfs.Prompter = (*termPrompter)(nil)
