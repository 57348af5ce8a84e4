package editor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func DetectEditor() string {
	if e := os.Getenv("VISUAL"); e != "" {
		return e
	}
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	return "vi"
}

// Open opens the file in the user's editor and blocks until the editor exits.
func Open(ctx context.Context, path string) error {
	editor := DetectEditor()

	parts := strings.Fields(editor)
	bin := parts[0]
	args := append(parts[1:], path)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}
	return nil
}

// Edit writes content to a temp file named after name, opens it in the
// editor and returns the edited bytes and whether they differ from content.
func Edit(ctx context.Context, name string, content []byte) ([]byte, bool, error) {
	tmpFile, err := writeTempFile(name, content)
	if err != nil {
		return nil, false, err
	}
	defer os.Remove(tmpFile)

	if err := Open(ctx, tmpFile); err != nil {
		return nil, false, err
	}

	modified, err := os.ReadFile(tmpFile)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read edited file: %w", err)
	}
	return modified, !bytes.Equal(content, modified), nil
}

// tempPattern turns a data set or member name into a temp file pattern,
// keeping the last qualifier as the extension so editors pick a syntax
// (USER.COBOL(PROG1) -> PROG1-*.cobol).
func tempPattern(name string) string {
	base, ext := name, ""
	if open := strings.IndexByte(name, '('); open > 0 && strings.HasSuffix(name, ")") {
		base = name[open+1 : len(name)-1]
		if dot := strings.LastIndexByte(name[:open], '.'); dot >= 0 {
			ext = "." + strings.ToLower(name[dot+1:open])
		}
	} else if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base, ext = name[:dot], "."+strings.ToLower(name[dot+1:])
	}
	if ext == "" {
		ext = ".txt"
	}
	base = filepath.Base(strings.ReplaceAll(base, "/", "_"))
	return base + "-*" + ext
}

func writeTempFile(name string, content []byte) (string, error) {
	f, err := os.CreateTemp("", tempPattern(name))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	f.Close()
	return f.Name(), nil
}
