package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"zmfs/internal/editor"
	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
)

var (
	editBinary   bool
	editEncoding string
)

var editCmd = &cobra.Command{
	Use:   "edit <dataset(member)> | <dataset>",
	Short: "Edit a member or sequential data set",
	Long: `Download a PDS member or sequential data set, open it in your editor,
and upload changes. If the data set changed on the host while you were
editing, you are asked whether to overwrite it or discard your edit.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().BoolVar(&editBinary, "binary", false, "transfer without codepage conversion")
	editCmd.Flags().StringVar(&editEncoding, "encoding", "", "codepage for text transfer (default: profile encoding)")
}

func runEdit(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	uri, err := s.uri(args[0])
	if err != nil {
		return err
	}
	uri = withEncoding(uri, editBinary, editEncoding)
	name := vfs.MustParse(uri).RemoteName()

	content, err := s.provider.ReadFile(cmd.Context(), uri)
	if err != nil {
		return err
	}

	modified, changed, err := editor.Edit(cmd.Context(), name, content)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Println("No changes, skipping upload")
		return nil
	}

	err = s.provider.WriteFile(cmd.Context(), uri, modified, vfs.WriteOptions{Overwrite: true})
	var conflict *vfs.ConflictError
	if errors.As(err, &conflict) {
		r, err := askResolution(bufio.NewReader(os.Stdin), os.Stderr, name)
		if err != nil {
			return err
		}
		if err := s.provider.ResolveConflict(cmd.Context(), uri, r); err != nil {
			return err
		}
		if r == vfs.ResolveDiscard {
			fmt.Printf("Discarded local changes to %s\n", name)
			return nil
		}
	} else if err != nil {
		return err
	}

	fmt.Printf("Uploaded %s\n", name)
	return nil
}

// askResolution asks how to settle a write rejected because the remote copy
// changed.
func askResolution(in *bufio.Reader, out io.Writer, name string) (vfs.Resolution, error) {
	for {
		fmt.Fprintf(out, "%s was changed on the host. [o]verwrite / [d]iscard: ", name)
		answer, err := in.ReadString('\n')
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("failed to read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "o", "overwrite":
			return vfs.ResolveOverwrite, nil
		case "d", "discard":
			return vfs.ResolveDiscard, nil
		}
		if err == io.EOF {
			return 0, fmt.Errorf("no resolution chosen for %s", name)
		}
	}
}
