package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"zmfs/internal/dsname"
	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
)

var lsLong bool

var lsCmd = &cobra.Command{
	Use:   "ls [pattern | dataset]",
	Short: "List datasets or members",
	Long: `List datasets matching a pattern, or members of a PDS.

Examples:
  zm ls                    # list datasets matching the profile patterns (HLQ.*)
  zm ls 'USER.*.COBOL'     # list datasets matching a pattern
  zm ls 'USERNAME.SOURCE'  # list members in PDS`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "show type and modification time")
}

func runLs(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	uri, err := lsTarget(s, args)
	if err != nil {
		return err
	}

	entries, err := s.provider.ReadDirectory(cmd.Context(), uri)
	if errors.Is(err, vfs.ErrNotDirectory) {
		fmt.Println(vfs.MustParse(uri).RemoteName())
		return nil
	}
	if err != nil {
		return err
	}

	if !lsLong {
		for _, e := range entries {
			fmt.Println(e.Name)
		}
		return nil
	}
	return printLong(os.Stdout, s.provider, vfs.MustParse(uri), entries)
}

// lsTarget picks the address to list: the profile root filtered by the
// given or configured patterns, or a single data set.
func lsTarget(s *session, args []string) (string, error) {
	root := vfs.MustParse("/" + s.profile)

	if len(args) == 0 {
		prof, err := GetCurrentProfile()
		if err != nil {
			return "", err
		}
		patterns := prof.ListPatterns()
		if len(patterns) == 0 {
			return "", fmt.Errorf("no listing pattern: set hlq or patterns in profile %s", s.profile)
		}
		return root.WithQuery(vfs.Query{Pattern: strings.Join(patterns, ",")}).URI(), nil
	}

	arg := dsname.Normalize(args[0])
	if strings.ContainsAny(arg, "*%") {
		for _, p := range strings.Split(arg, ",") {
			if err := dsname.ValidatePattern(p); err != nil {
				return "", err
			}
		}
		return root.WithQuery(vfs.Query{Pattern: arg}).URI(), nil
	}
	return s.uri(args[0])
}

func printLong(out io.Writer, p *vfs.Provider, dir vfs.Address, entries []vfs.DirEntry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tMODIFIED")
	for _, e := range entries {
		info, _ := p.Entry(dir.Child(e.Name).String())
		modified := "-"
		if !info.Mtime.IsZero() {
			modified = info.Mtime.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, entryType(info), modified)
	}
	return w.Flush()
}

func entryType(info vfs.Info) string {
	switch {
	case info.Migrated:
		return "MIGRATED"
	case info.Kind == vfs.KindContainer:
		return "PO"
	case info.IsMember:
		return "MEMBER"
	}
	return "PS"
}
