package cmd

import (
	"fmt"
	"io"
	"os"

	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
)

var mvCmd = &cobra.Command{
	Use:   "mv <source>... <target>",
	Short: "Move data sets or members",
	Long: `Move a partitioned data set, a sequential data set or members.

A partitioned data set is moved member by member into a new data set with
the source's allocation; the source is deleted only when every member moved.
Members may be moved across profiles by using virtual paths.

Examples:
  zm mv USER.OLD.COBOL USER.NEW.COBOL
  zm mv 'USER.COBOL(PROG1)' 'USER.COBOL(PROG2)'
  zm mv 'USER.A(M1)' 'USER.A(M2)' USER.B          # into USER.B
  zm mv /dev/USER.COBOL/PROG1 /prod/PROD.COBOL     # across profiles`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMv,
}

func init() {
	rootCmd.AddCommand(mvCmd)
}

func runMv(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	uris := make([]string, len(args))
	for i, arg := range args {
		if uris[i], err = s.uri(arg); err != nil {
			return err
		}
	}

	items, err := moveTargets(uris[:len(uris)-1], uris[len(uris)-1])
	if err != nil {
		return err
	}

	res, err := vfs.NewMover(s.provider, nil).MoveAll(cmd.Context(), items)
	if res != nil {
		printBatch(os.Stdout, os.Stderr, "Moved", res)
	}
	if err != nil {
		return err
	}
	return res.Err()
}

// moveTargets pairs each source with its destination. A member moved onto
// a data set name lands in that data set under its own name. Several
// sources must all be members.
func moveTargets(srcs []string, dst string) ([]vfs.Transfer, error) {
	target, err := vfs.Parse(dst)
	if err != nil {
		return nil, err
	}

	items := make([]vfs.Transfer, 0, len(srcs))
	for _, src := range srcs {
		addr, err := vfs.Parse(src)
		if err != nil {
			return nil, err
		}
		switch {
		case addr.IsMember() && !target.IsMember():
			_, leaf := addr.SplitPath()
			items = append(items, vfs.Transfer{Src: src, Dst: target.Child(leaf).URI()})
		case len(srcs) > 1:
			return nil, fmt.Errorf("moving several sources needs members into a data set, got %s", addr.RemoteName())
		default:
			items = append(items, vfs.Transfer{Src: src, Dst: dst})
		}
	}
	return items, nil
}

// printBatch writes the summary of a batch and each item failure.
func printBatch(out, errOut io.Writer, verb string, res *vfs.BatchResult) {
	fmt.Fprintf(out, "%s: %s\n", verb, res)
	for _, err := range res.Failures() {
		fmt.Fprintf(errOut, "  %v\n", err)
	}
}
