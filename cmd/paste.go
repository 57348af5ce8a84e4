package cmd

import (
	"fmt"

	"zmfs/internal/dsname"
	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
)

var (
	pasteMember string
	pasteYes    bool
)

var pasteCmd = &cobra.Command{
	Use:   "paste <source> <target>",
	Short: "Paste a member or sequential data set into a PDS or over a file",
	Long: `Copy a member or sequential data set into a partitioned data set, or
over an existing member or sequential data set of the same profile.

Pasting into a PDS asks for the member name unless --member is given.

Examples:
  zm paste 'USER.COBOL(PROG1)' USER.BACKUP
  zm paste USER.JCL.DATA USER.JCL --member JOB1
  zm paste 'USER.A(M1)' 'USER.B(M1)' --yes`,
	Args: cobra.ExactArgs(2),
	RunE: runPaste,
}

func init() {
	rootCmd.AddCommand(pasteCmd)
	pasteCmd.Flags().StringVarP(&pasteMember, "member", "m", "", "member name in the target PDS")
	pasteCmd.Flags().BoolVarP(&pasteYes, "yes", "y", false, "replace an existing target without asking")
}

func runPaste(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	src, err := s.uri(args[0])
	if err != nil {
		return err
	}
	target, err := s.uri(args[1])
	if err != nil {
		return err
	}

	item, err := s.provider.Clip(cmd.Context(), src)
	if err != nil {
		return err
	}

	var failure error
	copier := vfs.NewCopier(s.provider, newTermPrompter("", dsname.Normalize(pasteMember), pasteYes),
		vfs.ReporterFunc(func(name string, err error) { failure = fmt.Errorf("%s: %w", name, err) }))
	ok, err := copier.Paste(cmd.Context(), item, target)
	if err != nil {
		return err
	}
	if failure != nil {
		return failure
	}
	if !ok {
		fmt.Println("Paste cancelled")
		return nil
	}
	fmt.Printf("Pasted %s into %s\n", item.RemoteName(), vfs.MustParse(target).RemoteName())
	return nil
}
