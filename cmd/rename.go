package cmd

import (
	"fmt"
	"strings"

	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
)

var renameReplace bool

var renameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a data set or member",
	Long: `Rename a data set, or a member within its data set.

For a member, the new name may be given alone.

Examples:
  zm rename USER.OLD.DATA USER.NEW.DATA
  zm rename 'USER.COBOL(PROG1)' PROG2`,
	Args: cobra.ExactArgs(2),
	RunE: runRename,
}

func init() {
	rootCmd.AddCommand(renameCmd)
	renameCmd.Flags().BoolVar(&renameReplace, "replace", false, "replace an existing member")
}

func runRename(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	oldURI, err := s.uri(args[0])
	if err != nil {
		return err
	}
	newURI, err := renameTarget(s.profile, oldURI, args[1])
	if err != nil {
		return err
	}

	if err := s.provider.Rename(cmd.Context(), oldURI, newURI, vfs.RenameOptions{Overwrite: renameReplace}); err != nil {
		return err
	}
	fmt.Printf("Renamed %s to %s\n", vfs.MustParse(oldURI).RemoteName(), vfs.MustParse(newURI).RemoteName())
	return nil
}

// renameTarget resolves the new name. A bare name for a member source
// stays in the source's data set.
func renameTarget(profile, oldURI, arg string) (string, error) {
	old, err := vfs.Parse(oldURI)
	if err != nil {
		return "", err
	}
	if old.IsMember() && !strings.ContainsAny(arg, "./()") {
		container, _ := old.SplitPath()
		return toURI(old.Profile, fmt.Sprintf("%s(%s)", container, arg))
	}
	return toURI(profile, arg)
}
