package cmd

import (
	"fmt"
	"os"

	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
)

var rmForce bool

var rmCmd = &cobra.Command{
	Use:   "rm <dataset(member)> | <dataset>...",
	Short: "Delete members or data sets",
	Long: `Delete PDS members, sequential data sets or whole partitioned data sets.

Examples:
  zm rm 'USER.COBOL(OLDPROG)'
  zm rm USER.TEMP.DATA -f`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "do not ask for confirmation")
}

func runRm(cmd *cobra.Command, args []string) error {
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

	prompter := newTermPrompter("", "", rmForce)
	res := &vfs.BatchResult{Total: len(uris)}
	for _, uri := range uris {
		name := vfs.MustParse(uri).RemoteName()
		ok, err := prompter.confirm(fmt.Sprintf("Delete %s?", name))
		if err != nil {
			return err
		}
		if !ok {
			res.Cancelled++
			continue
		}
		if err := s.provider.Delete(cmd.Context(), uri); err != nil {
			res.ItemFailed(name, err)
			continue
		}
		res.Succeeded++
	}

	printBatch(os.Stdout, os.Stderr, "Deleted", res)
	return res.Err()
}
