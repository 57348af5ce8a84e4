package cmd

import (
	"fmt"
	"os"

	"zmfs/internal/dsname"
	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
)

var (
	cpTo  string
	cpYes bool
)

var cpCmd = &cobra.Command{
	Use:   "cp <dataset>...",
	Short: "Copy partitioned or sequential data sets",
	Long: `Copy whole data sets to new names. Partitioned data sets are copied
member by member into a data set allocated like the source.

Existing targets are never replaced without confirmation. Answering no
for a partitioned target asks again for each member that already exists.

Examples:
  zm cp USER.COBOL --to USER.COBOL.BACKUP
  zm cp USER.JCL USER.PROCLIB      # asks for each new name`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCp,
}

func init() {
	rootCmd.AddCommand(cpCmd)
	cpCmd.Flags().StringVar(&cpTo, "to", "", "name of the copy (single source only)")
	cpCmd.Flags().BoolVarP(&cpYes, "yes", "y", false, "replace existing targets without asking")
}

func runCp(cmd *cobra.Command, args []string) error {
	if cpTo != "" && len(args) > 1 {
		return fmt.Errorf("--to needs exactly one source, got %d", len(args))
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	items := make([]vfs.ClipboardItem, 0, len(args))
	for _, arg := range args {
		uri, err := s.uri(arg)
		if err != nil {
			return err
		}
		item, err := s.provider.Clip(cmd.Context(), uri)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	copier := vfs.NewCopier(s.provider, newTermPrompter(dsname.Normalize(cpTo), "", cpYes), nil)
	res, err := copier.CopyDatasets(cmd.Context(), items)
	if res != nil {
		printBatch(os.Stdout, os.Stderr, "Copied", res)
	}
	if err != nil {
		return err
	}
	return res.Err()
}
