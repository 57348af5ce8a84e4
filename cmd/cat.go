package cmd

import (
	"os"

	"zmfs/internal/vfs"

	"github.com/spf13/cobra"
)

var (
	catBinary   bool
	catEncoding string
)

var catCmd = &cobra.Command{
	Use:   "cat <dataset(member)> | <dataset>",
	Short: "Display content of a member or sequential data set",
	Long: `Display the content of a PDS member or a sequential data set.

Examples:
  zm cat 'USERNAME.SOURCE(MYPROG)'      # display PDS member
  zm cat USERNAME.DATA --encoding IBM-037
  zm cat /prod/SYS1.PARMLIB/IEASYS00    # virtual path with explicit profile`,
	Args: cobra.ExactArgs(1),
	RunE: runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().BoolVar(&catBinary, "binary", false, "transfer without codepage conversion")
	catCmd.Flags().StringVar(&catEncoding, "encoding", "", "codepage for text transfer (default: profile encoding)")
}

func runCat(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	uri, err := s.uri(args[0])
	if err != nil {
		return err
	}
	uri = withEncoding(uri, catBinary, catEncoding)

	content, err := s.provider.ReadFile(cmd.Context(), uri)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(content)
	return err
}

// withEncoding appends an encoding directive to uri.
func withEncoding(uri string, binary bool, encoding string) string {
	if binary {
		encoding = "binary"
	}
	if encoding == "" {
		return uri
	}
	addr := vfs.MustParse(uri)
	q := addr.Query
	q.Encoding = encoding
	return addr.WithQuery(q).URI()
}
