package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pipscreen/internal/screening/parser"
	dErrors "pipscreen/pkg/domain-errors"
)

var parseJSON bool

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Validate a bulk screening upload offline",
	Long:  "Runs the same CSV/XLSX parser as POST /screening/bulk without consuming quota.",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print parsed rows as JSON")
}

func runParse(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	rows, err := parser.Parse(filepath.Base(path), f)
	if err != nil {
		if details := dErrors.DetailsOf(err); len(details) > 0 {
			return fmt.Errorf("%s %v", dErrors.MessageOf(err), details)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if parseJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	fmt.Fprintf(out, "%s: %d row(s), would consume %d batch screening(s)\n", filepath.Base(path), len(rows), len(rows))
	return nil
}
