package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pipscreen/internal/similarity"
)

var scoreCmd = &cobra.Command{
	Use:   "score <query> <candidate>...",
	Short: "Show how a query scores against candidate names",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CANDIDATE\tMATCH\tTOKEN_SET\tLEVENSHTEIN")
		for _, candidate := range args[1:] {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n",
				candidate,
				similarity.MatchScore(query, candidate),
				similarity.TokenSetRatio(query, candidate),
				similarity.LevenshteinRatio(query, candidate),
			)
		}
		return w.Flush()
	},
}
