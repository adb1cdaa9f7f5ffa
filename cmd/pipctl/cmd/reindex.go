package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	platformredis "pipscreen/internal/platform/redis"
	registrystore "pipscreen/internal/registry/store"
	"pipscreen/internal/tokenindex"
)

var reindexSuggest []string

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the corpus token index and publish its snapshot",
	Long: "Scans every PIP and associate name and identifier. When REDIS_URL is " +
		"set the result replaces the shared snapshot, so running servers pick it " +
		"up on their next refresh.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		opts := []tokenindex.Option{tokenindex.WithLogger(log)}
		rc, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		if rc != nil {
			defer rc.Close()
			opts = append(opts, tokenindex.WithSnapshot(
				tokenindex.NewRedisSnapshot(rc.Client, tokenindex.WithSnapshotNamespace(cfg.Environment)),
			))
		}

		index, err := tokenindex.New(registrystore.NewPostgres(db), opts...)
		if err != nil {
			return err
		}
		n, err := index.Refresh(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "indexed %d word(s)\n", n)

		for _, word := range reindexSuggest {
			suggestions, err := index.Suggest(ctx, word, cfg.Screening.Suggestions)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s\n", word, strings.Join(suggestions, ", "))
		}
		return nil
	},
}

func init() {
	reindexCmd.Flags().StringSliceVar(&reindexSuggest, "suggest", nil, "print phonetic suggestions for these words after rebuilding")
}
