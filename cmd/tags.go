package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Manage the tag vocabulary",
}

var tagsLoadFile string

var tagsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Upsert tag definitions from a JSON export into the tag dimension",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		data, err := os.ReadFile(tagsLoadFile)
		if err != nil {
			return failure.Wrapf(failure.KindPrecondition, err, "tags: read %s", tagsLoadFile)
		}
		records, err := model.ParseTagRecords(data)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer closeWarehouse(wh, &err)

		n, err := wh.UpsertTags(ctx, records)
		if err != nil {
			return err
		}
		logger.Info("tags loaded", zap.String("file", tagsLoadFile), zap.Int("count", n))
		return nil
	},
}

var tagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the active vocabulary after tag filters as JSON",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer closeWarehouse(wh, &err)

		vocab, err := wh.FetchTagVocabulary(ctx, cfg.TagFilters)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(vocab.Definitions())
	},
}

func init() {
	tagsLoadCmd.Flags().StringVar(&tagsLoadFile, "file", "", "JSON file with tag records (list, or wrapped under data/return_dim_tag)")
	_ = tagsLoadCmd.MarkFlagRequired("file")

	tagsCmd.AddCommand(tagsLoadCmd, tagsListCmd)
	rootCmd.AddCommand(tagsCmd)
}
