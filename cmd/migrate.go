package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the pipeline tables on a sqlite or postgres warehouse",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer closeWarehouse(wh, &err)

		if err := wh.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("migrations complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
