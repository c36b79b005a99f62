package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check LLM connectivity with a JSON echo request",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAnnotator()
		if err != nil {
			return err
		}
		reply, err := client.Ping(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("llm reachable", zap.String("backend", client.Backend()))
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
