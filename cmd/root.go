package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/return-etl/internal/config"
	"github.com/sells-group/return-etl/internal/failure"
)

var (
	cfg        *config.Config
	logger     *zap.Logger
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "return-etl",
	Short: "Return review annotation pipeline",
	Long: "Pulls candidate return reviews from the warehouse, annotates each with an LLM against the " +
		"controlled tag vocabulary, and writes raw payloads and per-tag detail rows back. Every step can " +
		"read and write JSON-lines snapshots so it can be replayed on its own.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c

		l, err := config.InitLogger(cfg.Log)
		if err != nil {
			return failure.Wrap(failure.KindConfig, err, "init logger")
		}
		logger = l.With(zap.String("run_id", uuid.NewString()), zap.String("command", cmd.Name()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: config/environment.yaml or ./environment.yaml)")
}

// execute runs the CLI and reports a failure with its kind.
func execute(ctx context.Context, args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if logger != nil {
		logger.Error("return-etl: failed",
			zap.String("kind", string(failure.KindOf(err))),
			zap.Bool("transient", failure.IsTransient(err)),
			zap.Error(err),
		)
		_ = logger.Sync()
	} else {
		fmt.Fprintln(os.Stderr, "return-etl:", failure.Describe(err))
	}
	return err
}

func main() {
	if err := execute(context.Background(), os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
