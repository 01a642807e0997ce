package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var flags globalFlags
	var step string

	root := &cobra.Command{
		Use:   "chartstudy",
		Short: "Run the chart interpretation study pipeline",
		Long: `chartstudy downloads academic articles, extracts their images and surrounding text,
asks a multimodal model to interpret each image with and without that text, and serves a
blinded rating form for comparing the two interpretations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if step == "" {
				return cmd.Help()
			}
			s, err := pipeline.ParseStep(step)
			if err != nil {
				return err
			}
			return runStep(cmd.Context(), &flags, s)
		},
	}
	root.Flags().StringVar(&step, "step", "", "stage to run: download|process|construct|generate|evaluate|all")
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().StringVar(&flags.root, "root", "", "base directory for relative paths")

	for _, s := range pipeline.Steps {
		root.AddCommand(stepCmd(&flags, s))
	}
	root.AddCommand(stepCmd(&flags, pipeline.StepAll))
	root.AddCommand(unblindCmd(&flags))

	if err := root.ExecuteContext(ctx); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(os.Stderr, "interrupted; completed items are kept")
			os.Exit(130)
		case domain.IsPrecondition(err):
			fmt.Fprintf(os.Stderr, "cannot start: %v\n", err)
			os.Exit(2)
		default:
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}
