package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/thywilljoshua/chart-context-study/internal/config"
	"github.com/thywilljoshua/chart-context-study/internal/logging"
	"github.com/thywilljoshua/chart-context-study/internal/metrics"
	"github.com/thywilljoshua/chart-context-study/internal/pipeline"
	"github.com/thywilljoshua/chart-context-study/internal/ui"
)

type globalFlags struct {
	config  string
	verbose bool
	noColor bool
	root    string
}

var stepShort = map[pipeline.Step]string{
	pipeline.StepDownload:  "Fetch PDF and DOCX articles from arXiv and OSF",
	pipeline.StepProcess:   "Extract ordered text, tables and images from each article",
	pipeline.StepConstruct: "Sample images and build img-context.csv",
	pipeline.StepGenerate:  "Interpret each image with and without its context",
	pipeline.StepEvaluate:  "Serve the blinded rating form",
	pipeline.StepAll:       "Run every stage in order, ending with the rating form",
}

func stepCmd(flags *globalFlags, step pipeline.Step) *cobra.Command {
	return &cobra.Command{
		Use:   string(step),
		Short: stepShort[step],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd.Context(), flags, step)
		},
	}
}

func unblindCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unblind",
		Short: "Map collected ratings back to generation modes in unblinded.csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ui.Banner("unblind")
			n, err := pipeline.New(cfg, log, nil).Unblind()
			if err != nil {
				return err
			}
			ui.Success("%d ratings written to %s", n, cfg.Paths.Data)
			return nil
		},
	}
}

// setup loads configuration and builds the logger.
func setup(flags *globalFlags) (*config.Config, zerolog.Logger, error) {
	ui.Init(flags.noColor)
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if flags.root != "" {
		cfg.Paths.Root = flags.root
	}
	if flags.verbose {
		cfg.Log.Level = "debug"
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, log, nil
}

func runStep(ctx context.Context, flags *globalFlags, step pipeline.Step) error {
	cfg, log, err := setup(flags)
	if err != nil {
		return err
	}
	m := metrics.New()
	defer func() {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Warn().Err(err).Str("path", cfg.Metrics.Textfile).Msg("Writing metrics failed")
		}
	}()

	reports, err := pipeline.New(cfg, log, m).Run(ctx, step)
	if err != nil {
		return err
	}
	var failed int
	for _, r := range reports {
		failed += r.Failed()
	}
	if failed > 0 {
		ui.Warning("%d items failed; rerun the stage to retry them", failed)
	}
	log.Debug().Str("step", string(step)).Int("stages", len(reports)).Msg("Run finished")
	return nil
}
