package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"CompanyResearcher/internal/app"
	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/logging"
)

const configFlag = "config"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "companyresearch",
		Short: "Research companies from the web and compile briefing reports",
		Long: `companyresearch collects web evidence about a company in parallel categories,
curates it, asks an LLM for per-category briefings and compiles them into a Markdown report.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String(configFlag, "", "path to a YAML config file (defaults to $COMPANY_RESEARCHER_CONFIG)")
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("init application", "error", err)
				return err
			}
			if err := application.Serve(ctx); err != nil {
				logger.Error("application stopped", "error", err)
				return err
			}
			return nil
		},
	}
}

func newRunCommand() *cobra.Command {
	var input domain.JobInput
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Research one company and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewWithWriter(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			job, err := application.RunOnce(ctx, input)
			if err != nil {
				return err
			}
			if job.Status != domain.JobCompleted {
				return fmt.Errorf("job %s %s: %s", job.ID, job.Status, job.Error)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), job.Result)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&input.Company, "company", "", "company name")
	flags.StringVar(&input.URL, "url", "", "company website")
	flags.StringVar(&input.Industry, "industry", "", "industry hint")
	flags.StringVar(&input.Location, "location", "", "location hint")
	flags.StringVar(&input.RecordID, "record-id", "", "external record to update")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return config.Config{}, fmt.Errorf("read --%s: %w", configFlag, err)
	}
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Config{}, fmt.Errorf("config file %s does not exist", path)
		}
	}
	return config.Load(path), nil
}
