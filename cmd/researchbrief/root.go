package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"ResearchBrief/internal/app"
	"ResearchBrief/internal/config"
	"ResearchBrief/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "research-brief",
		Short:         "Weekly research briefs built from recent coverage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newTickCommand(ctx))
	rootCmd.AddCommand(newDaemonCommand(ctx))
	rootCmd.AddCommand(newStepCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	return rootCmd
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	return logging.New(c.config.Logging.Level, c.config.Logging.Format)
}

// withApp opens the application for the duration of fn.
func (c *commandContext) withApp(ctx context.Context, fn func(*app.Application) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	application, err := app.New(ctx, cfg, c.logger())
	if err != nil {
		return err
	}
	defer application.Close()
	return fn(application)
}
