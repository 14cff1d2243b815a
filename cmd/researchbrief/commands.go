package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"ResearchBrief/internal/app"
	"ResearchBrief/internal/domain"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			})
		},
	}
}

func newTickCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Create due jobs and advance in-flight ones once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := ctx.ensureConfig()
			if !cfg.Research.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "research is disabled; set research.enabled or RESEARCH_ENABLED=true")
				return nil
			}
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				result, err := a.Tick(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "created %d job(s), advanced %d job(s)\n", result.Created, result.Advanced)
				return err
			})
		},
	}
}

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run ticks on the configured cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := ctx.ensureConfig()
			if !cfg.Research.Enabled {
				return errors.New("research is disabled; set research.enabled or RESEARCH_ENABLED=true")
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return ctx.withApp(runCtx, func(a *app.Application) error {
				return a.RunDaemon(runCtx)
			})
		},
	}
}

func newStepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "step <job-id>",
		Short: "Advance one job by a single stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				artifact, err := a.Step(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s: %s at %s\n", artifact.JobID, artifact.Status, artifact.Stage)
				return nil
			})
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List the most recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				jobs, err := a.RecentJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJobs(jobs))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to list")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asHTML bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Print a job's status and report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				artifact, err := a.Artifact(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderArtifact(artifact, asHTML))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "Print the rendered HTML instead of markdown")
	return cmd
}

func renderJobs(jobs []domain.Job) string {
	headers := []string{"ID", "User", "Period", "Topic", "Status", "Stage", "Attempt", "Updated"}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			j.UserID,
			j.Period,
			j.TopicID,
			string(j.Status),
			string(j.State.Stage),
			strconv.Itoa(j.Attempt),
			j.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
	return renderTable(headers, rows, aligns)
}

func renderArtifact(artifact *domain.Artifact, asHTML bool) string {
	out := fmt.Sprintf("job %s: %s at %s\n", artifact.JobID, artifact.Status, artifact.Stage)
	if artifact.Report == nil {
		return out + "no report yet\n"
	}
	out += fmt.Sprintf("subject: %s\n\n", artifact.Report.Subject)
	if asHTML {
		return out + artifact.Report.HTML + "\n"
	}
	return out + artifact.Report.Markdown
}

