package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pass for all active users (or one user) and exit",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("user", "u", "", "run the cycle for this user only")
	runCmd.Flags().BoolP("do-not-exclude-applied", "f", false, "do not exclude vacancies already applied on hh.ru")
}

// run is a synchronous pass, handy for cron jobs outside of serve and for debugging.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, false)
	if err != nil {
		fatal("starting the hh-autopilot", err)
	}
	defer a.Close()

	logger := a.logger
	logger.Info("starting the hh-autopilot", zap.String("version", buildVersion()))

	if skip, _ := cmd.Flags().GetBool("do-not-exclude-applied"); skip {
		a.config.Filters.SkipAppliedHistory = true
	}

	sched, err := a.newScheduler(ctx)
	if err != nil {
		logger.Fatal("building the scheduler", zap.Error(err))
	}

	var reports []*scheduler.Report
	if userID, _ := cmd.Flags().GetString("user"); userID != "" {
		report, err := sched.Trigger(ctx, userID)
		if err != nil {
			logger.Fatal("running the cycle", zap.Error(err))
		}
		reports = append(reports, report)
	} else {
		reports, err = sched.RunAll(ctx)
		if err != nil {
			logger.Fatal("running the pass", zap.Error(err))
		}
	}

	printJSON(reports)

	summary := scheduler.Summarize(reports)
	logger.Info("pass finished",
		zap.Int("users", len(reports)),
		zap.Int("completed", summary.Completed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("submitted", summary.Submitted),
	)
}
