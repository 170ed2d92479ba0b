package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/anatech/leadscout/jobs"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired dismissals and one-time codes",
	Long: "Purge expired dismissals and one-time codes. With --every the command keeps " +
		"running as a maintenance process and repeats the purge until interrupted.",
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().Duration("every", 0, "repeat the purge at this interval instead of running once")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	every, err := cmd.Flags().GetDuration("every")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	job := jobs.NewCleanupJob(st.leads, st.users, nil)
	report, err := job.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d dismissals, %d one-time codes\n", report.Dismissals, report.OTPCodes)

	if every <= 0 {
		return nil
	}
	if every < time.Minute {
		return fmt.Errorf("--every must be at least 1m, got %s", every)
	}
	job.Start(ctx, every)
	<-ctx.Done()
	return nil
}
