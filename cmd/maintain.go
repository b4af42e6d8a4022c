package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/progress"
)

var maintainList bool

var maintainCmd = &cobra.Command{
	Use:   "maintain [job...]",
	Short: "Run background jobs now",
	Long: `Runs the named scheduler jobs once, in order, or every job when none are
named. Useful when the engine has not been serving, for example to compress
memory or scan for stalls before a weekly review.`,
	Example: `  cadence maintain memory.compress memory.prune
  cadence maintain --list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, logger, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer logger.Sync()

		if maintainList {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tNEXT\tLAST RUN\tLAST ERROR")
			for _, st := range e.Scheduler.Jobs() {
				last := "never"
				if !st.LastStarted.IsZero() {
					last = st.LastStarted.Local().Format("Jan 2 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					st.Name, st.Next.Local().Format("Jan 2 15:04"), last, truncate(st.LastError, 40))
			}
			return w.Flush()
		}

		names := args
		if len(names) == 0 {
			names = e.Scheduler.Names()
		}
		reporter := progress.NewReporter("Maintenance")
		reporter.Start(len(names))
		failed := 0
		for i, name := range names {
			reporter.Update(i+1, name)
			if err := e.Scheduler.RunNow(ctx, name); err != nil {
				failed++
				logger.Warn("job failed", zap.String("job", name), zap.Error(err))
			}
		}
		reporter.Finish()

		if failed > 0 {
			return fmt.Errorf("%d of %d jobs failed", failed, len(names))
		}
		fmt.Printf("Ran %d jobs\n", len(names))
		return nil
	},
}

func init() {
	maintainCmd.Flags().BoolVarP(&maintainList, "list", "l", false, "list jobs and their last runs instead of running them")
	rootCmd.AddCommand(maintainCmd)
}
