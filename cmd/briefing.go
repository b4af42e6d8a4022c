package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	briefingResume bool
	briefingJSON   bool
)

var briefingCmd = &cobra.Command{
	Use:   "briefing",
	Short: "Print today's agenda or where you left off",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, logger, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer logger.Sync()

		if briefingResume {
			b, err := e.Context.ResumptionBriefing(ctx)
			if err != nil {
				return userError(err)
			}
			if briefingJSON {
				return printJSON(b)
			}
			if b.Interrupted {
				fmt.Printf("Interrupted %s (%s)\n", b.Since.Local().Format("Mon 15:04"), b.Reason)
			}
			if b.Task != nil {
				fmt.Printf("Task:    %s\n", b.Task.Title)
			}
			if b.Project != nil {
				fmt.Printf("Project: %s\n", b.Project.Name)
			}
			if b.LastIntent != "" {
				fmt.Printf("Last:    %s\n", truncate(b.LastIntent, 80))
			}
			for _, c := range b.Breadcrumbs {
				fmt.Printf("  %s  %s\n", c.Timestamp.Local().Format("15:04"), truncate(c.Text, 70))
			}
			if b.NextAction.Text != "" {
				fmt.Printf("Next:    %s\n", b.NextAction.Text)
			}
			return nil
		}

		b, err := e.BuildMorningBriefing(ctx)
		if err != nil {
			return userError(err)
		}
		if briefingJSON {
			return printJSON(b)
		}
		fmt.Println(b.Headline())
		for _, t := range b.Tasks {
			due := ""
			if t.DueDate != nil {
				due = " (due " + t.DueDate.Local().Format("15:04") + ")"
			}
			fmt.Printf("  [task] %s%s\n", t.Title, due)
		}
		for _, r := range b.Reminders {
			fmt.Printf("  [reminder %s] %s\n", r.TriggerTime.Local().Format("15:04"), r.Message)
		}
		for _, c := range b.Commitments {
			fmt.Printf("  [owed to %s] %s\n", c.ToWhom, c.What)
		}
		return nil
	},
}

func init() {
	briefingCmd.Flags().BoolVarP(&briefingResume, "resume", "r", false, "show the resumption briefing instead of the morning agenda")
	briefingCmd.Flags().BoolVar(&briefingJSON, "json", false, "print the briefing as JSON")
	rootCmd.AddCommand(briefingCmd)
}
