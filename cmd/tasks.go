package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/cadence/internal/entity"
)

var (
	tasksAll   bool
	tasksTag   string
	tasksLimit int
	tasksJSON  bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List open tasks by urgency",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, logger, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer logger.Sync()

		filter := entity.TaskFilter{OrderBy: "urgency", Limit: tasksLimit}
		if !tasksAll {
			filter.Statuses = []entity.TaskStatus{entity.TaskPending, entity.TaskInProgress, entity.TaskBlocked}
		}
		if tasksTag != "" {
			filter.Tags = []string{tasksTag}
		}
		tasks, err := e.Entities.QueryTasks(ctx, filter)
		if err != nil {
			return userError(err)
		}
		if tasksJSON {
			return printJSON(tasks)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tURGENCY\tDUE\tTITLE\tTAGS")
		for _, t := range tasks {
			due := "-"
			if t.DueDate != nil {
				due = t.DueDate.Local().Format("Mon Jan 2 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\t%s\n",
				t.ID, t.Status, t.Urgency, due, truncate(t.Title, 50), strings.Join(t.ContextTags, ","))
		}
		return w.Flush()
	},
}

func init() {
	tasksCmd.Flags().BoolVarP(&tasksAll, "all", "a", false, "include done and dropped tasks")
	tasksCmd.Flags().StringVarP(&tasksTag, "tag", "t", "", "only tasks with this context tag")
	tasksCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 25, "maximum tasks to list")
	tasksCmd.Flags().BoolVar(&tasksJSON, "json", false, "print tasks as JSON")
	rootCmd.AddCommand(tasksCmd)
}
