package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	triageLimit   int
	triageDismiss string
)

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Show captures waiting for a decision",
	Long:  `Lists captures that could not be classified with enough confidence, oldest first. Use --dismiss to archive one without filing it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, logger, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer logger.Sync()

		if triageDismiss != "" {
			c, err := e.Capture.Dismiss(ctx, triageDismiss)
			if err != nil {
				return userError(err)
			}
			fmt.Printf("Dismissed %s\n", c.ID)
			return nil
		}

		items, err := e.Capture.Triage(ctx, triageLimit)
		if err != nil {
			return userError(err)
		}
		if len(items) == 0 {
			fmt.Println("Triage queue is empty.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCAPTURED\tREASON\tTEXT")
		for _, c := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				c.ID, c.Timestamp.Local().Format("Jan 2 15:04"), c.TriageReason, truncate(c.RawText, 60))
		}
		return w.Flush()
	},
}

func init() {
	triageCmd.Flags().IntVarP(&triageLimit, "limit", "n", 20, "maximum captures to list")
	triageCmd.Flags().StringVar(&triageDismiss, "dismiss", "", "archive the capture with this id")
	rootCmd.AddCommand(triageCmd)
}
