package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/entity"
)

var doneByID bool

var doneCmd = &cobra.Command{
	Use:   "done <task title or id>",
	Short: "Mark a task done",
	Long: `Completes the open task whose title matches the given words. When several
tasks match, they are listed and nothing changes. Use --id to complete a
task by id or task ref.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, logger, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		defer logger.Sync()

		text := strings.Join(args, " ")
		if doneByID {
			id := text
			if ref, err := entity.ParseRef(text); err == nil {
				id = ref.ID
			}
			t, changed, err := e.Capture.MarkDone(ctx, id)
			if err != nil {
				return userError(err)
			}
			if !changed {
				fmt.Printf("Already done: %s\n", t.Title)
				return nil
			}
			fmt.Printf("Done: %s\n", t.Title)
			return nil
		}

		t, err := e.Capture.CompleteByReference(ctx, text)
		if err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.Code == apperr.CaptureAmbiguous {
				fmt.Printf("%q matches more than one task:\n", text)
				candidates, _ := ae.Details["candidates"].([]string)
				for _, c := range candidates {
					fmt.Printf("  - %s\n", c)
				}
				return fmt.Errorf("be more specific or use --id")
			}
			return userError(err)
		}
		fmt.Printf("Done: %s\n", t.Title)
		return nil
	},
}

func init() {
	doneCmd.Flags().BoolVar(&doneByID, "id", false, "treat the argument as a task id or ref")
	rootCmd.AddCommand(doneCmd)
}
