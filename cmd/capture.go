package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/cadence/internal/capture"
)

var (
	captureHint string
	captureYes  bool
	captureJSON bool
)

var captureCmd = &cobra.Command{
	Use:   "capture [text...]",
	Short: "Capture a thought, task, reminder or commitment",
	Long: `Classifies free text and files it as a task, reminder, commitment, note or
completion. Mid-confidence captures ask for confirmation; low-confidence
ones go to the triage queue.`,
	Example: `  cadence capture "remind me to call the dentist tomorrow at 9am"
  cadence capture --hint work "I'll send Dana the deck by Friday"`,
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
		res, err := e.Capture.Capture(ctx, text, captureHint)
		if err != nil {
			return userError(err)
		}
		if captureJSON {
			return printJSON(res)
		}

		if res.NeedsConfirmation {
			yes := captureYes
			if !yes {
				yes, err = confirmCapture(res)
				if err != nil {
					return err
				}
			}
			c, err := e.Capture.Confirm(ctx, res.Capture.ID, yes)
			if err != nil {
				return userError(err)
			}
			if !yes {
				fmt.Printf("Left for triage (%s)\n", c.ID)
				return nil
			}
			fmt.Printf("Confirmed %s\n", describeEntity(res))
			return nil
		}

		switch res.Policy {
		case capture.PolicyDirect:
			fmt.Printf("Filed %s\n", describeEntity(res))
		case capture.PolicyTriage:
			fmt.Printf("Queued for triage (%s)\n", res.Capture.ID)
			for _, c := range res.Candidates {
				fmt.Printf("  candidate: %s\n", c)
			}
		default:
			fmt.Printf("Archived as a note (%s)\n", res.Capture.ID)
		}
		if res.Spilled {
			fmt.Println("Storage is busy; the capture was kept in memory and will be written shortly.")
		}
		return nil
	},
}

func describeEntity(res *capture.Result) string {
	ref := "capture " + res.Capture.ID
	if res.Entity != nil {
		ref = res.Entity.String()
	}
	if res.Extraction != nil && res.Extraction.Action != "" {
		return fmt.Sprintf("%s: %s", ref, res.Extraction.Action)
	}
	return ref
}

func confirmCapture(res *capture.Result) (bool, error) {
	label := "File this?"
	if res.Extraction != nil {
		label = fmt.Sprintf("File as %s %q?", res.Extraction.Intent, res.Extraction.Action)
	}
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := prompt.Run()
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return true, nil
}

func init() {
	captureCmd.Flags().StringVar(&captureHint, "hint", "", "context hint, such as the current project")
	captureCmd.Flags().BoolVarP(&captureYes, "yes", "y", false, "accept the extraction without prompting")
	captureCmd.Flags().BoolVar(&captureJSON, "json", false, "print the raw result as JSON")
	rootCmd.AddCommand(captureCmd)
}
