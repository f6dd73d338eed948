package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/host"
)

var scoreCmd = &cobra.Command{
	Use:   "score <url>",
	Short: "Scores the subject of a pull request or profile page and outputs JSON",
	Long: `Aggregates the subject's pull request and review activity for the page at <url>
(a pull request or a profile page on github.com), scores it, and prints the
panel view as JSON. With --text the one-line panel is printed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		pc := domain.ParsePageContext(args[0])
		if !pc.Qualifies() {
			return fmt.Errorf("%s is not a pull request or profile page", args[0])
		}
		subject, _ := cmd.Flags().GetString("author")
		if subject == "" {
			subject = pc.Subject
		}
		if subject == "" {
			// The author is not part of a pull request URL.
			subject, err = a.gateway.FetchPRAuthor(ctx, pc.Owner, pc.Repo, pc.Number)
			if err != nil {
				return fmt.Errorf("failed to resolve pull request author: %w", err)
			}
		}

		view, err := a.panel.Load(ctx, pc, subject)
		if err != nil {
			if reset, ok := domain.ResetAt(err); ok {
				return fmt.Errorf("rate limited until %s: %w", reset.Local().Format("15:04:05"), err)
			}
			return fmt.Errorf("failed to load panel: %w", err)
		}

		if text, _ := cmd.Flags().GetBool("text"); text {
			fmt.Fprintln(cmd.OutOrStdout(), host.FormatView(view))
			return nil
		}
		jsonData, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal view to JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().StringP("author", "a", "", "Subject login; skips the pull request author lookup")
	scoreCmd.Flags().Bool("text", false, "Print the one-line panel instead of JSON")
}
