package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Human review management",
	Long:  "List pending reviews and resolve them with a verdict",
}

var reviewsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pending reviews",
	RunE: func(cmd *cobra.Command, _ []string) error {
		items, total, err := clientFrom(cmd).listReviews(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list reviews: %w", err)
		}

		if outputFormat(cmd) == "json" {
			return printJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No pending reviews")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tINVESTIGATION\tSEVERITY\tAI DECISION\tCONFIDENCE\tEXPIRES")
		for _, rv := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
				rv.ID, rv.InvestigationID, rv.Severity, rv.AIDecision, rv.AIConfidence,
				rv.ExpiresAt.Format("2006-01-02 15:04"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d pending reviews\n", total)
		return nil
	},
}

var reviewsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show review details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rv reviewView
		path := "/api/v1/reviews/" + url.PathEscape(args[0])
		if err := clientFrom(cmd).get(cmd.Context(), path, nil, &rv); err != nil {
			return fmt.Errorf("failed to get review: %w", err)
		}
		if outputFormat(cmd) == "json" {
			return printJSON(rv)
		}

		fmt.Printf("Review ID:     %s\n", rv.ID)
		fmt.Printf("Investigation: %s\n", rv.InvestigationID)
		fmt.Printf("Status:        %s\n", rv.Status)
		fmt.Printf("Severity:      %s\n", rv.Severity)
		fmt.Printf("AI decision:   %s (confidence %.2f)\n", rv.AIDecision, rv.AIConfidence)
		if rv.Reason != "" {
			fmt.Printf("AI reasoning:  %s\n", rv.Reason)
		}
		if len(rv.Questions) > 0 {
			fmt.Printf("Questions:     %s\n", strings.Join(rv.Questions, "; "))
		}
		fmt.Printf("Requested:     %s\n", rv.RequestedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Expires:       %s\n", rv.ExpiresAt.Format("2006-01-02 15:04:05"))
		if rv.ResolvedBy != "" {
			fmt.Printf("Resolved by:   %s via %s\n", rv.ResolvedBy, rv.Channel)
		}
		return nil
	},
}

type resolvePayload struct {
	Reviewer  string   `json:"reviewer"`
	Feedback  string   `json:"feedback,omitempty"`
	Questions []string `json:"questions,omitempty"`
}

func resolveCmd(use, short, action string) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, _ := cmd.Flags().GetString("reviewer")
			if reviewer == "" {
				reviewer = envOr("ARGUSCTL_REVIEWER", os.Getenv("USER"))
			}
			if reviewer == "" {
				return fmt.Errorf("a reviewer is required, set --reviewer or ARGUSCTL_REVIEWER")
			}
			feedback, _ := cmd.Flags().GetString("feedback")

			var resp json.RawMessage
			path := "/api/v1/reviews/" + url.PathEscape(args[0]) + "/" + action
			err := clientFrom(cmd).post(cmd.Context(), path, resolvePayload{
				Reviewer: reviewer,
				Feedback: feedback,
			}, &resp)
			if err != nil {
				return fmt.Errorf("failed to %s review: %w", action, err)
			}
			if outputFormat(cmd) == "json" {
				return printJSON(resp)
			}

			var inv struct {
				Status string `json:"status"`
			}
			_ = json.Unmarshal(resp, &inv)
			fmt.Printf("Review %s resolved, investigation is now %s\n", args[0], inv.Status)
			return nil
		},
	}
	c.Flags().String("reviewer", "", "analyst resolving the review (default: $ARGUSCTL_REVIEWER or $USER)")
	c.Flags().String("feedback", "", "free-form analyst feedback")
	return c
}

var reviewsRequestInfoCmd = &cobra.Command{
	Use:   "request-info [id]",
	Short: "Ask for more information and extend the review deadline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviewer, _ := cmd.Flags().GetString("reviewer")
		if reviewer == "" {
			reviewer = envOr("ARGUSCTL_REVIEWER", os.Getenv("USER"))
		}
		if reviewer == "" {
			return fmt.Errorf("a reviewer is required, set --reviewer or ARGUSCTL_REVIEWER")
		}
		questions, _ := cmd.Flags().GetStringArray("question")
		if len(questions) == 0 {
			return fmt.Errorf("at least one --question is required")
		}

		var resp struct {
			ReviewID  string `json:"review_id"`
			ExpiresAt string `json:"expires_at"`
		}
		path := "/api/v1/reviews/" + url.PathEscape(args[0]) + "/request-info"
		err := clientFrom(cmd).post(cmd.Context(), path, resolvePayload{
			Reviewer:  reviewer,
			Questions: questions,
		}, &resp)
		if err != nil {
			return fmt.Errorf("failed to request info: %w", err)
		}
		if outputFormat(cmd) == "json" {
			return printJSON(resp)
		}
		fmt.Printf("Questions recorded for review %s, deadline extended to %s\n", resp.ReviewID, resp.ExpiresAt)
		return nil
	},
}

func init() {
	reviewsRequestInfoCmd.Flags().String("reviewer", "", "analyst requesting more information")
	reviewsRequestInfoCmd.Flags().StringArray("question", nil, "question for the detection team (repeatable)")

	reviewsCmd.AddCommand(reviewsListCmd)
	reviewsCmd.AddCommand(reviewsShowCmd)
	reviewsCmd.AddCommand(resolveCmd("approve", "Approve the escalation and engage incident response", "approve"))
	reviewsCmd.AddCommand(resolveCmd("reject", "Reject the investigation as a false positive", "reject"))
	reviewsCmd.AddCommand(reviewsRequestInfoCmd)
}
