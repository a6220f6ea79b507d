package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var investigationsCmd = &cobra.Command{
	Use:     "investigations",
	Aliases: []string{"inv"},
	Short:   "Investigation management",
	Long:    "List, inspect, and control triage investigations",
}

var investigationsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List investigations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := url.Values{}
		for _, name := range []string{"status", "phase", "severity"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				q.Set(name, v)
			}
		}
		if page, _ := cmd.Flags().GetInt("page"); page > 1 {
			q.Set("page", fmt.Sprint(page))
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			q.Set("per_page", fmt.Sprint(limit))
		}

		items, total, err := clientFrom(cmd).listInvestigations(cmd.Context(), q)
		if err != nil {
			return fmt.Errorf("failed to list investigations: %w", err)
		}

		if outputFormat(cmd) == "json" {
			return printJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No investigations found")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tPHASE\tSEVERITY\tALERTS\tREVIEW\tUPDATED")
		for _, s := range items {
			review := ""
			if s.ReviewPending {
				review = "pending"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				s.ID, s.Status, s.Phase, s.Severity, s.AlertCount, review,
				s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nShowing %d of %d investigations\n", len(items), total)
		return nil
	},
}

var investigationsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show investigation details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp json.RawMessage
		path := "/api/v1/investigations/" + url.PathEscape(args[0])
		if err := clientFrom(cmd).get(cmd.Context(), path, nil, &resp); err != nil {
			return fmt.Errorf("failed to get investigation: %w", err)
		}
		return printJSON(resp)
	},
}

func controlCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp json.RawMessage
			path := "/api/v1/investigations/" + url.PathEscape(args[0]) + "/" + action
			if err := clientFrom(cmd).post(cmd.Context(), path, nil, &resp); err != nil {
				return fmt.Errorf("failed to %s investigation: %w", action, err)
			}
			if outputFormat(cmd) == "json" {
				return printJSON(resp)
			}
			fmt.Printf("%s accepted for investigation %s\n", action, args[0])
			return nil
		},
	}
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show the triage overview",
	Long:  "Show aggregate triage metrics: totals by status, severity, and phase",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var ov overview
		if err := clientFrom(cmd).get(cmd.Context(), "/api/v1/metrics/overview", nil, &ov); err != nil {
			return fmt.Errorf("failed to get overview: %w", err)
		}
		if outputFormat(cmd) == "json" {
			return printJSON(ov)
		}

		fmt.Printf("Total investigations: %d\n", ov.Total)
		fmt.Printf("  open: %d  closed: %d  auto-closed: %d  escalated: %d  rejected: %d  cancelled: %d\n",
			ov.Open, ov.Closed, ov.AutoClosed, ov.Escalated, ov.Rejected, ov.Cancelled)
		fmt.Printf("Pending reviews: %d\n", ov.PendingReviews)
		if ov.AvgTimeToVerdictSeconds > 0 {
			fmt.Printf("Avg time to verdict: %.1fs\n", ov.AvgTimeToVerdictSeconds)
		}
		if len(ov.BySeverity) > 0 {
			fmt.Println("By severity:")
			for _, sev := range []string{"critical", "high", "medium", "low", "info"} {
				if n, ok := ov.BySeverity[sev]; ok {
					fmt.Printf("  %-8s %d\n", sev, n)
				}
			}
		}
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	investigationsListCmd.Flags().String("status", "", "filter by status")
	investigationsListCmd.Flags().String("phase", "", "filter by phase")
	investigationsListCmd.Flags().String("severity", "", "filter by severity")
	investigationsListCmd.Flags().Int("page", 1, "page number")
	investigationsListCmd.Flags().Int("limit", 50, "results per page")

	investigationsCmd.AddCommand(investigationsListCmd)
	investigationsCmd.AddCommand(investigationsShowCmd)
	investigationsCmd.AddCommand(controlCmd("pause", "Pause an investigation", "pause"))
	investigationsCmd.AddCommand(controlCmd("resume", "Resume a paused investigation", "resume"))
	investigationsCmd.AddCommand(controlCmd("cancel", "Cancel an investigation", "cancel"))
}
