package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/internal/client"
	"github.com/kiranshivaraju/errhub/pkg/models"
	"github.com/spf13/cobra"
)

func ingestCmd(opts *rootOptions) *cobra.Command {
	var event models.ErrorEvent

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Report an error occurrence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			res, err := c.Ingest(cmd.Context(), event)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}

			verb := "merged into"
			switch {
			case res.Created:
				verb = "created"
			case res.Reopened:
				verb = "reopened"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (occurrences: %d, status: %s)\n",
				verb, res.ID, res.OccurrenceCount, res.ResolutionStatus)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&event.Type, "type", "t", "", "Error type (Apex, Flow, LWC, Integration)")
	f.StringVarP(&event.Source, "source", "s", "", "Component that failed")
	f.StringVarP(&event.Message, "message", "m", "", "Error message")
	f.StringVar(&event.Details, "details", "", "Stack trace or extended detail")
	f.StringVar(&event.Context, "context", "", "Free-form context")
	f.StringVar(&event.AffectedUser, "affected-user", "", "User who hit the error")
	f.StringVarP(&event.BusinessImpact, "impact", "i", "", "Business impact (Critical, High, Medium, Low)")
	f.StringVarP(&event.Environment, "environment", "e", "", "Environment name")
	f.StringVar(&event.APIEndpoint, "api-endpoint", "", "Failing API endpoint")
	f.StringVar(&event.ExternalSystem, "external-system", "", "External system involved")
	f.StringVar(&event.RecordObject, "record-object", "", "Object type of the affected record")
	f.StringVar(&event.RecordID, "record-id", "", "ID of the affected record")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("message")

	return cmd
}

func listCmd(opts *rootOptions) *cobra.Command {
	var lo client.ListOptions
	var since, until time.Duration
	var fp string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List error records, most recently seen first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			now := time.Now()
			if since > 0 {
				lo.Since = now.Add(-since)
			}
			if until > 0 {
				lo.Until = now.Add(-until)
			}
			if cmd.Flags().Changed("fingerprint") {
				lo.Fingerprint = &fp
			}

			page, err := c.List(cmd.Context(), lo)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), page)
			}
			return printRecords(cmd.OutOrStdout(), page)
		},
	}

	f := cmd.Flags()
	f.DurationVar(&since, "since", 0, "Only records seen within this window (e.g. 24h)")
	f.DurationVar(&until, "until", 0, "Only records last seen before this long ago")
	f.StringVarP(&lo.Type, "type", "t", "", "Filter by error type")
	f.StringVarP(&lo.Impact, "impact", "i", "", "Filter by business impact")
	f.StringVar(&lo.Status, "status", "", "Filter by resolution status")
	f.StringVar(&lo.AssignedTo, "assigned-to", "", "Filter by assignee")
	f.StringVarP(&lo.Environment, "environment", "e", "", "Filter by environment")
	f.StringVar(&fp, "fingerprint", "", "Filter by exact fingerprint")
	f.IntVar(&lo.Page, "page", 1, "Page number")
	f.IntVarP(&lo.Limit, "limit", "n", 20, "Records per page")

	return cmd
}

func printRecords(w io.Writer, page *client.RecordPage) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSOURCE\tIMPACT\tSTATUS\tCOUNT\tLAST SEEN")
	for _, r := range page.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Type, r.Source, r.BusinessImpact, r.ResolutionStatus,
			r.OccurrenceCount, r.LastOccurrence.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "page %d, %d of %d records\n", page.Page, len(page.Records), page.Total)
	return nil
}

func getCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get [record-id]",
		Short: "Show one error record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			rec, err := c.Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func historyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history [record-id]",
		Short: "Show the status changes of an error record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			changes, err := c.History(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), changes)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tFROM\tTO\tACTOR\tASSIGNEE")
			for _, ch := range changes {
				assignee := "-"
				if ch.AssignedTo != nil {
					assignee = *ch.AssignedTo
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					ch.CreatedAt.Format(time.RFC3339), ch.FromStatus, ch.ToStatus, ch.Actor, assignee)
			}
			return tw.Flush()
		},
	}
}

func summaryCmd(opts *rootOptions) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize error records by type, impact and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			sum, err := c.Summary(cmd.Context(), from)
			if err != nil {
				return fmt.Errorf("summary: %w", err)
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), sum)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Records: %d  Occurrences: %d\n", sum.Totals.Records, sum.Totals.Occurrences)
			printBreakdown(w, "By type", sum.ByType)
			printBreakdown(w, "By impact", sum.ByImpact)
			printBreakdown(w, "By status", sum.ByStatus)
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 0, "Only records seen within this window (e.g. 168h)")
	return cmd
}

func printBreakdown(w io.Writer, title string, m map[string]models.RecordSummary) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-12s %d records, %d occurrences\n", k+":", m[k].Records, m[k].Occurrences)
	}
}

func assignCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assign [record-id] [assignee]",
		Short: "Assign an error record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			rec, err := c.Assign(cmd.Context(), id, args[1])
			if err != nil {
				return fmt.Errorf("assign: %w", err)
			}
			return printRecordStatus(cmd.OutOrStdout(), opts, rec)
		},
	}
}

func transitionCmd(opts *rootOptions, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [record-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}

			var rec *models.ErrorRecord
			switch action {
			case "start":
				rec, err = c.Start(cmd.Context(), id)
			case "resolve":
				rec, err = c.Resolve(cmd.Context(), id)
			case "ignore":
				rec, err = c.Ignore(cmd.Context(), id)
			default:
				return fmt.Errorf("unknown action %q", action)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", action, err)
			}
			return printRecordStatus(cmd.OutOrStdout(), opts, rec)
		},
	}
}

func printRecordStatus(w io.Writer, opts *rootOptions, rec *models.ErrorRecord) error {
	if opts.json {
		return printJSON(w, rec)
	}
	assignee := "unassigned"
	if rec.AssignedTo != nil {
		assignee = *rec.AssignedTo
	}
	fmt.Fprintf(w, "%s is %s (%s)\n", rec.ID, rec.ResolutionStatus, assignee)
	return nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid record ID %q", s)
	}
	return id, nil
}
