package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type auditEntryView struct {
	ID         string    `json:"id"`
	RecordID   string    `json:"record_id"`
	TestID     string    `json:"test_id"`
	FromState  string    `json:"from_state,omitempty"`
	ToState    string    `json:"to_state"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	NewLocator string    `json:"new_locator,omitempty"`
	At         time.Time `json:"at"`
}

// NewAuditCommand creates the audit subcommand.
func NewAuditCommand() *cobra.Command {
	var (
		tenant string
		test   string
		record string
		since  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit ledger",
		Long: `Query the append-only ledger of healing state transitions. With --record
the full history of one record is shown; otherwise entries are filtered by
tenant, test, and time range.

Examples:
  gomend audit --tenant acme --since 2026-08-01T00:00:00Z
  gomend audit --tenant acme --test checkout-flow
  gomend audit --record 2f1c9c3e-94a2-49cd-90df-6f2b3f6f9f11`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var resp struct {
				Entries []auditEntryView `json:"entries"`
			}

			if record != "" {
				path := "/api/v1/records/" + url.PathEscape(record) + "/audit"
				if err := client.do(cmd.Context(), "GET", path, nil, nil, &resp); err != nil {
					return err
				}
			} else {
				if tenant == "" {
					return fmt.Errorf("either --tenant or --record is required")
				}
				q := url.Values{"tenant": {tenant}}
				if test != "" {
					q.Set("test", test)
				}
				if since != "" {
					if _, err := time.Parse(time.RFC3339, since); err != nil {
						return fmt.Errorf("--since must be RFC 3339, e.g. 2026-08-01T00:00:00Z")
					}
					q.Set("since", since)
				}
				if limit > 0 {
					q.Set("limit", strconv.Itoa(limit))
				}
				if err := client.do(cmd.Context(), "GET", "/api/v1/audit", q, nil, &resp); err != nil {
					return err
				}
			}

			if len(resp.Entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No audit entries found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "AT\tRECORD\tTEST\tTRANSITION\tACTOR\tREASON")
			for _, e := range resp.Entries {
				transition := e.ToState
				if e.FromState != "" {
					transition = e.FromState + " -> " + e.ToState
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.At.Format(time.RFC3339), e.RecordID, e.TestID, transition, e.Actor, e.Reason)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant to query")
	cmd.Flags().StringVar(&test, "test", "", "Filter by test identifier")
	cmd.Flags().StringVar(&record, "record", "", "Show the full history of one record")
	cmd.Flags().StringVar(&since, "since", "", "Only entries at or after this RFC 3339 time")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to return")

	return cmd
}
