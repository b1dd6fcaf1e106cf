package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jskelly/gomend/pkg/domain/healing"
)

// recordView mirrors the API's wire representation of a healing record.
type recordView struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	TestID           string          `json:"test_id"`
	StepIndex        int             `json:"step_index"`
	State            string          `json:"state"`
	RiskTier         string          `json:"risk_tier"`
	OldLocator       string          `json:"old_locator"`
	NewLocator       string          `json:"new_locator,omitempty"`
	Strategy         json.RawMessage `json:"strategy,omitempty"`
	Score            *scoreView      `json:"score,omitempty"`
	Approver         string          `json:"approver,omitempty"`
	ValidationReason string          `json:"validation_reason,omitempty"`
	Superseded       bool            `json:"superseded,omitempty"`
	RollbackDeadline *time.Time      `json:"rollback_deadline,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type scoreView struct {
	Value     float64 `json:"value"`
	Breakdown struct {
		Structural signalView `json:"structural_similarity"`
		Historical signalView `json:"historical_success"`
		Semantic   signalView `json:"semantic_similarity"`
		Uniqueness signalView `json:"selector_uniqueness"`
	} `json:"breakdown"`
}

type signalView struct {
	Value   float64 `json:"value"`
	Weight  float64 `json:"weight"`
	Present bool    `json:"present"`
}

func printRecord(cmd *cobra.Command, rec recordView) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Record:      %s\n", rec.ID)
	_, _ = fmt.Fprintf(out, "Tenant:      %s\n", rec.TenantID)
	_, _ = fmt.Fprintf(out, "Test:        %s (step %d)\n", rec.TestID, rec.StepIndex)
	_, _ = fmt.Fprintf(out, "State:       %s\n", rec.State)
	_, _ = fmt.Fprintf(out, "Risk tier:   %s\n", rec.RiskTier)
	_, _ = fmt.Fprintf(out, "Old locator: %s\n", rec.OldLocator)
	if rec.NewLocator != "" {
		_, _ = fmt.Fprintf(out, "New locator: %s\n", rec.NewLocator)
	}
	if rec.Score != nil {
		_, _ = fmt.Fprintf(out, "Confidence:  %.3f\n", rec.Score.Value)
		b := rec.Score.Breakdown
		_, _ = fmt.Fprintf(out, "  structural %.3f (w=%.2f)  historical %.3f (w=%.2f)\n",
			b.Structural.Value, b.Structural.Weight, b.Historical.Value, b.Historical.Weight)
		if b.Semantic.Present {
			_, _ = fmt.Fprintf(out, "  semantic   %.3f (w=%.2f)  uniqueness %.3f (w=%.2f)\n",
				b.Semantic.Value, b.Semantic.Weight, b.Uniqueness.Value, b.Uniqueness.Weight)
		} else {
			_, _ = fmt.Fprintf(out, "  semantic   (absent)       uniqueness %.3f (w=%.2f)\n",
				b.Uniqueness.Value, b.Uniqueness.Weight)
		}
	}
	if rec.Approver != "" {
		_, _ = fmt.Fprintf(out, "Approver:    %s\n", rec.Approver)
	}
	if rec.ValidationReason != "" {
		_, _ = fmt.Fprintf(out, "Validation:  %s\n", rec.ValidationReason)
	}
	if rec.RollbackDeadline != nil {
		_, _ = fmt.Fprintf(out, "Rollback by: %s\n", rec.RollbackDeadline.Format(time.RFC3339))
	}
	if rec.Superseded {
		_, _ = fmt.Fprintln(out, "Superseded:  yes")
	}
}

// NewPendingCommand creates the pending subcommand.
func NewPendingCommand() *cobra.Command {
	var (
		tenant string
		tier   string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List records awaiting human approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"tenant": {tenant}}
			if tier != "" {
				q.Set("tier", tier)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}

			var resp struct {
				Pending []struct {
					recordView
					ReturnedForReview bool `json:"returned_for_review"`
				} `json:"pending"`
			}
			if err := newAPIClient().do(cmd.Context(), "GET", "/api/v1/pending", q, nil, &resp); err != nil {
				return err
			}

			if len(resp.Pending) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No records pending approval.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "RECORD\tTEST\tSTEP\tTIER\tCONFIDENCE\tNEW LOCATOR\tNOTE")
			for _, item := range resp.Pending {
				conf := "-"
				if item.Score != nil {
					conf = fmt.Sprintf("%.3f", item.Score.Value)
				}
				note := ""
				if item.ReturnedForReview {
					note = "returned for review"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					item.ID, item.TestID, item.StepIndex, item.RiskTier, conf, item.NewLocator, note)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant to list (required)")
	cmd.Flags().StringVar(&tier, "tier", "", "Filter by risk tier")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records to return")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

// NewDecideCommand creates the decide subcommand.
func NewDecideCommand() *cobra.Command {
	var (
		approve bool
		reject  bool
		actor   string
	)

	cmd := &cobra.Command{
		Use:   "decide <record-id>",
		Short: "Approve or reject a pending repair",
		Long: `Apply a decision to a record awaiting approval. Approval triggers the
validation run; the command reports the settled state. Deciding an
already-decided record fails with a conflict.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			decision := healing.DecisionApprove
			if reject {
				decision = healing.DecisionReject
			}

			body := map[string]string{
				"decision": string(decision),
				"actor":    actor,
			}
			var rec recordView
			path := "/api/v1/records/" + url.PathEscape(args[0]) + "/decision"
			if err := newAPIClient().do(cmd.Context(), "POST", path, nil, body, &rec); err != nil {
				return err
			}
			printRecord(cmd, rec)
			return nil
		},
	}

	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the repair")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the repair")
	cmd.Flags().StringVar(&actor, "actor", "", "Approver identity (required)")
	_ = cmd.MarkFlagRequired("actor")
	cmd.MarkFlagsMutuallyExclusive("approve", "reject")

	return cmd
}

// NewRollbackCommand creates the rollback subcommand.
func NewRollbackCommand() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "rollback <record-id>",
		Short: "Revert a committed repair",
		Long: `Revert a committed repair inside its rollback window, restoring the old
locator. After the window expires the repair is permanent and the command
fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"actor": actor}
			var rec recordView
			path := "/api/v1/records/" + url.PathEscape(args[0]) + "/rollback"
			if err := newAPIClient().do(cmd.Context(), "POST", path, nil, body, &rec); err != nil {
				return err
			}
			printRecord(cmd, rec)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Identity requesting the rollback")
	return cmd
}

// NewRecordCommand creates the record subcommand.
func NewRecordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "record <record-id>",
		Short: "Show one healing record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec recordView
			path := "/api/v1/records/" + url.PathEscape(args[0])
			if err := newAPIClient().do(cmd.Context(), "GET", path, nil, nil, &rec); err != nil {
				return err
			}
			printRecord(cmd, rec)
			return nil
		},
	}
}
