package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
	"github.com/jskelly/gomend/pkg/engine"
)

// NewSubmitCommand creates the submit subcommand.
func NewSubmitCommand() *cobra.Command {
	var (
		tenant      string
		test        string
		step        int
		tier        string
		oldLocator  string
		failureRef  string
		lastGoodRef string
		nodePath    []int
		wait        bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a test failure for healing",
		Long: `Submit a locator failure to the healing engine. By default the command
returns the new record id immediately; with --wait it blocks until the
record settles (committed, pending approval, or rejected).

Examples:
  gomend submit --tenant acme --test checkout-flow --step 3 \
    --old-locator 'button[data-testid="submit"]' \
    --last-good snap-1041 --failure snap-1042 --node-path 0,2,1

  gomend submit --tenant acme --test checkout-flow --step 3 \
    --old-locator 'button#pay' --last-good snap-1041 --failure snap-1042 \
    --tier production --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := engine.FailureReport{
				TenantID:         types.TenantID(tenant),
				TestID:           types.TestID(test),
				StepIndex:        step,
				RiskTier:         healing.RiskTier(tier),
				OldLocator:       oldLocator,
				FailureSnapshot:  failureRef,
				LastGoodSnapshot: lastGoodRef,
				OldNodePath:      nodePath,
			}
			if err := report.Validate(); err != nil {
				return err
			}

			client := newAPIClient()

			if wait {
				var rec recordView
				q := url.Values{"wait": {"1"}}
				if err := client.do(cmd.Context(), "POST", "/api/v1/failures", q, report, &rec); err != nil {
					return err
				}
				printRecord(cmd, rec)
				return nil
			}

			var resp struct {
				RecordID string `json:"record_id"`
			}
			if err := client.do(cmd.Context(), "POST", "/api/v1/failures", nil, report, &resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Record created: %s\n", resp.RecordID)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant the failing test belongs to (required)")
	cmd.Flags().StringVar(&test, "test", "", "Failing test identifier (required)")
	cmd.Flags().IntVar(&step, "step", 0, "Failing step index within the test")
	cmd.Flags().StringVar(&tier, "tier", string(healing.RiskNonProduction), "Risk tier: production or non_production")
	cmd.Flags().StringVar(&oldLocator, "old-locator", "", "Broken locator string (required)")
	cmd.Flags().StringVar(&failureRef, "failure", "", "Failure-time snapshot reference (required)")
	cmd.Flags().StringVar(&lastGoodRef, "last-good", "", "Last-known-good snapshot reference (required)")
	cmd.Flags().IntSliceVar(&nodePath, "node-path", nil, "Old locator's node path in the last-good snapshot")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the record settles")

	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("test")
	_ = cmd.MarkFlagRequired("old-locator")
	_ = cmd.MarkFlagRequired("failure")
	_ = cmd.MarkFlagRequired("last-good")

	return cmd
}
