package workflow

import (
	"context"
	"fmt"

	"github.com/scottdurow/dataverseify/pkg/client"
	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
)

// Opportunity codes used by CloseOpportunities.
const (
	OpportunityStateOpen = 0
	OpportunityStatusWon = 3
)

// CloseOpportunitiesName is the definition name of CloseOpportunities.
const CloseOpportunitiesName = "close-opportunities"

// CloseOpportunities closes up to top open opportunities of an account as
// won, one WinOpportunity call per opportunity.
func CloseOpportunities(accountID string, top int) *Definition {
	q := fetch.New("opportunity").
		WithTop(top).
		Select("opportunityid", "name").
		Where("customerid", fetch.OpEqual, accountID).
		Where("statecode", fetch.OpEqual, fmt.Sprint(OpportunityStateOpen))

	return &Definition{
		Name:   CloseOpportunitiesName,
		Query:  q,
		Action: "WinOpportunity",
		Build:  winOpportunity,
		Messages: Messages{
			NoMatchesText: "There are no open opportunties!",
			ConfirmTitle:  "Close All Open Opportunities?",
			ConfirmText: func(n int) string {
				return fmt.Sprintf("Are you sure you want to close the %d open opportunities?", n)
			},
			Progress: func(i, n int, label string) string {
				return fmt.Sprintf("Closing Opportunity %d of %d - '%s', Please Wait...", i, n, label)
			},
			SuccessTitle: "Success",
			SuccessText: func(n int) string {
				return fmt.Sprintf("%d Opportunities closed", n)
			},
			FailureText: func(err error) string {
				return fmt.Sprintf("Could not close opportunites:\n%s\n", message(err))
			},
		},
	}
}

func winOpportunity(_ context.Context, item *dataverse.Entity) (client.Request, error) {
	closeEntity := dataverse.NewEntity("opportunityclose").
		Set("subject", "Opportunity Won").
		Set("opportunityid", item.ToReference())
	return client.Request{
		LogicalName: "WinOpportunity",
		Parameters: map[string]any{
			"Status":           OpportunityStatusWon,
			"OpportunityClose": closeEntity,
		},
	}, nil
}
