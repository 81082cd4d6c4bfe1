package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"reportly/internal/types"
)

var decideNow = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

func lot(balance int, product *types.ReportType, expiresAt *time.Time) types.CreditLot {
	return types.CreditLot{
		ID:        "lot_x",
		AccountID: "acct_1",
		Balance:   balance,
		Granted:   balance,
		Source:    types.SourceSignupCredit,
		Product:   product,
		ExpiresAt: expiresAt,
	}
}

func TestDecide(t *testing.T) {
	past := decideNow.Add(-time.Hour)
	future := decideNow.Add(time.Hour)
	seoAudit := types.ReportSEOAudit

	activeSub := &types.Subscription{
		ID:               "sub_1",
		Status:           types.SubStatusActive,
		PeriodEnd:        decideNow.AddDate(0, 1, 0),
		CreditsRemaining: 5,
	}

	tests := []struct {
		name    string
		snap    Snapshot
		product types.ReportType
		want    Outcome
	}{
		{
			name: "admin runs unlimited",
			snap: Snapshot{
				Account: &types.Account{Role: types.RoleAdmin},
				Now:     decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: true, Source: DebitNone},
		},
		{
			name: "tester runs unlimited",
			snap: Snapshot{
				Account: &types.Account{Role: types.RoleTester},
				Now:     decideNow,
			},
			product: types.ReportCompetitor,
			want:    Outcome{Allowed: true, Source: DebitNone},
		},
		{
			name: "active paid override bypasses charging",
			snap: Snapshot{
				Account: &types.Account{
					Role:         types.RoleUser,
					PlanOverride: &types.PlanOverride{Plan: types.PlanGrowth, ExpiresAt: future},
				},
				Now: decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: true, Source: DebitNone},
		},
		{
			name: "expired override is ignored",
			snap: Snapshot{
				Account: &types.Account{
					Role:         types.RoleUser,
					PlanOverride: &types.PlanOverride{Plan: types.PlanGrowth, ExpiresAt: past},
				},
				Now: decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: false, Prompt: types.PromptImpulse},
		},
		{
			name: "override to free falls through to lots",
			snap: Snapshot{
				Account: &types.Account{
					Role:         types.RoleUser,
					PlanOverride: &types.PlanOverride{Plan: types.PlanFree, ExpiresAt: future},
				},
				Lots: []types.CreditLot{lot(1, nil, nil)},
				Now:  decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: true, Source: DebitLots},
		},
		{
			name: "usable subscription funds the report",
			snap: Snapshot{
				Account:      &types.Account{Role: types.RoleUser},
				Subscription: activeSub,
				Lots:         []types.CreditLot{lot(3, nil, nil)},
				Now:          decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: true, Source: DebitSubscription},
		},
		{
			name: "exhausted subscription falls back to lots",
			snap: Snapshot{
				Account: &types.Account{Role: types.RoleUser},
				Subscription: &types.Subscription{
					ID:               "sub_1",
					Status:           types.SubStatusActive,
					PeriodEnd:        decideNow.AddDate(0, 1, 0),
					CreditsRemaining: 0,
				},
				Lots: []types.CreditLot{lot(2, nil, nil)},
				Now:  decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: true, Source: DebitLots},
		},
		{
			name: "past_due subscription cannot fund",
			snap: Snapshot{
				Account: &types.Account{Role: types.RoleUser},
				Subscription: &types.Subscription{
					ID:               "sub_1",
					Status:           types.SubStatusPastDue,
					PeriodEnd:        decideNow.AddDate(0, 1, 0),
					CreditsRemaining: 5,
				},
				Now: decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: false, Prompt: types.PromptImpulse},
		},
		{
			name: "expired lot is excluded",
			snap: Snapshot{
				Account: &types.Account{Role: types.RoleUser},
				Lots:    []types.CreditLot{lot(4, nil, &past)},
				Now:     decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: false, Prompt: types.PromptImpulse},
		},
		{
			name: "product-restricted lot only covers its product",
			snap: Snapshot{
				Account: &types.Account{Role: types.RoleUser},
				Lots:    []types.CreditLot{lot(2, &seoAudit, nil)},
				Now:     decideNow,
			},
			product: types.ReportCompetitor,
			want:    Outcome{Allowed: false, Prompt: types.PromptImpulse},
		},
		{
			name: "product-restricted lot funds matching product",
			snap: Snapshot{
				Account: &types.Account{Role: types.RoleUser},
				Lots:    []types.CreditLot{lot(2, &seoAudit, nil)},
				Now:     decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: true, Source: DebitLots},
		},
		{
			name: "denial prompts starter CTA for past purchasers",
			snap: Snapshot{
				Account:       &types.Account{Role: types.RoleUser},
				EverPurchased: true,
				Now:           decideNow,
			},
			product: types.ReportSEOAudit,
			want:    Outcome{Allowed: false, Prompt: types.PromptStarter},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.snap, tt.product)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAvailableLotTotal(t *testing.T) {
	past := decideNow.Add(-time.Minute)
	seoAudit := types.ReportSEOAudit

	snap := Snapshot{
		Lots: []types.CreditLot{
			lot(2, nil, nil),       // unrestricted
			lot(3, &seoAudit, nil), // matches product
			lot(4, nil, &past),     // expired
		},
		Now: decideNow,
	}

	assert.Equal(t, 5, AvailableLotTotal(snap, types.ReportSEOAudit))
	assert.Equal(t, 2, AvailableLotTotal(snap, types.ReportCompetitor))
}
