// Package entitlement answers "may this account run one report right now"
// and performs the matching debit atomically with the decision.
//
// The rule itself is a pure function over an explicit snapshot so it can be
// unit-tested without a database; the Service wraps it with snapshot loading
// and the conditional-write debit.
package entitlement

import (
	"time"

	"reportly/internal/types"
)

// Snapshot is the explicit input to the entitlement decision: everything the
// rule needs, read once, with no hidden state.
type Snapshot struct {
	Account       *types.Account
	Subscription  *types.Subscription // usable row or nil
	Lots          []types.CreditLot   // unexpired, balance > 0, oldest first
	EverPurchased bool                // any purchase-sourced lot, ever
	Now           time.Time
}

// DebitSource says which bucket funds the allowed report.
type DebitSource string

const (
	DebitNone         DebitSource = "none"          // role or override bypass; nothing charged
	DebitSubscription DebitSource = "subscription"  // one unit off the cycle allowance
	DebitLots         DebitSource = "credit_lots"   // one unit consumed FIFO from lots
)

// Outcome is the decision result. When Allowed is false, Prompt carries the
// upgrade CTA hint for the 402 response.
type Outcome struct {
	Allowed bool
	Source  DebitSource
	Prompt  types.UpgradePrompt
}

// Decide applies the entitlement rule, in order:
//
//  1. Admin and tester roles run unlimited reports; nothing is charged.
//  2. An unexpired plan override substitutes the effective plan. An override
//     to a paid tier is an admin comp: it grants access without charging
//     (there is no billing period to meter against). An override to free
//     falls through to the credit lots.
//  3. A usable subscription with cycle allowance remaining funds the report.
//  4. Otherwise the oldest-first unexpired lots matching the product fund it.
//  5. Otherwise deny, with the upgrade prompt chosen by purchase history:
//     accounts that never bought credits get the impulse (first purchase)
//     CTA, accounts with purchase history get the starter subscription CTA.
//
// Decide only decides. The debit itself is a separate conditional write that
// re-checks the same preconditions, so a stale snapshot can never overdraw.
func Decide(snap Snapshot, product types.ReportType) Outcome {
	if snap.Account.Role.Unlimited() {
		return Outcome{Allowed: true, Source: DebitNone}
	}

	if snap.Account.PlanOverride.ActiveAt(snap.Now) && snap.Account.PlanOverride.Plan != types.PlanFree {
		return Outcome{Allowed: true, Source: DebitNone}
	}

	if snap.Subscription.Usable(snap.Now) {
		return Outcome{Allowed: true, Source: DebitSubscription}
	}

	for _, lot := range snap.Lots {
		if lot.Balance > 0 && !lot.Expired(snap.Now) && lot.Covers(product) {
			return Outcome{Allowed: true, Source: DebitLots}
		}
	}

	prompt := types.PromptImpulse
	if snap.EverPurchased {
		prompt = types.PromptStarter
	}
	return Outcome{Allowed: false, Prompt: prompt}
}

// AvailableLotTotal sums the snapshot's lot balances usable for the product.
// Exposed for balance displays; Decide does not need the total.
func AvailableLotTotal(snap Snapshot, product types.ReportType) int {
	total := 0
	for _, lot := range snap.Lots {
		if !lot.Expired(snap.Now) && lot.Covers(product) {
			total += lot.Balance
		}
	}
	return total
}
