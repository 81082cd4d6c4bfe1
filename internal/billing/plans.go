// Package billing holds the static plan and price catalog. It is the single
// source of truth for mapping Stripe price ids to plan tiers, credit packs,
// cycle allowances, and display labels.
package billing

import (
	"time"

	"reportly/internal/types"
)

// PackExpiry is how long purchased pack credits stay usable.
const PackExpiry = 90 * 24 * time.Hour

// PlanSpec describes one subscription tier.
type PlanSpec struct {
	Tier        types.PlanTier
	CycleCap    int    // reports per billing period; resets each period
	AmountLabel string // display label shown in the portal and emails
}

// PackSpec describes one one-time credit pack product.
type PackSpec struct {
	Source      types.CreditSource
	Credits     int
	AmountLabel string
}

// planDefaults defines the per-period report allowance for each tier.
//
//	| Plan    | Reports/cycle |
//	|---------|---------------|
//	| free    | 0             |
//	| starter | 10            |
//	| growth  | 30            |
//	| agency  | 100           |
var planDefaults = map[types.PlanTier]PlanSpec{
	types.PlanFree:    {Tier: types.PlanFree, CycleCap: 0, AmountLabel: "$0"},
	types.PlanStarter: {Tier: types.PlanStarter, CycleCap: 10, AmountLabel: "$29/mo"},
	types.PlanGrowth:  {Tier: types.PlanGrowth, CycleCap: 30, AmountLabel: "$79/mo"},
	types.PlanAgency:  {Tier: types.PlanAgency, CycleCap: 100, AmountLabel: "$199/mo"},
}

// priceToPlan maps Stripe subscription price ids to tiers. Populated from
// the fixed price catalog; an id missing here is an external desync.
var priceToPlan = map[string]types.PlanTier{
	"price_starter_monthly": types.PlanStarter,
	"price_growth_monthly":  types.PlanGrowth,
	"price_agency_monthly":  types.PlanAgency,
}

// priceToPack maps Stripe one-time price ids to credit packs.
var priceToPack = map[string]PackSpec{
	"price_pack_small": {Source: types.SourcePurchasePackA, Credits: 3, AmountLabel: "$19"},
	"price_pack_large": {Source: types.SourcePurchasePackB, Credits: 10, AmountLabel: "$49"},
}

// PlanFor returns the catalog entry for a tier, defaulting to free for
// unknown tiers so enforcement fails safe.
func PlanFor(tier types.PlanTier) PlanSpec {
	if spec, ok := planDefaults[tier]; ok {
		return spec
	}
	return planDefaults[types.PlanFree]
}

// PlanForPrice resolves a subscription price id. ok=false means the price is
// not in the catalog, which webhook handling treats as a hard desync rather
// than guessing.
func PlanForPrice(priceID string) (PlanSpec, bool) {
	tier, ok := priceToPlan[priceID]
	if !ok {
		return PlanSpec{}, false
	}
	return planDefaults[tier], true
}

// PackForPrice resolves a one-time price id to a credit pack.
func PackForPrice(priceID string) (PackSpec, bool) {
	pack, ok := priceToPack[priceID]
	return pack, ok
}

// IsSubscriptionPrice reports whether the price id belongs to a subscription
// tier. Checkout-completed events for subscription prices are ignored; the
// subscription lifecycle events carry the authoritative state.
func IsSubscriptionPrice(priceID string) bool {
	_, ok := priceToPlan[priceID]
	return ok
}

// PriceForPlan returns the Stripe price id for a paid tier. ok=false for the
// free tier and unknown tiers, which have no price.
func PriceForPlan(tier types.PlanTier) (string, bool) {
	for id, t := range priceToPlan {
		if t == tier {
			return id, true
		}
	}
	return "", false
}

// PriceForPack returns the Stripe price id for a credit pack source.
func PriceForPack(source types.CreditSource) (string, bool) {
	for id, p := range priceToPack {
		if p.Source == source {
			return id, true
		}
	}
	return "", false
}
