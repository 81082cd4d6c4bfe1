// Package types defines the shared domain model, enumerations, error
// taxonomy, and context plumbing for the Reportly platform. It has no
// dependencies on other internal packages so that every layer can import it.
package types

import "time"

// Account is one authenticated user of the platform. Authentication itself is
// owned by the hosted auth collaborator; this row carries the billing-relevant
// projection (role, plan override, contact details).
type Account struct {
	ID               string
	Email            string
	DisplayName      string
	Phone            *string // globally unique across active accounts when set
	Role             Role
	PlanOverride     *PlanOverride
	MarketingConsent bool
	StripeCustomerID string
	Suspended        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PlanOverride is an admin-set, time-boxed substitution of the effective plan,
// independent of billing. An expired override is ignored.
type PlanOverride struct {
	Plan      PlanTier  `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ActiveAt reports whether the override is in effect at the given instant.
func (o *PlanOverride) ActiveAt(now time.Time) bool {
	return o != nil && now.Before(o.ExpiresAt)
}

// Subscription is the locally mirrored projection of a Stripe subscription.
// Rows are keyed by the Stripe subscription id; one account may accumulate
// many historical rows but at most one active-equivalent row at a time.
type Subscription struct {
	ID                 string // Stripe subscription id (natural key)
	AccountID          string
	Plan               PlanTier
	AmountLabel        string // display label from the static price table
	Status             SubscriptionStatus
	PeriodStart        time.Time
	PeriodEnd          time.Time
	CancelAtPeriodEnd  bool
	CreditsRemaining   int // cycle allowance; resets to the plan cap each period
	LastEventAt        time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Usable reports whether the subscription can cover a report right now.
func (s *Subscription) Usable(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != SubStatusActive && s.Status != SubStatusTrialing {
		return false
	}
	return s.CreditsRemaining > 0 && now.Before(s.PeriodEnd)
}

// CreditLot is one immutable-once-created grant of usable report credits.
// Only the balance mutates, and only downward. Expired lots are excluded from
// consumption and totals but kept for audit.
type CreditLot struct {
	ID          string
	AccountID   string
	Balance     int
	Granted     int // original grant size, for audit display
	Source      CreditSource
	Product     *ReportType // nil = usable by any report type
	ExternalRef *string     // idempotency key for webhook-created lots
	Note        string      // mandatory audit note for admin grants/deductions
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// Expired reports whether the lot is past its expiry at the given instant.
func (l *CreditLot) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Covers reports whether the lot may fund a report of the given type.
func (l *CreditLot) Covers(product ReportType) bool {
	return l.Product == nil || *l.Product == product
}

// ReferralCode is the per-account referral code.
type ReferralCode struct {
	AccountID string
	Code      string
	CreatedAt time.Time
}

// ReferralUse links one referred signup to the referrer. A referred account
// appears at most once across all uses (unique constraint on ReferredID).
type ReferralUse struct {
	ID            string
	ReferrerID    string
	ReferredID    string
	RewardGranted bool
	CreatedAt     time.Time
}

// Testimonial is one submission per (account, type). The credit reward is
// recorded at submission time, before moderation.
type Testimonial struct {
	ID             string
	AccountID      string
	Type           TestimonialType
	Content        string
	Status         TestimonialStatus
	CreditsGranted int
	AdminNote      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SupportRequest is a ticket with an append-only message thread.
type SupportRequest struct {
	ID          string
	AccountID   string
	Subject     string
	Status      SupportStatus
	CloseReason string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SupportMessage is one entry in a ticket thread.
type SupportMessage struct {
	ID        string
	RequestID string
	Sender    SenderRole
	Body      string
	CreatedAt time.Time
}

// ReportJob is the message handed to the external analysis engine. The engine
// fetches the URLs, runs inference, renders the PDF, and emails the result;
// none of that happens in this service.
type ReportJob struct {
	JobID              string     `json:"job_id"`
	AccountID          string     `json:"account_id"`
	ReportType         ReportType `json:"report_type"`
	TargetWebsite      string     `json:"target_website"`
	CompetitorWebsites []string   `json:"competitor_websites,omitempty"`
	FocusKeyword       string     `json:"focus_keyword,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
}

// SendInput carries one pre-rendered transactional email.
type SendInput struct {
	To       string
	Kind     NotificationKind
	Subject  string
	BodyHTML string
	BodyText string
}
