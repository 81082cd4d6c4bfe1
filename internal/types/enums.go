package types

// Role identifies the privilege level of an account.
type Role string

const (
	RoleUser      Role = "user"
	RoleTester    Role = "tester"
	RoleAffiliate Role = "affiliate"
	RoleAdmin     Role = "admin"
)

// Unlimited reports whether the role bypasses entitlement checks entirely.
// Admins and testers run reports without consuming credits.
func (r Role) Unlimited() bool {
	return r == RoleAdmin || r == RoleTester
}

// PlanTier identifies a subscription plan label.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanStarter PlanTier = "starter"
	PlanGrowth  PlanTier = "growth"
	PlanAgency  PlanTier = "agency"
)

// SubscriptionStatus mirrors the Stripe subscription lifecycle status.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCancelled         SubscriptionStatus = "cancelled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
)

// Terminal reports whether the status must never be overwritten by a later
// (or replayed) lifecycle event for the same subscription id.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubStatusCancelled
}

// CreditSource tags the origin of a credit lot. Lots are never merged, so the
// source survives as an audit trail.
type CreditSource string

const (
	SourcePurchasePackA     CreditSource = "purchase_pack_a"
	SourcePurchasePackB     CreditSource = "purchase_pack_b"
	SourceAdminGrant        CreditSource = "admin_grant"
	SourceReferralCredit    CreditSource = "referral_credit"
	SourceTestimonialReward CreditSource = "testimonial_reward"
	SourceSignupCredit      CreditSource = "signup_credit"
)

// Purchased reports whether the lot was bought rather than granted.
// Used to pick the upgrade prompt shown on entitlement denial.
func (s CreditSource) Purchased() bool {
	return s == SourcePurchasePackA || s == SourcePurchasePackB
}

// ReportType identifies the product a report run belongs to. Credit lots may
// be restricted to a single report type; unrestricted lots cover all types.
type ReportType string

const (
	ReportSEOAudit   ReportType = "seo_audit"
	ReportCompetitor ReportType = "competitor_analysis"
	ReportKeywordGap ReportType = "keyword_gap"
)

// Valid reports whether the report type is one of the supported products.
func (t ReportType) Valid() bool {
	switch t {
	case ReportSEOAudit, ReportCompetitor, ReportKeywordGap:
		return true
	default:
		return false
	}
}

// UpgradePrompt hints which upgrade CTA the UI should render when an
// entitlement check is denied.
type UpgradePrompt string

const (
	PromptImpulse UpgradePrompt = "impulse"
	PromptStarter UpgradePrompt = "starter"
)

// TestimonialType distinguishes the two reward tracks. At most one
// testimonial per (account, type) pair may exist.
type TestimonialType string

const (
	TestimonialWritten TestimonialType = "written"
	TestimonialVideo   TestimonialType = "video"
)

// TestimonialStatus is the moderation state. The credit reward is granted at
// submission time and is independent of this state.
type TestimonialStatus string

const (
	TestimonialPending  TestimonialStatus = "pending"
	TestimonialApproved TestimonialStatus = "approved"
	TestimonialRejected TestimonialStatus = "rejected"
)

// SupportStatus is the ticket lifecycle state.
type SupportStatus string

const (
	SupportOpen       SupportStatus = "open"
	SupportInProgress SupportStatus = "in_progress"
	SupportResolved   SupportStatus = "resolved"
	SupportClosed     SupportStatus = "closed"
)

// Active reports whether the ticket is still being worked.
func (s SupportStatus) Active() bool {
	return s == SupportOpen || s == SupportInProgress
}

// SenderRole tags a support message with who wrote it.
type SenderRole string

const (
	SenderUser  SenderRole = "user"
	SenderAdmin SenderRole = "admin"
)

// NotificationKind identifies a transactional email template.
type NotificationKind string

const (
	NotifyWelcome          NotificationKind = "welcome"
	NotifyPaymentConfirmed NotificationKind = "payment_confirmed"
	NotifyPaymentFailed    NotificationKind = "payment_failed"
	NotifyMagicLinkSetup   NotificationKind = "magic_link_setup"
	NotifyReportsExhausted NotificationKind = "reports_exhausted"
	NotifySupportUpdate    NotificationKind = "support_update"
)
