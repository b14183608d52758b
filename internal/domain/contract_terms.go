package domain

import (
	"fmt"
	"math"
)

const (
	MilestoneSignature  = "signature"
	MilestoneDelivery   = "delivery"
	MilestoneCompletion = "completion"
)

// milestoneSplit is the fixed payment schedule, in order.
var milestoneSplit = []struct {
	name string
	pct  float64
}{
	{MilestoneSignature, 0.30},
	{MilestoneDelivery, 0.50},
	{MilestoneCompletion, 0.20},
}

type PaymentMilestone struct {
	Milestone  string  `json:"milestone" enum:"signature,delivery,completion"`
	Percentage float64 `json:"percentage"`
	Amount     float64 `json:"amount"`
}

type Compensation struct {
	TotalAmount     float64            `json:"total_amount"`
	Currency        string             `json:"currency"`
	PaymentSchedule []PaymentMilestone `json:"payment_schedule"`
}

type Deliverables struct {
	ContentRequirements []string `json:"content_requirements"`
	Timeline            string   `json:"timeline,omitempty"`
}

type UsageRights struct {
	Duration          string   `json:"duration"`
	Territory         string   `json:"territory"`
	Platforms         []string `json:"platforms"`
	PaidAmplification bool     `json:"paid_amplification"`
	ExclusivityDays   int      `json:"exclusivity_days"`
}

type PerformanceMetrics struct {
	BaselineEngagementRate float64  `json:"baseline_engagement_rate"`
	BonusEngagementRate    float64  `json:"bonus_engagement_rate"`
	BonusAmount            float64  `json:"bonus_amount"`
	ReportingWindowDays    int      `json:"reporting_window_days"`
	RequiredReports        []string `json:"required_reports"`
}

type LegalTerms struct {
	GoverningLaw           string  `json:"governing_law"`
	CancellationNoticeDays int     `json:"cancellation_notice_days"`
	KillFee                float64 `json:"kill_fee"`
	DisclosureRequired     bool    `json:"disclosure_required"`
	Confidentiality        bool    `json:"confidentiality"`
}

type ApprovalProcess struct {
	DraftDueDays    int `json:"draft_due_days"`
	BrandReviewDays int `json:"brand_review_days"`
	MaxRevisions    int `json:"max_revisions"`
}

type ContractTerms struct {
	Compensation       Compensation       `json:"compensation"`
	Deliverables       Deliverables       `json:"deliverables"`
	UsageRights        UsageRights        `json:"usage_rights"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	LegalTerms         LegalTerms         `json:"legal_terms"`
	ApprovalProcess    ApprovalProcess    `json:"approval_process"`
}

// NewCompensation builds the three-milestone schedule for total.
func NewCompensation(total float64, currency string) (Compensation, error) {
	if total < 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return Compensation{}, Validationf("total amount %v is invalid", total)
	}
	c := Compensation{TotalAmount: total, Currency: currency}
	for _, m := range milestoneSplit {
		c.PaymentSchedule = append(c.PaymentSchedule, PaymentMilestone{
			Milestone:  m.name,
			Percentage: m.pct,
			Amount:     math.Round(total * m.pct),
		})
	}
	return c, nil
}

// Validate checks the invariants a contract must hold when it is assembled.
func (t ContractTerms) Validate() error {
	c := t.Compensation
	if c.TotalAmount < 0 {
		return Validationf("compensation total must not be negative")
	}
	if len(c.PaymentSchedule) != len(milestoneSplit) {
		return Validationf("payment schedule must have %d milestones", len(milestoneSplit))
	}
	var pct, sum float64
	for i, m := range c.PaymentSchedule {
		if m.Milestone != milestoneSplit[i].name {
			return Validationf("milestone %d must be %s, got %s", i, milestoneSplit[i].name, m.Milestone)
		}
		if m.Amount < 0 {
			return Validationf("milestone %s amount must not be negative", m.Milestone)
		}
		pct += m.Percentage
		sum += m.Amount
	}
	if math.Abs(pct-1) > 1e-9 {
		return Validationf("milestone percentages sum to %v", pct)
	}
	if math.Abs(sum-c.TotalAmount) > 3 {
		return fmt.Errorf("milestone amounts %v drift from total %v", sum, c.TotalAmount)
	}
	if len(t.Deliverables.ContentRequirements) == 0 {
		return Validationf("contract requires at least one deliverable")
	}
	return nil
}
