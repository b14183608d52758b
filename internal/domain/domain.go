package domain

import "sort"

const (
	NegotiationActive     = "active"
	NegotiationAgreed     = "agreed"
	NegotiationDeclined   = "declined"
	NegotiationContracted = "contracted"
)

const (
	InitiatedByBrand   = "brand"
	InitiatedByCreator = "creator"
	InitiatedByAI      = "ai"
)

const (
	ResponseCounter = "counter"
	ResponseAccept  = "accept"
	ResponseDecline = "decline"
)

const (
	ContractDraft           = "draft"
	ContractPartiallySigned = "partially_signed"
	ContractSigned          = "signed"
)

const (
	SignerBrand   = "brand"
	SignerCreator = "creator"
)

const (
	InterestHigh   = "high"
	InterestMedium = "medium"
	InterestLow    = "low"
)

// DealTerms is a structured commercial proposal.
type DealTerms struct {
	TotalRate    *float64 `json:"total_rate,omitempty"`
	RatePerPost  *float64 `json:"rate_per_post,omitempty"`
	RatePerStory *float64 `json:"rate_per_story,omitempty"`
	RatePerReel  *float64 `json:"rate_per_reel,omitempty"`
	Deliverables []string `json:"deliverables" required:"false"`
	Timeline     *string  `json:"timeline,omitempty"`
}

// IsEmpty reports whether no rate, deliverable or timeline is present.
func (t DealTerms) IsEmpty() bool {
	return t.TotalRate == nil && t.RatePerPost == nil && t.RatePerStory == nil && t.RatePerReel == nil &&
		len(t.Deliverables) == 0 && t.Timeline == nil
}

// Total returns the total rate or 0 when absent.
func (t DealTerms) Total() float64 {
	if t.TotalRate == nil {
		return 0
	}
	return *t.TotalRate
}

// AddDeliverable inserts tag keeping the set sorted and unique.
func (t *DealTerms) AddDeliverable(tag string) {
	for _, d := range t.Deliverables {
		if d == tag {
			return
		}
	}
	t.Deliverables = append(t.Deliverables, tag)
	sort.Strings(t.Deliverables)
}

// Clone returns a deep copy so snapshots never share pointers.
func (t DealTerms) Clone() DealTerms {
	out := DealTerms{
		TotalRate:    cloneFloat(t.TotalRate),
		RatePerPost:  cloneFloat(t.RatePerPost),
		RatePerStory: cloneFloat(t.RatePerStory),
		RatePerReel:  cloneFloat(t.RatePerReel),
	}
	if t.Deliverables != nil {
		out.Deliverables = append([]string{}, t.Deliverables...)
	}
	if t.Timeline != nil {
		v := *t.Timeline
		out.Timeline = &v
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float is a convenience for optional rate fields.
func Float(v float64) *float64 { return &v }

// String is a convenience for optional text fields.
func String(v string) *string { return &v }

// Budget is a campaign budget range.
type Budget struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ExtractionAnalysis is stored on a negotiation when it is opened.
type ExtractionAnalysis struct {
	InterestLevel       string  `json:"interest_level" enum:"high,medium,low"`
	Confidence          float64 `json:"confidence"`
	BudgetCompatibility float64 `json:"budget_compatibility"`
}

// RoundAnalysis scores a counter-offer against the creator's original ask.
type RoundAnalysis struct {
	Variance               float64 `json:"variance"`
	LikelihoodOfAcceptance float64 `json:"likelihood_of_acceptance"`
	NegotiationHealth      string  `json:"negotiation_health" enum:"good,moderate,poor,unknown"`
	ShouldAutoRespond      bool    `json:"should_auto_respond"`
}

type Negotiation struct {
	ID              string             `json:"id"`
	CampaignID      string             `json:"campaign_id"`
	CreatorID       string             `json:"creator_id"`
	CommunicationID string             `json:"communication_id"`
	Status          string             `json:"status" enum:"active,agreed,declined,contracted"`
	CurrentRound    int                `json:"current_round"`
	MaxRounds       int                `json:"max_rounds"`
	CreatorTerms    DealTerms          `json:"creator_terms"`
	CurrentTerms    DealTerms          `json:"current_terms"`
	AIAnalysis      ExtractionAnalysis `json:"ai_analysis"`
	CreatedAt       string             `json:"created_at" format:"date-time"`
	UpdatedAt       string             `json:"updated_at" format:"date-time"`
}

type NegotiationRound struct {
	ID              string        `json:"id"`
	NegotiationID   string        `json:"negotiation_id"`
	RoundNumber     int           `json:"round_number"`
	InitiatedBy     string        `json:"initiated_by" enum:"brand,creator,ai"`
	ProposedTerms   DealTerms     `json:"proposed_terms"`
	AIAnalysis      RoundAnalysis `json:"ai_analysis"`
	ResponseType    string        `json:"response_type" enum:"counter,accept,decline"`
	ResponseMessage string        `json:"response_message"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
}

type Contract struct {
	ID            string        `json:"id"`
	NegotiationID string        `json:"negotiation_id"`
	Terms         ContractTerms `json:"contract_terms"`
	Status        string        `json:"status" enum:"draft,partially_signed,signed"`
	Signatures    SignatureData `json:"signature_data"`
	Version       int           `json:"version"`
	CreatedAt     string        `json:"created_at" format:"date-time"`
	UpdatedAt     string        `json:"updated_at" format:"date-time"`
}

// PartySignature is the last signature recorded for one party.
type PartySignature struct {
	SignedAt  string            `json:"signed_at" format:"date-time"`
	Signature string            `json:"signature"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type SignatureData struct {
	BrandSigned          bool            `json:"brand_signed"`
	CreatorSigned        bool            `json:"creator_signed"`
	BrandSignatureDate   *string         `json:"brand_signature_date,omitempty" format:"date-time"`
	CreatorSignatureDate *string         `json:"creator_signature_date,omitempty" format:"date-time"`
	Brand                *PartySignature `json:"brand,omitempty"`
	Creator              *PartySignature `json:"creator,omitempty"`
	ContractFinalized    bool            `json:"contract_finalized"`
	FinalizationDate     *string         `json:"finalization_date,omitempty" format:"date-time"`
}

// Collaboration is materialized once both parties have signed.
type Collaboration struct {
	ID            string `json:"id"`
	ContractID    string `json:"contract_id"`
	NegotiationID string `json:"negotiation_id"`
	CampaignID    string `json:"campaign_id"`
	CreatorID     string `json:"creator_id"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// Communication is an inbound creator message.
type Communication struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	CreatorID  string `json:"creator_id"`
	Subject    string `json:"subject,omitempty"`
	Content    string `json:"content"`
	ReceivedAt string `json:"received_at,omitempty" format:"date-time"`
}

type Campaign struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Budget              Budget   `json:"budget"`
	DefaultDeliverables []string `json:"default_deliverables,omitempty"`
	UpdatedAt           string   `json:"updated_at" format:"date-time"`
}

type CreatorProfile struct {
	ID             string  `json:"id"`
	DisplayName    string  `json:"display_name"`
	EngagementRate float64 `json:"engagement_rate"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CampaignID string `json:"campaign_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
