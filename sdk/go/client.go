package dealroomsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Dealroom HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set; servers accept it only
	// when legacy actor headers are enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

type Budget struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type Campaign struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Budget              Budget   `json:"budget"`
	DefaultDeliverables []string `json:"default_deliverables,omitempty"`
}

type Creator struct {
	ID             string  `json:"id"`
	DisplayName    string  `json:"display_name"`
	EngagementRate float64 `json:"engagement_rate"`
}

// Terms is a commercial proposal; nil rates are absent.
type Terms struct {
	TotalRate    *float64 `json:"total_rate,omitempty"`
	RatePerPost  *float64 `json:"rate_per_post,omitempty"`
	RatePerStory *float64 `json:"rate_per_story,omitempty"`
	RatePerReel  *float64 `json:"rate_per_reel,omitempty"`
	Deliverables []string `json:"deliverables,omitempty"`
	Timeline     *string  `json:"timeline,omitempty"`
}

// Negotiation represents the API negotiation model (partial).
type Negotiation struct {
	ID           string `json:"id"`
	CampaignID   string `json:"campaign_id"`
	CreatorID    string `json:"creator_id"`
	Status       string `json:"status"`
	CurrentRound int    `json:"current_round"`
	MaxRounds    int    `json:"max_rounds"`
	CreatorTerms Terms  `json:"creator_terms"`
	CurrentTerms Terms  `json:"current_terms"`
}

type Analysis struct {
	Variance               float64 `json:"variance"`
	LikelihoodOfAcceptance float64 `json:"likelihood_of_acceptance"`
	NegotiationHealth      string  `json:"negotiation_health"`
	ShouldAutoRespond      bool    `json:"should_auto_respond"`
}

type Round struct {
	RoundNumber     int      `json:"round_number"`
	InitiatedBy     string   `json:"initiated_by"`
	ProposedTerms   Terms    `json:"proposed_terms"`
	AIAnalysis      Analysis `json:"ai_analysis"`
	ResponseType    string   `json:"response_type"`
	ResponseMessage string   `json:"response_message"`
}

type ResponseOutcome struct {
	Extraction struct {
		Terms    Terms `json:"terms"`
		Analysis struct {
			InterestLevel       string  `json:"interest_level"`
			Confidence          float64 `json:"confidence"`
			BudgetCompatibility float64 `json:"budget_compatibility"`
		} `json:"analysis"`
	} `json:"extraction"`
	Negotiation *Negotiation `json:"negotiation,omitempty"`
	Created     bool         `json:"created"`
}

type CounterOutcome struct {
	Negotiation  Negotiation `json:"negotiation"`
	Analysis     Analysis    `json:"analysis"`
	Rounds       []Round     `json:"rounds"`
	AutoResponse *Round      `json:"auto_response,omitempty"`
}

// Contract represents the API contract model (partial).
type Contract struct {
	ID            string `json:"id"`
	NegotiationID string `json:"negotiation_id"`
	Status        string `json:"status"`
	Version       int    `json:"version"`
	Terms         struct {
		Compensation struct {
			TotalAmount float64 `json:"total_amount"`
			Currency    string  `json:"currency"`
		} `json:"compensation"`
	} `json:"contract_terms"`
	Signatures struct {
		BrandSigned       bool    `json:"brand_signed"`
		CreatorSigned     bool    `json:"creator_signed"`
		ContractFinalized bool    `json:"contract_finalized"`
		FinalizationDate  *string `json:"finalization_date,omitempty"`
	} `json:"signature_data"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CampaignID string         `json:"campaign_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the envelope code when the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// UpsertCampaign creates or replaces a campaign.
func (c *Client) UpsertCampaign(ctx context.Context, campaign Campaign) (Campaign, error) {
	body := map[string]any{
		"name":   campaign.Name,
		"budget": campaign.Budget,
	}
	if len(campaign.DefaultDeliverables) > 0 {
		body["default_deliverables"] = campaign.DefaultDeliverables
	}
	var resp Campaign
	err := c.do(ctx, http.MethodPut, "campaigns/"+url.PathEscape(campaign.ID), body, &resp)
	return resp, err
}

// UpsertCreator creates or replaces a creator profile.
func (c *Client) UpsertCreator(ctx context.Context, creator Creator) (Creator, error) {
	body := map[string]any{
		"display_name":    creator.DisplayName,
		"engagement_rate": creator.EngagementRate,
	}
	var resp Creator
	err := c.do(ctx, http.MethodPut, "creators/"+url.PathEscape(creator.ID), body, &resp)
	return resp, err
}

// RecordReply submits a creator reply; Created reports whether a negotiation was opened.
func (c *Client) RecordReply(ctx context.Context, id, campaignID, creatorID, content string) (ResponseOutcome, error) {
	body := map[string]any{
		"id":          id,
		"campaign_id": campaignID,
		"creator_id":  creatorID,
		"content":     content,
	}
	var resp ResponseOutcome
	err := c.do(ctx, http.MethodPost, "communications", body, &resp)
	return resp, err
}

// Negotiation fetches a negotiation by id.
func (c *Client) Negotiation(ctx context.Context, id string) (Negotiation, error) {
	var resp Negotiation
	err := c.do(ctx, http.MethodGet, "negotiations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Rounds returns the rounds of a negotiation in order.
func (c *Client) Rounds(ctx context.Context, negotiationID string) ([]Round, error) {
	var resp struct {
		Items []Round `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("negotiations/%s/rounds", url.PathEscape(negotiationID)), nil, &resp)
	return resp.Items, err
}

// CounterOffer submits brand terms for an active negotiation.
func (c *Client) CounterOffer(ctx context.Context, negotiationID string, terms Terms, message string) (CounterOutcome, error) {
	body := map[string]any{"terms": terms}
	if message != "" {
		body["response_message"] = message
	}
	var resp CounterOutcome
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("negotiations/%s/counter-offers", url.PathEscape(negotiationID)), body, &resp)
	return resp, err
}

// Resolve records the creator's final decision ("accept" or "decline").
func (c *Client) Resolve(ctx context.Context, negotiationID, decision, message string) (Negotiation, error) {
	body := map[string]any{"decision": decision}
	if message != "" {
		body["message"] = message
	}
	var resp Negotiation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("negotiations/%s/resolution", url.PathEscape(negotiationID)), body, &resp)
	return resp, err
}

// GenerateContract builds the contract of an agreed negotiation.
func (c *Client) GenerateContract(ctx context.Context, negotiationID string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("negotiations/%s/contract", url.PathEscape(negotiationID)), nil, &resp)
	return resp, err
}

// Contract fetches a contract by id.
func (c *Client) Contract(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodGet, "contracts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Sign records a brand or creator signature.
func (c *Client) Sign(ctx context.Context, contractID, signer, signature string, metadata map[string]string) (Contract, error) {
	body := map[string]any{
		"signer":    signer,
		"signature": signature,
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	var resp Contract
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("contracts/%s/signatures", url.PathEscape(contractID)), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
