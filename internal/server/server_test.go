package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dealroom/internal/config"
	"dealroom/internal/db"
	"dealroom/internal/domain"
	"dealroom/internal/engine"
	"dealroom/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, authCfg AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(conn, config.Default())
	e.Logger = quiet
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	authCfg.Logger = quiet
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: authCfg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", res.Request.Method, res.Request.URL.Path, res.StatusCode, want, string(data))
	}
}

func signToken(t *testing.T, subject, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func seedDirectory(t *testing.T, srv *testServer, headers map[string]string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/campaigns/camp-1", map[string]any{
		"name":                 "Spring launch",
		"budget":               map[string]any{"min": 400, "max": 800},
		"default_deliverables": []string{"instagram_reel"},
	}, headers)
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/creators/cr-1", map[string]any{
		"display_name":    "Ada",
		"engagement_rate": 0.05,
	}, headers)
	expectStatus(t, res, data, http.StatusOK)
}

func TestDealLifecycle(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	brand := map[string]string{"X-Actor-Id": "brand-1"}
	seedDirectory(t, srv, brand)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/communications", map[string]any{
		"id":          "comm-1",
		"campaign_id": "camp-1",
		"creator_id":  "cr-1",
		"content":     "Very interested, my rate is $1,000",
	}, brand)
	expectStatus(t, res, data, http.StatusCreated)
	opened := decode[engine.ResponseOutcome](t, data)
	if opened.Negotiation == nil || opened.Negotiation.Status != domain.NegotiationActive {
		t.Fatalf("expected an active negotiation, got %s", string(data))
	}
	negID := opened.Negotiation.ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/communications", map[string]any{
		"id":          "comm-1",
		"campaign_id": "camp-1",
		"creator_id":  "cr-1",
		"content":     "Very interested, my rate is $1,000",
	}, brand)
	expectStatus(t, res, data, http.StatusOK)
	if again := decode[engine.ResponseOutcome](t, data); again.Created || again.Negotiation.ID != negID {
		t.Fatalf("replay must return the existing negotiation: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/negotiations/"+negID+"/counter-offers", map[string]any{
		"terms": map[string]any{"total_rate": 950, "deliverables": []string{"instagram_post"}},
	}, brand)
	expectStatus(t, res, data, http.StatusOK)
	countered := decode[engine.CounterOutcome](t, data)
	if countered.Negotiation.Status != domain.NegotiationAgreed || countered.AutoResponse == nil {
		t.Fatalf("expected auto-accept: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/negotiations/"+negID+"/rounds", nil, brand)
	expectStatus(t, res, data, http.StatusOK)
	rounds := decode[roundList](t, data)
	if len(rounds.Items) != 2 || rounds.Items[0].RoundNumber != 1 || rounds.Items[1].InitiatedBy != domain.InitiatedByAI {
		t.Fatalf("unexpected rounds %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/negotiations/"+negID+"/contract", nil, brand)
	expectStatus(t, res, data, http.StatusCreated)
	contract := decode[domain.Contract](t, data)
	if contract.Terms.Compensation.TotalAmount != 950 || contract.Status != domain.ContractDraft {
		t.Fatalf("unexpected contract %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/negotiations/"+negID+"/contract", nil, brand)
	expectStatus(t, res, data, http.StatusConflict)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/contracts/"+contract.ID+"/signatures", map[string]any{
		"signer": "brand", "signature": "Brand Co",
	}, brand)
	expectStatus(t, res, data, http.StatusOK)
	if c := decode[domain.Contract](t, data); c.Status != domain.ContractPartiallySigned {
		t.Fatalf("status after brand signature = %s", c.Status)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/contracts/"+contract.ID+"/signatures", map[string]any{
		"signer": "creator", "signature": "Ada", "metadata": map[string]string{"ip": "10.0.0.1"},
	}, map[string]string{"X-Actor-Id": "cr-1"})
	expectStatus(t, res, data, http.StatusOK)
	signed := decode[domain.Contract](t, data)
	if signed.Status != domain.ContractSigned || !signed.Signatures.ContractFinalized || signed.Signatures.FinalizationDate == nil {
		t.Fatalf("expected finalized contract: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/contracts/"+contract.ID, nil, brand)
	expectStatus(t, res, data, http.StatusOK)
	if c := decode[domain.Contract](t, data); c.Version != 3 {
		t.Fatalf("stored version = %d", c.Version)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/negotiations?campaign_id=camp-1&status=contracted", nil, brand)
	expectStatus(t, res, data, http.StatusOK)
	if list := decode[negotiationList](t, data); len(list.Items) != 1 || list.Items[0].ID != negID {
		t.Fatalf("unexpected list %s", string(data))
	}
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	headers := map[string]string{"X-Actor-Id": "brand-1"}
	seedDirectory(t, srv, headers)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=1", nil, headers)
	expectStatus(t, res, data, http.StatusOK)
	first := decode[paginatedEvents](t, data)
	if len(first.Items) != 1 || first.Items[0].Type != "creator.upserted" || first.NextCursor == "" {
		t.Fatalf("unexpected first page %s", string(data))
	}
	if first.Items[0].ActorID != "brand-1" {
		t.Fatalf("actor = %s", first.Items[0].ActorID)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=1&cursor="+first.NextCursor, nil, headers)
	expectStatus(t, res, data, http.StatusOK)
	second := decode[paginatedEvents](t, data)
	if len(second.Items) != 1 || second.Items[0].Type != "campaign.upserted" || second.NextCursor != "" {
		t.Fatalf("unexpected second page %s", string(data))
	}
	if second.Items[0].CampaignID != "camp-1" || second.Items[0].Payload == nil {
		t.Fatalf("unexpected event %+v", second.Items[0])
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?cursor=abc", nil, headers)
	expectStatus(t, res, data, http.StatusBadRequest)
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	headers := map[string]string{"X-Actor-Id": "brand-1"}
	seedDirectory(t, srv, headers)
	client := srv.Client()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing negotiation", http.MethodGet, "/v1/negotiations/missing", nil, http.StatusNotFound, "not_found"},
		{"missing contract", http.MethodGet, "/v1/contracts/missing", nil, http.StatusNotFound, "not_found"},
		{"empty communication", http.MethodPost, "/v1/communications", map[string]any{
			"id": "c-1", "campaign_id": "camp-1", "creator_id": "cr-1", "content": " ",
		}, http.StatusBadRequest, "validation"},
		{"counter on unknown negotiation", http.MethodPost, "/v1/negotiations/missing/counter-offers", map[string]any{
			"terms": map[string]any{"total_rate": 100},
		}, http.StatusNotFound, "not_found"},
		{"empty counter terms", http.MethodPost, "/v1/negotiations/missing/counter-offers", map[string]any{
			"terms": map[string]any{},
		}, http.StatusBadRequest, "validation"},
		{"bad signer", http.MethodPost, "/v1/contracts/missing/signatures", map[string]any{
			"signer": "agent", "signature": "x",
		}, http.StatusBadRequest, "bad_request"},
		{"missing body", http.MethodPost, "/v1/negotiations/missing/resolution", nil, http.StatusBadRequest, "bad_request"},
		{"negative budget", http.MethodPut, "/v1/campaigns/camp-2", map[string]any{
			"name": "x", "budget": map[string]any{"min": -1, "max": 10},
		}, http.StatusBadRequest, "validation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, headers)
			expectStatus(t, res, data, tc.status)
			var envelope struct {
				Error apiErrorBody `json:"error"`
			}
			if err := json.Unmarshal(data, &envelope); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if envelope.Error.Code != tc.code || envelope.Error.Message == "" {
				t.Fatalf("unexpected envelope %s", string(data))
			}
		})
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/communications", map[string]any{
		"id": "comm-1", "campaign_id": "camp-1", "creator_id": "cr-1", "content": "Interested, $1,000",
	}, headers)
	expectStatus(t, res, data, http.StatusCreated)
	negID := decode[engine.ResponseOutcome](t, data).Negotiation.ID
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/negotiations/"+negID+"/contract", nil, headers)
	expectStatus(t, res, data, http.StatusConflict)
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/negotiations", nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/negotiations", nil, map[string]string{"X-Actor-Id": "brand-1"})
	expectStatus(t, res, data, http.StatusUnauthorized)

	bad := signToken(t, "brand-1", "other-secret")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/negotiations", nil, map[string]string{"Authorization": "Bearer " + bad})
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/negotiations", nil, map[string]string{"Authorization": "Token abc"})
	expectStatus(t, res, data, http.StatusUnauthorized)

	good := map[string]string{"Authorization": "Bearer " + signToken(t, "brand-7", testSecret)}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/campaigns/camp-9", map[string]any{
		"name": "Fall", "budget": map[string]any{"min": 100, "max": 200},
	}, good)
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_kind=campaign", nil, good)
	expectStatus(t, res, data, http.StatusOK)
	events := decode[paginatedEvents](t, data)
	if len(events.Items) != 1 || events.Items[0].ActorID != "brand-7" {
		t.Fatalf("expected event attributed to token subject: %s", string(data))
	}
}

func TestExtractPreviewDoesNotPersist(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	headers := map[string]string{"X-Actor-Id": "brand-1"}
	seedDirectory(t, srv, headers)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/extract", map[string]any{
		"campaign_id": "camp-1",
		"content":     "I'm very interested! My rate is $500 per post for 2 posts",
	}, headers)
	expectStatus(t, res, data, http.StatusOK)
	out := decode[engine.ResponseOutcome](t, data)
	if out.Extraction.Analysis.InterestLevel != domain.InterestHigh || out.Extraction.Terms.RatePerPost == nil {
		t.Fatalf("unexpected extraction %s", string(data))
	}
	if out.Negotiation != nil || out.Created {
		t.Fatalf("preview must not open a negotiation")
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/negotiations", nil, headers)
	expectStatus(t, res, data, http.StatusOK)
	if list := decode[negotiationList](t, data); len(list.Items) != 0 {
		t.Fatalf("expected no negotiations, got %d", len(list.Items))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit="+strconv.Itoa(10), nil, headers)
	expectStatus(t, res, data, http.StatusOK)
	if events := decode[paginatedEvents](t, data); len(events.Items) != 2 {
		t.Fatalf("preview must not emit events, got %d", len(events.Items))
	}
}
