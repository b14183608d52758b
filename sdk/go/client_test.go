package dealroomsdk_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dealroom/internal/config"
	"dealroom/internal/db"
	"dealroom/internal/engine"
	"dealroom/internal/migrate"
	"dealroom/internal/server"
	dealroomsdk "dealroom/sdk/go"
)

const secret = "sdk-secret"

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(conn, config.Default())
	e.Logger = quiet
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: secret, Logger: quiet}})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestClientNegotiatesAndSigns(t *testing.T) {
	srv := newAPI(t)
	ctx := context.Background()
	c := dealroomsdk.New(srv.URL, token(t, "brand-1"))

	if _, err := c.UpsertCampaign(ctx, dealroomsdk.Campaign{ID: "camp-1", Name: "Spring", Budget: dealroomsdk.Budget{Min: 400, Max: 800}}); err != nil {
		t.Fatalf("campaign: %v", err)
	}
	if _, err := c.UpsertCreator(ctx, dealroomsdk.Creator{ID: "cr-1", DisplayName: "Ada", EngagementRate: 0.05}); err != nil {
		t.Fatalf("creator: %v", err)
	}
	opened, err := c.RecordReply(ctx, "comm-1", "camp-1", "cr-1", "Interested! I'd do it for $1,120")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !opened.Created || opened.Negotiation == nil || opened.Extraction.Analysis.InterestLevel != "medium" && opened.Extraction.Analysis.InterestLevel != "high" {
		t.Fatalf("unexpected outcome %+v", opened)
	}
	negID := opened.Negotiation.ID

	total := 1000.0
	out, err := c.CounterOffer(ctx, negID, dealroomsdk.Terms{TotalRate: &total, Deliverables: []string{"instagram_post"}}, "How about 1000?")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if out.AutoResponse == nil || out.AutoResponse.ResponseType != "counter" || *out.AutoResponse.ProposedTerms.TotalRate != 1050 {
		t.Fatalf("expected auto counter at 1050, got %+v", out.AutoResponse)
	}

	_, err = c.GenerateContract(ctx, negID)
	var apiErr *dealroomsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 409 || apiErr.Code != "conflict" {
		t.Fatalf("expected conflict for active negotiation, got %v", err)
	}

	n, err := c.Resolve(ctx, negID, "accept", "Deal at 1050")
	if err != nil || n.Status != "agreed" {
		t.Fatalf("resolve: %+v err %v", n, err)
	}
	rounds, err := c.Rounds(ctx, negID)
	if err != nil || len(rounds) != 3 || rounds[2].InitiatedBy != "creator" {
		t.Fatalf("rounds: %+v err %v", rounds, err)
	}

	contract, err := c.GenerateContract(ctx, negID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if contract.Terms.Compensation.TotalAmount != 1050 {
		t.Fatalf("contract total = %v", contract.Terms.Compensation.TotalAmount)
	}
	if _, err := c.Sign(ctx, contract.ID, "brand", "Brand Co", nil); err != nil {
		t.Fatalf("brand sign: %v", err)
	}
	creator := dealroomsdk.New(srv.URL, token(t, "cr-1"))
	signed, err := creator.Sign(ctx, contract.ID, "creator", "Ada", map[string]string{"ip": "10.0.0.2"})
	if err != nil {
		t.Fatalf("creator sign: %v", err)
	}
	if signed.Status != "signed" || !signed.Signatures.ContractFinalized {
		t.Fatalf("expected finalized contract %+v", signed)
	}

	page, err := c.EventsPage(ctx, 2, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Items[0].Type != "collaboration.created" && page.Items[0].Type != "contract.finalized" {
		t.Fatalf("newest event = %s", page.Items[0].Type)
	}
}

func TestClientReportsAuthErrors(t *testing.T) {
	srv := newAPI(t)
	c := dealroomsdk.New(srv.URL, "")
	c.ActorID = "brand-1"
	_, err := c.Negotiation(context.Background(), "missing")
	var apiErr *dealroomsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 || apiErr.Code != "unauthorized" {
		t.Fatalf("expected 401 without legacy header support, got %v", err)
	}
}
