package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"dealroom/internal/config"
	"dealroom/internal/domain"
	"dealroom/internal/notify"
)

type memorySource struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *memorySource) add(typ, campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, domain.Event{
		ID: int64(len(s.events) + 1), Type: typ, CampaignID: campaignID, EntityKind: "negotiation",
		ActorID: "system", TS: "2024-01-01T00:00:00Z", Payload: `{"round":1}`,
	})
}

func (s *memorySource) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memorySource) LatestEventID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	fail bool
	got  []string
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, eventType)
	p.keys = append(p.keys, key)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherDeliversOnlyNewMatchingEvents(t *testing.T) {
	src := &memorySource{}
	src.add("negotiation.created", "camp-0")
	all := &recordingPublisher{}
	contracts := &recordingPublisher{}
	d := notify.NewDispatcher(src, []notify.Sink{
		{Name: "all", Publisher: all},
		{Name: "contracts", Publisher: contracts, Events: []string{"contract.signed"}},
	}, quietLogger(), 0)
	ctx := context.Background()
	d.DispatchOnce(ctx)
	if len(all.got) != 0 {
		t.Fatalf("events from before start must be skipped, got %v", all.got)
	}
	src.add("negotiation.agreed", "camp-1")
	src.add("contract.signed", "camp-1")
	d.DispatchOnce(ctx)
	if len(all.got) != 2 || all.keys[0] != "camp-1" {
		t.Fatalf("all sink got %v keys %v", all.got, all.keys)
	}
	if len(contracts.got) != 1 || contracts.got[0] != "contract.signed" {
		t.Fatalf("filtered sink got %v", contracts.got)
	}
	d.DispatchOnce(ctx)
	if len(all.got) != 2 {
		t.Fatalf("events redelivered: %v", all.got)
	}
}

func TestDispatcherRetriesAfterFailure(t *testing.T) {
	src := &memorySource{}
	pub := &recordingPublisher{}
	d := notify.NewDispatcher(src, []notify.Sink{{Name: "flaky", Publisher: pub}}, quietLogger(), 0)
	ctx := context.Background()
	d.DispatchOnce(ctx)
	src.add("contract.finalized", "camp-1")
	pub.fail = true
	d.DispatchOnce(ctx)
	pub.fail = false
	d.DispatchOnce(ctx)
	if len(pub.got) != 1 || pub.got[0] != "contract.finalized" {
		t.Fatalf("expected redelivery after failure, got %v", pub.got)
	}
}

func TestWebhookPublisherPostsEnvelope(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    notify.Envelope
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	src := &memorySource{}
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: srv.URL, Secret: "s3cret", Events: []string{"negotiation.created"}}}
	sinks, closer, err := notify.SinksFromConfig(cfg, quietLogger())
	if err != nil {
		t.Fatalf("sinks: %v", err)
	}
	defer closer.Close()
	if len(sinks) != 2 {
		t.Fatalf("expected webhook and log sinks, got %d", len(sinks))
	}
	d := notify.NewDispatcher(src, sinks, quietLogger(), 0)
	ctx := context.Background()
	d.DispatchOnce(ctx)
	src.add("negotiation.created", "camp-9")
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if headers.Get("X-Dealroom-Event") != "negotiation.created" || headers.Get("X-Dealroom-Secret") != "s3cret" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if body.ID != 1 || body.CampaignID != "camp-9" || string(body.Payload) != `{"round":1}` {
		t.Fatalf("unexpected envelope %+v", body)
	}
}

func TestWebhookPublisherReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	pub := notify.NewWebhookPublisher(config.WebhookConfig{URL: srv.URL})
	if err := pub.Publish(context.Background(), "contract.signed", []byte(`{}`), ""); err == nil {
		t.Fatalf("expected error for 502")
	}
}

func TestKafkaTopicMapping(t *testing.T) {
	if _, err := notify.NewKafkaPublisher(nil, nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
	kp, err := notify.NewKafkaPublisher([]string{"localhost:9092"}, map[string]string{"contract.signed": "deals.contracts"})
	if err != nil {
		t.Fatal(err)
	}
	defer kp.Close()
	if got := kp.Topic("contract.signed"); got != "deals.contracts" {
		t.Fatalf("mapped topic = %s", got)
	}
	if got := kp.Topic("negotiation.created"); got != "dealroom.negotiation" {
		t.Fatalf("fallback topic = %s", got)
	}
}
