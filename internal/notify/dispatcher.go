package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dealroom/internal/config"
	"dealroom/internal/domain"
)

const (
	defaultInterval = 2 * time.Second
	defaultBatch    = 100
)

// EventSource is the event log the dispatcher tails.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Sink is one destination with its own event filter and cursor.
type Sink struct {
	Name      string
	Publisher Publisher
	Events    []string
}

// Dispatcher fans new events out to every sink. Each sink keeps its own cursor, starting
// at the newest event when the dispatcher first sees it; delivery stops at the first
// failure and resumes from there on the next tick.
type Dispatcher struct {
	source   EventSource
	sinks    []Sink
	filters  []eventFilter
	logger   *slog.Logger
	interval time.Duration
	batch    int

	mu      sync.Mutex
	cursors map[int]int64
}

func NewDispatcher(source EventSource, sinks []Sink, logger *slog.Logger, interval time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	d := &Dispatcher{source: source, sinks: sinks, logger: logger, interval: interval, batch: defaultBatch, cursors: map[int]int64{}}
	for _, s := range sinks {
		d.filters = append(d.filters, newEventFilter(s.Events))
	}
	return d
}

func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.sinks) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i := range d.sinks {
		if err := d.dispatchSink(ctx, i); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.WarnContext(ctx, "event delivery failed",
				"module", "notify.dispatcher",
				"operation", "dispatch",
				"outcome", "failure",
				"sink", d.sinks[i].Name,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) dispatchSink(ctx context.Context, idx int) error {
	cursor, err := d.cursorFor(ctx, idx)
	if err != nil {
		return err
	}
	evts, err := d.source.EventsAfter(ctx, d.batch, cursor)
	if err != nil {
		return err
	}
	sink := d.sinks[idx]
	for _, evt := range evts {
		if !d.filters[idx].match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		body, err := Encode(evt)
		if err != nil {
			return err
		}
		if err := sink.Publisher.Publish(ctx, evt.Type, body, partitionKey(evt)); err != nil {
			return err
		}
		d.setCursor(idx, evt.ID)
	}
	return nil
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, nil
	}
	cur, err := d.source.LatestEventID(ctx)
	if err != nil {
		return 0, err
	}
	d.cursors[idx] = cur
	return cur, nil
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func partitionKey(evt domain.Event) string {
	if evt.CampaignID != "" {
		return evt.CampaignID
	}
	return evt.EntityID
}

// Envelope is the JSON body every sink receives.
type Envelope struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	CampaignID string          `json:"campaign_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func Encode(evt domain.Event) ([]byte, error) {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	return json.Marshal(Envelope{
		ID:         evt.ID,
		Type:       evt.Type,
		CampaignID: evt.CampaignID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

// SinksFromConfig builds a sink per enabled webhook plus one for Kafka, or a logging sink
// when no brokers are configured. The returned closer releases the Kafka writer.
func SinksFromConfig(cfg *config.Config, logger *slog.Logger) ([]Sink, io.Closer, error) {
	var sinks []Sink
	for i, hook := range cfg.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		sinks = append(sinks, Sink{Name: "webhook:" + hook.URL, Publisher: NewWebhookPublisher(cfg.Webhooks[i]), Events: hook.Events})
	}
	if len(cfg.Kafka.Brokers) == 0 {
		sinks = append(sinks, Sink{Name: "log", Publisher: NewLoggingPublisher(logger)})
		return sinks, noopCloser{}, nil
	}
	kp, err := NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topics)
	if err != nil {
		return nil, nil, err
	}
	sinks = append(sinks, Sink{Name: "kafka", Publisher: kp})
	return sinks, kp, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
