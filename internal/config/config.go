package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models dealroom.yml.
type Config struct {
	Negotiation NegotiationConfig `yaml:"negotiation" json:"negotiation"`
	Contract    ContractConfig    `yaml:"contract" json:"contract"`
	Webhooks    []WebhookConfig   `yaml:"webhooks" json:"webhooks,omitempty"`
	Kafka       KafkaConfig       `yaml:"kafka" json:"kafka"`
	Redis       RedisConfig       `yaml:"redis" json:"redis"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// NegotiationConfig holds the round bound and the variance-scoring thresholds.
type NegotiationConfig struct {
	MaxRounds int `yaml:"max_rounds" json:"max_rounds"`
	// Auto-response is considered only when variance is below this value.
	AutoRespondVariance float64 `yaml:"auto_respond_variance" json:"auto_respond_variance"`
	Likelihood          struct {
		HighBelow   float64 `yaml:"high_below" json:"high_below"`
		High        float64 `yaml:"high" json:"high"`
		MediumBelow float64 `yaml:"medium_below" json:"medium_below"`
		Medium      float64 `yaml:"medium" json:"medium"`
		Low         float64 `yaml:"low" json:"low"`
	} `yaml:"likelihood" json:"likelihood"`
	Health struct {
		GoodBelow     float64 `yaml:"good_below" json:"good_below"`
		ModerateBelow float64 `yaml:"moderate_below" json:"moderate_below"`
	} `yaml:"health" json:"health"`
	AcceptAbove     float64 `yaml:"accept_above" json:"accept_above"`
	CounterAbove    float64 `yaml:"counter_above" json:"counter_above"`
	AutoCounterBump float64 `yaml:"auto_counter_bump" json:"auto_counter_bump"`
	ConflictRetries int     `yaml:"conflict_retries" json:"conflict_retries"`
}

type ContractConfig struct {
	Currency              string   `yaml:"currency" json:"currency"`
	DefaultTotalAmount    float64  `yaml:"default_total_amount" json:"default_total_amount"`
	DefaultDeliverables   []string `yaml:"default_deliverables" json:"default_deliverables"`
	BonusRate             float64  `yaml:"bonus_rate" json:"bonus_rate"`
	BonusEngagementLift   float64  `yaml:"bonus_engagement_lift" json:"bonus_engagement_lift"`
	KillFeeRate           float64  `yaml:"kill_fee_rate" json:"kill_fee_rate"`
	DefaultEngagementRate float64  `yaml:"default_engagement_rate" json:"default_engagement_rate"`
	GoverningLaw          string   `yaml:"governing_law" json:"governing_law"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

type KafkaConfig struct {
	Brokers []string          `yaml:"brokers" json:"brokers,omitempty"`
	Topics  map[string]string `yaml:"topics" json:"topics,omitempty"`
}

type RedisConfig struct {
	URL        string `yaml:"url" json:"url,omitempty"`
	TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// TTL returns the cache lifetime for directory lookups.
func (r RedisConfig) TTL() time.Duration {
	if r.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.TTLSeconds) * time.Second
}

type ServerConfig struct {
	Addr                   string   `yaml:"addr" json:"addr"`
	BasePath               string   `yaml:"base_path" json:"base_path"`
	JWTSecret              string   `yaml:"jwt_secret" json:"-"`
	AllowLegacyActorHeader bool     `yaml:"allow_legacy_actor_header" json:"allow_legacy_actor_header"`
	CORSOrigins            []string `yaml:"cors_origins" json:"cors_origins,omitempty"`
	GRPCHealthAddr         string   `yaml:"grpc_health_addr" json:"grpc_health_addr,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dealroom config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or the defaults when the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	n := c.Negotiation
	if n.MaxRounds <= 0 {
		return fmt.Errorf("negotiation.max_rounds must be positive")
	}
	if n.AutoRespondVariance < 0 {
		return fmt.Errorf("negotiation.auto_respond_variance must not be negative")
	}
	if n.Likelihood.HighBelow > n.Likelihood.MediumBelow {
		return fmt.Errorf("negotiation.likelihood.high_below must not exceed medium_below")
	}
	for name, v := range map[string]float64{
		"likelihood.high":   n.Likelihood.High,
		"likelihood.medium": n.Likelihood.Medium,
		"likelihood.low":    n.Likelihood.Low,
		"accept_above":      n.AcceptAbove,
		"counter_above":     n.CounterAbove,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("negotiation.%s must be within [0,1]", name)
		}
	}
	if n.Health.GoodBelow > n.Health.ModerateBelow {
		return fmt.Errorf("negotiation.health.good_below must not exceed moderate_below")
	}
	if n.AutoCounterBump < 0 {
		return fmt.Errorf("negotiation.auto_counter_bump must not be negative")
	}
	k := c.Contract
	if k.DefaultTotalAmount < 0 {
		return fmt.Errorf("contract.default_total_amount must not be negative")
	}
	if k.DefaultEngagementRate < 0 || k.BonusRate < 0 || k.KillFeeRate < 0 {
		return fmt.Errorf("contract rates must not be negative")
	}
	if len(k.DefaultDeliverables) == 0 {
		return fmt.Errorf("contract.default_deliverables is required")
	}
	for _, d := range k.DefaultDeliverables {
		if d == "" {
			return fmt.Errorf("contract.default_deliverables contains an empty tag")
		}
	}
	if k.Currency == "" {
		return fmt.Errorf("contract.currency is required")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	for event, topic := range c.Kafka.Topics {
		if event == "" || topic == "" {
			return fmt.Errorf("kafka.topics contains an empty mapping")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dealroom.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from data keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `negotiation:
  max_rounds: 3
  auto_respond_variance: 0.15
  likelihood:
    high_below: 0.1
    high: 0.9
    medium_below: 0.2
    medium: 0.7
    low: 0.4
  health:
    good_below: 0.2
    moderate_below: 0.4
  accept_above: 0.8
  counter_above: 0.6
  auto_counter_bump: 0.05
  conflict_retries: 3

contract:
  currency: USD
  default_total_amount: 1000
  default_deliverables: [instagram_post]
  bonus_rate: 0.10
  bonus_engagement_lift: 1.5
  kill_fee_rate: 0.25
  default_engagement_rate: 0.03
  governing_law: "State of New York, USA"

kafka:
  topics:
    negotiation.created: dealroom.negotiations
    negotiation.agreed: dealroom.negotiations
    contract.signed: dealroom.contracts
    contract.finalized: dealroom.contracts

redis:
  ttl_seconds: 300

server:
  addr: ":8080"
  base_path: /v1
  allow_legacy_actor_header: false
`
