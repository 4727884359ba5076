package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Model providers
const (
	ProviderAnthropic = "anthropic"
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderRandom    = "random" // Bid scoring only: uniform random scores
	ProviderNone      = "none"   // Disables an optional fallback
)

// Stream modes
const (
	StreamModeLive   = "live"
	StreamModeReplay = "replay"
)

// SimulationConfig represents the top-level agora.yml configuration.
// One value is built at start-up and passed to every component.
type SimulationConfig struct {
	Version      string              `yaml:"version"`
	Instance     string              `yaml:"instance,omitempty"` // Namespace for Redis keys
	Participants []ParticipantConfig `yaml:"participants"`
	Ledger       LedgerConfig        `yaml:"ledger"`
	Auction      AuctionConfig       `yaml:"auction"`
	Stream       StreamConfig        `yaml:"stream"`
	Models       ModelsConfig        `yaml:"models"`
	Prompts      PromptsConfig       `yaml:"prompts,omitempty"`
	Server       ServerConfig        `yaml:"server"`
	Redis        RedisConfig         `yaml:"redis,omitempty"`
}

// ParticipantConfig describes one persona
type ParticipantConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`                          // Display name written to the ledger
	PersonaPromptFile string `yaml:"persona_prompt_file,omitempty"` // Relative paths resolve against the config file
}

// LedgerConfig locates the conversation history
type LedgerConfig struct {
	Path         string `yaml:"path"`
	SeedContent  string `yaml:"seed_content,omitempty"`
	HistoryTurns int    `yaml:"history_turns,omitempty"` // Entries shown to the models, default 10
}

// AuctionConfig controls the round loop
type AuctionConfig struct {
	InitialCredits      int       `yaml:"initial_credits"`
	MaxRounds           int       `yaml:"max_rounds"`
	MaxConsecutiveNoBid int       `yaml:"max_consecutive_no_bid,omitempty"` // Default 2
	Pause               *Duration `yaml:"pause,omitempty"`                  // Between granted turns, default 3s
	BidTimeout          *Duration `yaml:"bid_timeout,omitempty"`            // Per scorer call, default 30s; 0 disables
}

// StreamConfig controls event delivery to observers
type StreamConfig struct {
	Mode         string    `yaml:"mode"`                    // live or replay
	ReplayDelay  *Duration `yaml:"replay_delay,omitempty"`  // Between replayed messages, default 5s
	PollInterval Duration  `yaml:"poll_interval,omitempty"` // Ledger tail polling
}

// ModelsConfig selects the bid-scoring and generation backends
type ModelsConfig struct {
	BidPrimary         ModelSpec `yaml:"bid_primary"`
	BidFallback        ModelSpec `yaml:"bid_fallback,omitempty"`
	GenerationPrimary  ModelSpec `yaml:"generation_primary"`
	GenerationFallback ModelSpec `yaml:"generation_fallback,omitempty"`
}

// ModelSpec identifies one hosted model
type ModelSpec struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
}

// Enabled reports whether a backend is selected.
func (m ModelSpec) Enabled() bool {
	return m.Provider != "" && m.Provider != ProviderNone
}

// PromptsConfig points at shared prompt templates
type PromptsConfig struct {
	SystemFile  string `yaml:"system_file,omitempty"`
	BiddingFile string `yaml:"bidding_file,omitempty"`
}

// ServerConfig configures the HTTP/SSE server
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig enables event fan-out and round records when URL is set
type RedisConfig struct {
	URL string `yaml:"url,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("3s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"3s\": %w", err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func durationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// PauseDuration returns the pause between granted turns.
func (a AuctionConfig) PauseDuration() time.Duration {
	if a.Pause == nil {
		return 0
	}
	return a.Pause.Std()
}

// BidTimeoutDuration returns the bound on a single scorer call.
func (a AuctionConfig) BidTimeoutDuration() time.Duration {
	if a.BidTimeout == nil {
		return 0
	}
	return a.BidTimeout.Std()
}

// ReplayDelayDuration returns the delay between replayed messages.
func (s StreamConfig) ReplayDelayDuration() time.Duration {
	if s.ReplayDelay == nil {
		return 0
	}
	return s.ReplayDelay.Std()
}

// Default returns a complete configuration for the four built-in personas.
func Default() *SimulationConfig {
	c := &SimulationConfig{
		Version: "1.0",
		Participants: []ParticipantConfig{
			{ID: "Gaurav_Atavale", Role: "Gaurav"},
			{ID: "Anagha_Palandye", Role: "Anagha"},
			{ID: "Kanishkha_S", Role: "Kanishkha"},
			{ID: "Nirbhay_R", Role: "Nirbhay"},
		},
	}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every unset optional field.
func (c *SimulationConfig) ApplyDefaults() {
	if c.Instance == "" {
		c.Instance = "default"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join("data", "conversational_history.txt")
	}
	if c.Ledger.SeedContent == "" {
		c.Ledger.SeedContent = "Conversation started."
	}
	if c.Ledger.HistoryTurns == 0 {
		c.Ledger.HistoryTurns = 10
	}
	if c.Auction.InitialCredits == 0 {
		c.Auction.InitialCredits = 100
	}
	if c.Auction.MaxRounds == 0 {
		c.Auction.MaxRounds = 15
	}
	if c.Auction.MaxConsecutiveNoBid == 0 {
		c.Auction.MaxConsecutiveNoBid = 2
	}
	if c.Auction.Pause == nil {
		c.Auction.Pause = durationPtr(3 * time.Second)
	}
	if c.Auction.BidTimeout == nil {
		c.Auction.BidTimeout = durationPtr(30 * time.Second)
	}
	if c.Stream.Mode == "" {
		c.Stream.Mode = StreamModeLive
	}
	if c.Stream.ReplayDelay == nil {
		c.Stream.ReplayDelay = durationPtr(5 * time.Second)
	}
	if c.Stream.PollInterval == 0 {
		c.Stream.PollInterval = Duration(500 * time.Millisecond)
	}
	if c.Models.BidPrimary.Provider == "" {
		c.Models.BidPrimary = ModelSpec{Provider: ProviderAnthropic, Model: "claude-sonnet-4-5-20250929", MaxTokens: 256}
	}
	if c.Models.BidFallback.Provider == "" {
		c.Models.BidFallback = ModelSpec{Provider: ProviderGroq, Model: "llama-3.1-8b-instant", MaxTokens: 256}
	}
	if c.Models.GenerationPrimary.Provider == "" {
		c.Models.GenerationPrimary = ModelSpec{Provider: ProviderAnthropic, Model: "claude-sonnet-4-5-20250929", MaxTokens: 2048}
	}
	if c.Models.GenerationFallback.Provider == "" {
		c.Models.GenerationFallback = ModelSpec{Provider: ProviderGroq, Model: "llama-3.1-8b-instant", MaxTokens: 1024}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
}

// Validate performs strict validation on the configuration
func (c *SimulationConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if err := ValidateInstanceName(c.Instance); err != nil {
		return err
	}

	if len(c.Participants) < 2 {
		return fmt.Errorf("at least 2 participants are required, got %d", len(c.Participants))
	}

	ids := make(map[string]bool, len(c.Participants))
	roles := make(map[string]string, len(c.Participants))
	for i, p := range c.Participants {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("participants[%d]: id is required", i)
		}
		if strings.TrimSpace(p.Role) == "" {
			return fmt.Errorf("participant '%s': role is required", p.ID)
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate participant id '%s'", p.ID)
		}
		ids[p.ID] = true

		key := strings.ToLower(strings.TrimSpace(p.Role))
		if other, exists := roles[key]; exists {
			return fmt.Errorf("duplicate participant role '%s' found (participants '%s' and '%s')", p.Role, other, p.ID)
		}
		roles[key] = p.ID
	}

	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if c.Ledger.HistoryTurns < 1 {
		return fmt.Errorf("ledger.history_turns must be >= 1, got %d", c.Ledger.HistoryTurns)
	}

	if c.Auction.InitialCredits < 1 {
		return fmt.Errorf("auction.initial_credits must be >= 1, got %d", c.Auction.InitialCredits)
	}
	if c.Auction.MaxRounds < 1 {
		return fmt.Errorf("auction.max_rounds must be >= 1, got %d", c.Auction.MaxRounds)
	}
	if c.Auction.MaxConsecutiveNoBid < 1 {
		return fmt.Errorf("auction.max_consecutive_no_bid must be >= 1, got %d", c.Auction.MaxConsecutiveNoBid)
	}
	if c.Auction.Pause != nil && *c.Auction.Pause < 0 {
		return fmt.Errorf("auction.pause cannot be negative")
	}
	if c.Auction.BidTimeout != nil && *c.Auction.BidTimeout < 0 {
		return fmt.Errorf("auction.bid_timeout cannot be negative")
	}

	if c.Stream.Mode != StreamModeLive && c.Stream.Mode != StreamModeReplay {
		return fmt.Errorf("invalid stream.mode: %s (must be '%s' or '%s')", c.Stream.Mode, StreamModeLive, StreamModeReplay)
	}
	if c.Stream.ReplayDelay != nil && *c.Stream.ReplayDelay < 0 {
		return fmt.Errorf("stream.replay_delay cannot be negative")
	}
	if c.Stream.PollInterval <= 0 {
		return fmt.Errorf("stream.poll_interval must be positive")
	}

	if err := c.Models.BidPrimary.validate("models.bid_primary", true, true); err != nil {
		return err
	}
	if err := c.Models.BidFallback.validate("models.bid_fallback", false, true); err != nil {
		return err
	}
	if err := c.Models.GenerationPrimary.validate("models.generation_primary", true, false); err != nil {
		return err
	}
	if err := c.Models.GenerationFallback.validate("models.generation_fallback", false, false); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("invalid redis.url: %s (must start with redis:// or rediss://)", c.Redis.URL)
	}

	return nil
}

func (m ModelSpec) validate(field string, required, allowRandom bool) error {
	switch m.Provider {
	case ProviderAnthropic, ProviderGroq, ProviderOpenAI:
		if m.Model == "" {
			return fmt.Errorf("%s: model is required for provider '%s'", field, m.Provider)
		}
	case ProviderRandom:
		if !allowRandom {
			return fmt.Errorf("%s: provider 'random' can only score bids", field)
		}
	case ProviderNone, "":
		if required {
			return fmt.Errorf("%s: provider is required", field)
		}
	default:
		return fmt.Errorf("%s: invalid provider: %s (must be 'anthropic', 'groq', 'openai', 'random' or 'none')", field, m.Provider)
	}

	if m.MaxTokens < 0 {
		return fmt.Errorf("%s: max_tokens cannot be negative", field)
	}
	return nil
}

// Load reads agora.yml from the specified path, applies defaults and validates it.
// Relative file paths in the configuration are resolved against the file's directory.
func Load(path string) (*SimulationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config SimulationConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.ApplyDefaults()
	config.resolvePaths(filepath.Dir(path))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *SimulationConfig) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	c.Ledger.Path = resolve(c.Ledger.Path)
	c.Prompts.SystemFile = resolve(c.Prompts.SystemFile)
	c.Prompts.BiddingFile = resolve(c.Prompts.BiddingFile)
	for i := range c.Participants {
		c.Participants[i].PersonaPromptFile = resolve(c.Participants[i].PersonaPromptFile)
	}
}
