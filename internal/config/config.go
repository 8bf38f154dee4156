package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"

	"github.com/lazypower/mnemo/internal/sector"
)

// Config holds all mnemo configuration.
// Defaults come from Default(); Load layers a JSON file and MNEMO_* env vars on top.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	Vector    VectorConfig    `json:"vector"`
	Engine    EngineConfig    `json:"engine"`
	Decay     DecayConfig     `json:"decay"`
	Facts     FactsConfig     `json:"facts"`
}

type ServerConfig struct {
	Bind string `json:"bind" env:"MNEMO_BIND"`
	Port int    `json:"port" env:"MNEMO_PORT"`
}

type DatabaseConfig struct {
	Path string `json:"path" env:"MNEMO_DB_PATH"` // empty resolves to ~/.mnemo/mnemo.db
}

type EmbeddingConfig struct {
	Provider   string   `json:"provider" env:"MNEMO_EMBED_PROVIDER"` // "hash", "ollama", "openai", "gemini"
	Model      string   `json:"model" env:"MNEMO_EMBED_MODEL"`
	URL        string   `json:"url" env:"MNEMO_EMBED_URL"`
	APIKey     string   `json:"api_key" env:"MNEMO_EMBED_API_KEY"`
	Dimensions int      `json:"dimensions" env:"MNEMO_EMBED_DIMENSIONS"`
	Timeout    Duration `json:"timeout" env:"MNEMO_EMBED_TIMEOUT"`
	CacheSize  int64    `json:"cache_size" env:"MNEMO_EMBED_CACHE_SIZE"` // entries; 0 disables
}

type VectorConfig struct {
	Backend     string `json:"backend" env:"MNEMO_VECTOR_BACKEND"` // "chromem" or "pgvector"
	PostgresURL string `json:"postgres_url" env:"MNEMO_POSTGRES_URL"`
}

type EngineConfig struct {
	DefaultK          int      `json:"default_k" env:"MNEMO_DEFAULT_K"`
	InitialSalience   float64  `json:"initial_salience" env:"MNEMO_INITIAL_SALIENCE"`
	ReinforceBoost    float64  `json:"reinforce_boost" env:"MNEMO_REINFORCE_BOOST"`
	CoactivationBoost float64  `json:"coactivation_boost" env:"MNEMO_COACTIVATION_BOOST"`
	WaypointFloor     float64  `json:"waypoint_floor" env:"MNEMO_WAYPOINT_FLOOR"`
	RecencyHalfLife   Duration `json:"recency_half_life" env:"MNEMO_RECENCY_HALF_LIFE"`
	Weights           Weights  `json:"weights"`
}

// Weights are the composite ranking coefficients.
type Weights struct {
	Similarity float64 `json:"similarity" env:"MNEMO_WEIGHT_SIMILARITY"`
	Salience   float64 `json:"salience" env:"MNEMO_WEIGHT_SALIENCE"`
	Recency    float64 `json:"recency" env:"MNEMO_WEIGHT_RECENCY"`
	Link       float64 `json:"link" env:"MNEMO_WEIGHT_LINK"`
}

type DecayConfig struct {
	Enabled   bool      `json:"enabled" env:"MNEMO_DECAY_ENABLED"`
	Interval  Duration  `json:"interval" env:"MNEMO_DECAY_INTERVAL"`
	Schedule  string    `json:"schedule" env:"MNEMO_DECAY_SCHEDULE"` // cron expression; overrides Interval
	HalfLives HalfLives `json:"half_lives"`
}

// HalfLives is the salience half-life per sector.
type HalfLives struct {
	Episodic   Duration `json:"episodic" env:"MNEMO_HALF_LIFE_EPISODIC"`
	Semantic   Duration `json:"semantic" env:"MNEMO_HALF_LIFE_SEMANTIC"`
	Procedural Duration `json:"procedural" env:"MNEMO_HALF_LIFE_PROCEDURAL"`
	Emotional  Duration `json:"emotional" env:"MNEMO_HALF_LIFE_EMOTIONAL"`
	Reflective Duration `json:"reflective" env:"MNEMO_HALF_LIFE_REFLECTIVE"`
}

// For returns the half-life configured for s.
func (h HalfLives) For(s sector.Sector) time.Duration {
	switch s {
	case sector.Episodic:
		return h.Episodic.Duration
	case sector.Procedural:
		return h.Procedural.Duration
	case sector.Emotional:
		return h.Emotional.Duration
	case sector.Reflective:
		return h.Reflective.Duration
	default:
		return h.Semantic.Duration
	}
}

type FactsConfig struct {
	HalfLife   Duration `json:"half_life" env:"MNEMO_FACT_HALF_LIFE"`
	DecayAfter Duration `json:"decay_after" env:"MNEMO_FACT_DECAY_AFTER"`
}

const day = 24 * time.Hour

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38080,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hash",
			Model:      "nomic-embed-text",
			Dimensions: 256,
			Timeout:    Duration{10 * time.Second},
			CacheSize:  10000,
		},
		Vector: VectorConfig{
			Backend: "chromem",
		},
		Engine: EngineConfig{
			DefaultK:          10,
			InitialSalience:   1.0,
			ReinforceBoost:    0.1,
			CoactivationBoost: 0.02,
			WaypointFloor:     0.75,
			RecencyHalfLife:   Duration{7 * day},
			Weights: Weights{
				Similarity: 0.6,
				Salience:   0.2,
				Recency:    0.1,
				Link:       0.1,
			},
		},
		Decay: DecayConfig{
			Enabled:  true,
			Interval: Duration{time.Hour},
			HalfLives: HalfLives{
				Episodic:   Duration{46 * day},
				Semantic:   Duration{139 * day},
				Procedural: Duration{87 * day},
				Emotional:  Duration{35 * day},
				Reflective: Duration{693 * day},
			},
		},
		Facts: FactsConfig{
			HalfLife:   Duration{180 * day},
			DecayAfter: Duration{30 * day},
		},
	}
}

// Load returns Default() overlaid with the JSON file at path (if path is
// non-empty) and then MNEMO_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var problems []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Embedding.Provider {
	case "hash", "ollama", "openai", "gemini":
	default:
		problems = append(problems, fmt.Errorf("embedding.provider %q unknown", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		problems = append(problems, fmt.Errorf("embedding.dimensions must be positive"))
	}
	if c.Embedding.Timeout.Duration <= 0 {
		problems = append(problems, fmt.Errorf("embedding.timeout must be positive"))
	}
	switch c.Vector.Backend {
	case "chromem":
	case "pgvector":
		if c.Vector.PostgresURL == "" {
			problems = append(problems, fmt.Errorf("vector.postgres_url required for pgvector backend"))
		}
	default:
		problems = append(problems, fmt.Errorf("vector.backend %q unknown", c.Vector.Backend))
	}
	if c.Engine.DefaultK <= 0 {
		problems = append(problems, fmt.Errorf("engine.default_k must be positive"))
	}
	if c.Engine.InitialSalience < 0 || c.Engine.InitialSalience > 1 {
		problems = append(problems, fmt.Errorf("engine.initial_salience must be in [0,1]"))
	}
	if c.Engine.WaypointFloor < 0 || c.Engine.WaypointFloor > 1 {
		problems = append(problems, fmt.Errorf("engine.waypoint_floor must be in [0,1]"))
	}
	if c.Engine.RecencyHalfLife.Duration <= 0 {
		problems = append(problems, fmt.Errorf("engine.recency_half_life must be positive"))
	}
	w := c.Engine.Weights
	if w.Similarity < 0 || w.Salience < 0 || w.Recency < 0 || w.Link < 0 {
		problems = append(problems, fmt.Errorf("engine.weights must be non-negative"))
	}
	if c.Decay.Schedule != "" {
		if !gronx.New().IsValid(c.Decay.Schedule) {
			problems = append(problems, fmt.Errorf("decay.schedule %q is not a valid cron expression", c.Decay.Schedule))
		}
	} else if c.Decay.Enabled && c.Decay.Interval.Duration <= 0 {
		problems = append(problems, fmt.Errorf("decay.interval must be positive"))
	}
	for _, s := range sector.All() {
		if c.Decay.HalfLives.For(s) <= 0 {
			problems = append(problems, fmt.Errorf("decay.half_lives.%s must be positive", s))
		}
	}
	if c.Facts.HalfLife.Duration <= 0 {
		problems = append(problems, fmt.Errorf("facts.half_life must be positive"))
	}
	if c.Facts.DecayAfter.Duration < 0 {
		problems = append(problems, fmt.Errorf("facts.decay_after must not be negative"))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
