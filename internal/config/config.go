package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

type Config struct {
	Embedding EmbeddingConfig
	Verify    VerifyConfig
	Announce  AnnounceConfig
	Database  DatabaseConfig
	Web       WebConfig
	Models    ModelsConfig
}

type EmbeddingConfig struct {
	URL string // embedding server base URL, defaults to http://localhost:8000
	Dim int    // defaults to 512
}

type VerifyConfig struct {
	FaceThreshold      float64       // cosine distance threshold for the primary face match
	ConsensusThreshold int           // minimum matching model votes for IC consensus
	DuplicateWindow    time.Duration // minimum interval between accepted check-ins per student
	CaptureTimeout     time.Duration // budget for a single capability call (capture, extraction)
	LookupThreshold    float64       // max cosine distance for student lookup by face
}

type AnnounceConfig struct {
	Provider    string // "gemini", "openai" or "" to disable announcements
	GeminiKey   string
	OpenAIToken string
	Template    string // announcement text template, {name} is replaced with the student name
	SpoolDir    string // directory where synthesized audio is dropped for playback
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the student face HNSW index (optional)
}

type WebConfig struct {
	StaffToken string // bearer token guarding staff endpoints; empty disables the check
}

type ModelsConfig struct {
	Models map[string]ModelSettings `yaml:"models"`
}

// ModelSettings holds the per-model verification settings loaded from models.yaml.
type ModelSettings struct {
	Threshold float64 `yaml:"threshold"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDefault reads an environment variable, falling back to a default when
// it is unset or empty.
func envDefault(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envSeconds reads an environment variable holding a number of seconds.
// Unlike envInt, zero and negative values pass through so the duplicate
// window can be explicitly disabled.
func envSeconds(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}

	return &Config{
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Verify: VerifyConfig{
			FaceThreshold:      envFloat("FACE_THRESHOLD", 0.4),
			ConsensusThreshold: envInt("CONSENSUS_THRESHOLD", 2),
			DuplicateWindow:    envSeconds("DUPLICATE_WINDOW_SECONDS", 60*time.Second),
			CaptureTimeout:     envSeconds("CAPTURE_TIMEOUT_SECONDS", 10*time.Second),
			LookupThreshold:    envFloat("LOOKUP_THRESHOLD", 0.5),
		},
		Announce: AnnounceConfig{
			Provider:    os.Getenv("ANNOUNCE_PROVIDER"),
			GeminiKey:   os.Getenv("GEMINI_API_KEY"),
			OpenAIToken: os.Getenv("OPENAI_TOKEN"),
			Template:    os.Getenv("ANNOUNCE_TEMPLATE"),
			SpoolDir:    envDefault("ANNOUNCE_SPOOL_DIR", "announcements"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Web: WebConfig{
			StaffToken: os.Getenv("STAFF_TOKEN"),
		},
		Models: models,
	}
}

// ModelThreshold returns the distance threshold for a consensus model.
// Unknown models fall back to a conservative default.
func (c *Config) ModelThreshold(model string) float64 {
	if m, ok := c.Models.Models[model]; ok && m.Threshold > 0 {
		return m.Threshold
	}
	return 0.5
}

// ModelNames returns the configured consensus model names in a stable order.
func (c *ModelsConfig) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for _, name := range defaultModelOrder {
		if _, ok := c.Models[name]; ok {
			names = append(names, name)
		}
	}
	for name := range c.Models {
		if !contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

var defaultModelOrder = []string{"facenet", "vgg-face", "arcface", "openface"}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
