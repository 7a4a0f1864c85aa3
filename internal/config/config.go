// Package config holds the persistent pipeline configuration.
//
// Every tunable threshold in the processing core lives here so that a cycle
// is fully described by (input items, config, registry state).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config is the persistent pipeline configuration
type Config struct {
	Embed      EmbedConfig      `json:"embed"`
	Dedup      DedupConfig      `json:"dedup"`
	Cluster    ClusterConfig    `json:"cluster"`
	Arc        ArcConfig        `json:"arc"`
	Divergence DivergenceConfig `json:"divergence"`
	Score      ScoreConfig      `json:"score"`
}

// EmbedConfig configures the external embedding collaborator.
type EmbedConfig struct {
	Endpoint    string  `json:"endpoint"`     // e.g. "http://localhost:11434"
	Model       string  `json:"model"`        // e.g. "nomic-embed-text"
	TimeoutSecs int     `json:"timeout_secs"` // per-item embedding timeout
	Parallelism int     `json:"parallelism"`  // bounded concurrent embed calls
	RatePerSec  float64 `json:"rate_per_sec"` // request rate limit
}

// DedupConfig configures the three-stage sieve.
type DedupConfig struct {
	// SimhashMaxDistance is the exclusive Hamming-distance bound for the
	// near-duplicate stage (items with distance < this are merged).
	SimhashMaxDistance int `json:"simhash_max_distance"`
	// SemanticThreshold is the cosine similarity above which two items are
	// semantic duplicates.
	SemanticThreshold float64 `json:"semantic_threshold"`
}

// ClusterConfig configures density-based topic clustering.
type ClusterConfig struct {
	MinClusterSize int `json:"min_cluster_size"`
	MinSamples     int `json:"min_samples"`
	// NoiseRecoveryThreshold is the minimum cosine similarity to an existing
	// centroid for a noise item to be absorbed in the secondary pass.
	NoiseRecoveryThreshold float64 `json:"noise_recovery_threshold"`
	// MaxDims triggers dimensionality reduction before density estimation.
	MaxDims        int   `json:"max_dims"`
	ProjectionDims int   `json:"projection_dims"`
	ProjectionSeed int64 `json:"projection_seed"`
}

// ArcConfig configures the story arc registry.
type ArcConfig struct {
	DBPath string `json:"db_path"`
	// Both gates must hold simultaneously for a cluster to link to a story.
	SimilarityThreshold    float64 `json:"similarity_threshold"`
	EntityOverlapThreshold float64 `json:"entity_overlap_threshold"`
	// FingerprintAlpha is the recency weight of the running centroid:
	// new = alpha*cluster + (1-alpha)*old.
	FingerprintAlpha float64 `json:"fingerprint_alpha"`
	// DormantAfterCycles is how many linkless cycles before a story stops
	// being a match candidate. Dormant stories are never deleted and remain
	// queryable; they are excluded from matching entirely.
	DormantAfterCycles int `json:"dormant_after_cycles"`
}

// DivergenceConfig configures the narrative divergence analyzer.
type DivergenceConfig struct {
	// BaselineSeed is the expected mainstream:grassroots ratio used until
	// enough cycles have been observed.
	BaselineSeed float64 `json:"baseline_seed"`
	// BaselineLambda is the exponential-decay weight applied per cluster
	// observation when updating the rolling baseline.
	BaselineLambda float64 `json:"baseline_lambda"`
	// Epsilon floors actual_ratio before division.
	Epsilon float64 `json:"epsilon"`
	// SentinelMax caps the index when there is no mainstream coverage at
	// all, instead of producing an infinite value.
	SentinelMax float64 `json:"sentinel_max"`
	// MajorTierMax restricts mainstream volume to source tiers <= this
	// value. 0 disables the restriction.
	MajorTierMax int `json:"major_tier_max"`
	// SevereBoostsScore controls whether severely-underreported clusters
	// receive the underreported multiplier in addition to the flag. When
	// false they are flagged for review with no score change.
	SevereBoostsScore bool `json:"severe_boosts_score"`
}

// ScoreConfig configures the velocity scorer and ranker.
type ScoreConfig struct {
	ViralCategories []string `json:"viral_categories"`
	DigestSize      int      `json:"digest_size"`
	// DiversityRepeatLimit is how many same-theme stories may rank before
	// the demotion penalty applies.
	DiversityRepeatLimit int `json:"diversity_repeat_limit"`
	// DiversityPenalty is the fractional demotion (0.2 = -20%).
	DiversityPenalty float64 `json:"diversity_penalty"`
	// EngagementNorm is the engagement delta-per-hour treated as a 1.0
	// velocity signal.
	EngagementNorm float64 `json:"engagement_norm"`
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() *Config {
	return &Config{
		Embed: EmbedConfig{
			Endpoint:    "http://localhost:11434",
			Model:       "nomic-embed-text",
			TimeoutSecs: 30,
			Parallelism: 4,
			RatePerSec:  20,
		},
		Dedup: DedupConfig{
			SimhashMaxDistance: 3,
			SemanticThreshold:  0.9,
		},
		Cluster: ClusterConfig{
			MinClusterSize:         5,
			MinSamples:             2,
			NoiseRecoveryThreshold: 0.7,
			MaxDims:                128,
			ProjectionDims:         48,
			ProjectionSeed:         42,
		},
		Arc: ArcConfig{
			DBPath:                 defaultDBPath(),
			SimilarityThreshold:    0.85,
			EntityOverlapThreshold: 0.60,
			FingerprintAlpha:       0.3,
			DormantAfterCycles:     18, // ~3 days at 4h cycles
		},
		Divergence: DivergenceConfig{
			BaselineSeed:      10.0,
			BaselineLambda:    0.05,
			Epsilon:           0.01,
			SentinelMax:       100.0,
			MajorTierMax:      3,
			SevereBoostsScore: true,
		},
		Score: ScoreConfig{
			ViralCategories:      []string{"CRISIS", "SCANDAL", "BREAKTHROUGH"},
			DigestSize:           10,
			DiversityRepeatLimit: 2,
			DiversityPenalty:     0.2,
			EngagementNorm:       500,
		},
	}
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".zeitgeist", "config.json")
}

func defaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".zeitgeist", "registry.db")
}

// Load reads config from disk, or returns defaults
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), nil
	}

	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
