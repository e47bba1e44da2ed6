// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matching

import (
	"fmt"
	"strings"

	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/embeddings"
	"github.com/tejzpr/meetcute/internal/memories"
)

// Score is the outcome of comparing two memories.
// A zero Score means no signal.
type Score struct {
	Confidence float64
	Reason     string
	Strategy   string
}

// ScorerConfig tunes the scorer
type ScorerConfig struct {
	VectorThreshold   float64
	KeywordConfidence float64
	// KeywordFallback tries the keyword rules when vectors exist but score
	// below the threshold.
	KeywordFallback bool
	Rules           []Rule
}

// DefaultScorerConfig returns the production defaults
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		VectorThreshold:   0.85,
		KeywordConfidence: 0.95,
		KeywordFallback:   true,
		Rules:             DefaultRules(),
	}
}

// Scorer decides whether two memories describe the same encounter
type Scorer struct {
	cfg   ScorerConfig
	rules []compiledRule
}

// NewScorer validates the rules and builds a scorer
func NewScorer(cfg ScorerConfig) (*Scorer, error) {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if err := ValidateRules(cfg.Rules); err != nil {
		return nil, fmt.Errorf("invalid keyword rules: %w", err)
	}
	if cfg.VectorThreshold <= 0 || cfg.VectorThreshold > 1 {
		return nil, fmt.Errorf("vector threshold must be in (0, 1], got %v", cfg.VectorThreshold)
	}
	if cfg.KeywordConfidence < cfg.VectorThreshold || cfg.KeywordConfidence > 1 {
		return nil, fmt.Errorf("keyword confidence must be between the threshold and 1, got %v", cfg.KeywordConfidence)
	}
	return &Scorer{cfg: cfg, rules: compileRules(cfg.Rules)}, nil
}

// Threshold is the minimum confidence for a candidate
func (s *Scorer) Threshold() float64 {
	return s.cfg.VectorThreshold
}

// IsCandidate reports whether a score is strong enough to propose a match
func (s *Scorer) IsCandidate(sc Score) bool {
	return sc.Confidence > 0 && sc.Confidence >= s.cfg.VectorThreshold
}

// Score compares a and b. It is symmetric and deterministic.
func (s *Scorer) Score(a, b *database.Memory) Score {
	if vs, ok := s.VectorScore(a, b); ok {
		if s.IsCandidate(vs) {
			return vs
		}
		if !s.cfg.KeywordFallback {
			return Score{}
		}
	}
	return s.KeywordScore(a, b)
}

// VectorScore returns the clamped cosine similarity of the stored embeddings.
// ok is false when either vector is missing, malformed or from another model.
func (s *Scorer) VectorScore(a, b *database.Memory) (Score, bool) {
	if !a.HasEmbedding() || !b.HasEmbedding() {
		return Score{}, false
	}
	if a.EmbeddingDims != b.EmbeddingDims || a.EmbeddingModel != b.EmbeddingModel {
		return Score{}, false
	}
	va := embeddings.BlobToFloat32Slice(a.Embedding)
	vb := embeddings.BlobToFloat32Slice(b.Embedding)
	if embeddings.Validate(va, a.EmbeddingDims) != nil || embeddings.Validate(vb, b.EmbeddingDims) != nil {
		return Score{}, false
	}

	sim, ok := embeddings.CosineSimilarity(va, vb)
	if !ok {
		return Score{}, false
	}
	return VectorConfidence(sim), true
}

// VectorConfidence maps a cosine similarity to a Score, clamped to [0, 1]
func VectorConfidence(cosine float64) Score {
	c := cosine
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	sc := Score{Confidence: c, Strategy: database.StrategyVector}
	if c > 0 {
		sc.Reason = fmt.Sprintf("Both memories describe closely related details (similarity %.2f)", c)
	}
	return sc
}

// KeywordScore applies the rule list to both memories
func (s *Scorer) KeywordScore(a, b *database.Memory) Score {
	fired := s.firedRules(memories.Text(a), memories.Text(b))
	if len(fired) == 0 {
		return Score{}
	}
	reasons := make([]string, len(fired))
	for i, r := range fired {
		reasons[i] = r.reason
	}
	return Score{
		Confidence: s.cfg.KeywordConfidence,
		Reason:     "Shared details: " + strings.Join(reasons, "; "),
		Strategy:   database.StrategyKeyword,
	}
}

// FiredRules returns the names of rules satisfied by both texts, in rule order
func (s *Scorer) FiredRules(textA, textB string) []string {
	fired := s.firedRules(textA, textB)
	names := make([]string, len(fired))
	for i, r := range fired {
		names[i] = r.name
	}
	return names
}

func (s *Scorer) firedRules(textA, textB string) []compiledRule {
	pa := " " + Normalize(textA) + " "
	pb := " " + Normalize(textB) + " "
	var fired []compiledRule
	for _, r := range s.rules {
		if r.matches(pa) && r.matches(pb) {
			fired = append(fired, r)
		}
	}
	return fired
}
