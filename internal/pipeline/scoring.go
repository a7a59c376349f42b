package pipeline

import (
	"net/url"
	"strings"
	"time"

	"scrape-orchestrator/internal/models"
)

// ScoreFunc computes one quality dimension for a result, in [0,100].
type ScoreFunc func(r *models.Result) float64

// Scorers bundles the four pluggable scoring functions. The aggregation rule
// (average of four, VALID >= 80, PARTIAL >= 56) is fixed policy in models;
// only the per-dimension functions are replaceable.
type Scorers struct {
	Completeness ScoreFunc
	Accuracy     ScoreFunc
	Consistency  ScoreFunc
	Freshness    ScoreFunc
}

// Score evaluates all four dimensions, clamping each to [0,100].
func (s Scorers) Score(r *models.Result) models.QualityMetrics {
	return models.QualityMetrics{
		Completeness: clamp(s.Completeness(r)),
		Accuracy:     clamp(s.Accuracy(r)),
		Consistency:  clamp(s.Consistency(r)),
		Freshness:    clamp(s.Freshness(r)),
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// DefaultScorers returns heuristic scoring over the collected content.
func DefaultScorers() Scorers {
	return Scorers{
		Completeness: scoreCompleteness,
		Accuracy:     scoreAccuracy,
		Consistency:  scoreConsistency,
		Freshness:    scoreFreshness,
	}
}

// scoreCompleteness rewards presence of the fields a well-formed collection
// run should carry.
func scoreCompleteness(r *models.Result) float64 {
	checks := []bool{
		len(r.Content) > 0,
		r.Metadata.Size > 0,
		r.Metadata.ContentType != "",
		r.Metadata.Checksum != "",
		r.Metadata.ItemCount > 0,
	}
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(len(checks)) * 100
}

// scoreAccuracy sanity-checks the identifying fields against their declared
// forms.
func scoreAccuracy(r *models.Result) float64 {
	score := 0.0
	if u, err := url.Parse(r.SourceURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		score += 40
	}
	switch r.SourceType {
	case models.SourceWebsite, models.SourceAPI, models.SourceFeed:
		score += 30
	}
	if strings.Contains(r.Metadata.ContentType, "/") {
		score += 30
	}
	return score
}

// scoreConsistency checks that the declared metadata agrees with the content.
func scoreConsistency(r *models.Result) float64 {
	score := 100.0
	if r.Metadata.Size < 0 || r.Metadata.ItemCount < 0 {
		score -= 50
	}
	if links, ok := r.Content["links"].([]string); ok && r.Metadata.ItemCount != len(links) {
		score -= 30
	}
	if r.Timestamp.After(time.Now().Add(time.Minute)) {
		score -= 50
	}
	return score
}

// scoreFreshness decays linearly with the age of the collection timestamp,
// from 100 for brand-new results to 0 at 24 hours.
func scoreFreshness(r *models.Result) float64 {
	age := time.Since(r.Timestamp)
	if age <= 0 {
		return 100
	}
	const horizon = 24 * time.Hour
	if age >= horizon {
		return 0
	}
	return 100 * (1 - float64(age)/float64(horizon))
}
