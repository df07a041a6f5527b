// Package analyzer evaluates web vitals snapshots against the published
// thresholds. Everything in it is a pure function of its inputs.
package analyzer

import (
	"fmt"
	"math"
	"sort"

	"codeberg.org/mutker/vitalsd/internal/vitals"
)

const maxScore = 100

// Analysis is the derived part of a DiagnosticReport.
type Analysis struct {
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Score           float64  `json:"score"`
}

// DiagnosticReport is built on demand from a snapshot and never mutated.
type DiagnosticReport struct {
	Metrics  vitals.Snapshot `json:"metrics"`
	Analysis Analysis        `json:"analysis"`
	Measured bool            `json:"measured"`
}

type Analyzer struct {
	cfg Config
}

func New(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// GenerateDiagnosticReport lists an issue for each metric worse than good,
// for slow resources and for oversized pages.
func (a *Analyzer) GenerateDiagnosticReport(s vitals.Snapshot) DiagnosticReport {
	report := DiagnosticReport{
		Metrics: s.Clone(),
		Analysis: Analysis{
			Issues:          []string{},
			Recommendations: []string{},
		},
	}
	if !s.Measured() {
		return report
	}
	report.Measured = true

	for _, m := range vitals.CoreMetrics {
		if !s.Has(m) {
			continue
		}
		v := s.Value(m)
		rating := vitals.Rate(m, v)
		if rating == vitals.RatingGood {
			continue
		}
		report.Analysis.Issues = append(report.Analysis.Issues, metricIssue(m, v, rating))
		report.Analysis.Recommendations = append(report.Analysis.Recommendations, recommendationsFor(m, rating)...)
	}

	if slow := a.slowResources(s); len(slow) > 0 {
		report.Analysis.Issues = append(report.Analysis.Issues, fmt.Sprintf(
			"%d resource(s) took longer than %.0fms to load (slowest: %s at %.0fms)",
			len(slow), a.cfg.SlowResourceMs, slow[0].Name, slow[0].Duration))
		report.Analysis.Recommendations = append(report.Analysis.Recommendations,
			"Defer, lazy-load or serve slow resources from a CDN, starting with "+slow[0].Name)
	}

	if s.ResourceTiming.TotalSize > a.cfg.MaxTransferBytes {
		report.Analysis.Issues = append(report.Analysis.Issues, fmt.Sprintf(
			"Total transfer size %s exceeds %s",
			formatBytes(s.ResourceTiming.TotalSize), formatBytes(a.cfg.MaxTransferBytes)))
		report.Analysis.Recommendations = append(report.Analysis.Recommendations,
			"Reduce page weight: compress images, split bundles and drop unused dependencies")
	}

	report.Analysis.Score = a.CalculatePerformanceScore(s)

	return report
}

// CalculatePerformanceScore starts at 100 and subtracts the configured
// penalty for every dimension outside the good band, floored at 0.
// Unmeasured snapshots score 0.
func (a *Analyzer) CalculatePerformanceScore(s vitals.Snapshot) float64 {
	if !s.Measured() {
		return 0
	}

	p := a.cfg.Penalties
	score := float64(maxScore)
	score -= penalty(p.CLS, rateIfPresent(s, vitals.CLS))
	score -= penalty(p.LCP, rateIfPresent(s, vitals.LCP))
	score -= penalty(p.Interactivity, worse(rateIfPresent(s, vitals.FID), rateIfPresent(s, vitals.INP)))
	score -= penalty(p.FCP, rateIfPresent(s, vitals.FCP))
	score -= penalty(p.TTFB, rateIfPresent(s, vitals.TTFB))

	return math.Max(0, math.Min(maxScore, score))
}

func (a *Analyzer) slowResources(s vitals.Snapshot) []vitals.Resource {
	var slow []vitals.Resource
	for _, r := range s.ResourceTiming.SlowResources {
		if r.Duration > a.cfg.SlowResourceMs {
			slow = append(slow, r)
		}
	}
	sort.SliceStable(slow, func(i, j int) bool {
		return slow[i].Duration > slow[j].Duration
	})
	return slow
}

func rateIfPresent(s vitals.Snapshot, m vitals.Metric) vitals.Rating {
	if !s.Has(m) {
		return vitals.RatingGood
	}
	return vitals.Rate(m, s.Value(m))
}

func worse(a, b vitals.Rating) vitals.Rating {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func penalty(p Penalty, r vitals.Rating) float64 {
	switch r {
	case vitals.RatingNeedsImprovement:
		return p.NeedsImprovement
	case vitals.RatingPoor:
		return p.Poor
	default:
		return 0
	}
}

func metricIssue(m vitals.Metric, v float64, r vitals.Rating) string {
	band := vitals.PublishedBands.For(m)
	if m == vitals.CLS {
		return fmt.Sprintf("%s is %.3f (%s, target <= %.2f)", m.Label(), v, r, band.Good)
	}
	return fmt.Sprintf("%s is %.0fms (%s, target <= %.0fms)", m.Label(), v, r, band.Good)
}

func formatBytes(b int64) string {
	switch {
	case b >= 1024*1024:
		return fmt.Sprintf("%.1fMB", float64(b)/(1024*1024))
	case b >= 1024:
		return fmt.Sprintf("%.1fKB", float64(b)/1024)
	default:
		return fmt.Sprintf("%dB", b)
	}
}
