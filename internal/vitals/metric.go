package vitals

import "strings"

// Metric identifies one web vitals measurement.
type Metric string

const (
	CLS  Metric = "cls"
	LCP  Metric = "lcp"
	FID  Metric = "fid"
	INP  Metric = "inp"
	FCP  Metric = "fcp"
	TTFB Metric = "ttfb"
)

// CoreMetrics lists every metric in reporting order.
var CoreMetrics = []Metric{CLS, LCP, FID, INP, FCP, TTFB}

// ParseMetric accepts both the short lowercase names and the upper-case
// names emitted by the web-vitals browser library.
func ParseMetric(name string) (Metric, bool) {
	switch Metric(strings.ToLower(strings.TrimSpace(name))) {
	case CLS:
		return CLS, true
	case LCP:
		return LCP, true
	case FID:
		return FID, true
	case INP:
		return INP, true
	case FCP:
		return FCP, true
	case TTFB:
		return TTFB, true
	default:
		return "", false
	}
}

// Unit returns the display unit of a metric. CLS is unitless.
func (m Metric) Unit() string {
	if m == CLS {
		return ""
	}
	return "ms"
}

// Label returns the human readable metric name.
func (m Metric) Label() string {
	switch m {
	case CLS:
		return "Cumulative Layout Shift"
	case LCP:
		return "Largest Contentful Paint"
	case FID:
		return "First Input Delay"
	case INP:
		return "Interaction to Next Paint"
	case FCP:
		return "First Contentful Paint"
	case TTFB:
		return "Time to First Byte"
	default:
		return string(m)
	}
}

func (m Metric) bit() uint8 {
	switch m {
	case CLS:
		return 1 << 0
	case LCP:
		return 1 << 1
	case FID:
		return 1 << 2
	case INP:
		return 1 << 3
	case FCP:
		return 1 << 4
	case TTFB:
		return 1 << 5
	default:
		return 0
	}
}

// Rating is the published web vitals band of a value.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Rank orders ratings from best (0) to worst (2).
func (r Rating) Rank() int {
	switch r {
	case RatingNeedsImprovement:
		return 1
	case RatingPoor:
		return 2
	default:
		return 0
	}
}

// Band holds the upper bounds of the good and needs-improvement ranges.
// Values equal to a bound belong to the better band.
type Band struct {
	Good             float64
	NeedsImprovement float64
}

// Rate classifies v against the band.
func (b Band) Rate(v float64) Rating {
	switch {
	case v <= b.Good:
		return RatingGood
	case v <= b.NeedsImprovement:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

// Bands holds one band per metric.
type Bands struct {
	CLS  Band
	LCP  Band
	FID  Band
	INP  Band
	FCP  Band
	TTFB Band
}

// PublishedBands are the Core Web Vitals thresholds.
var PublishedBands = Bands{
	CLS:  Band{Good: 0.1, NeedsImprovement: 0.25},
	LCP:  Band{Good: 2500, NeedsImprovement: 4000},
	FID:  Band{Good: 100, NeedsImprovement: 300},
	INP:  Band{Good: 200, NeedsImprovement: 500},
	FCP:  Band{Good: 1800, NeedsImprovement: 3000},
	TTFB: Band{Good: 800, NeedsImprovement: 1800},
}

// For returns the band of metric m.
func (b Bands) For(m Metric) Band {
	switch m {
	case CLS:
		return b.CLS
	case LCP:
		return b.LCP
	case FID:
		return b.FID
	case INP:
		return b.INP
	case FCP:
		return b.FCP
	case TTFB:
		return b.TTFB
	default:
		return Band{}
	}
}

// Rate classifies v for metric m using the published thresholds.
func Rate(m Metric, v float64) Rating {
	return PublishedBands.For(m).Rate(v)
}
