package analyzer

import "codeberg.org/mutker/vitalsd/internal/vitals"

type Direction string

const (
	Improving Direction = "improving"
	Declining Direction = "declining"
	Stable    Direction = "stable"
)

// trendMetrics are the metrics compared by AnalyzePerformanceTrend.
var trendMetrics = []vitals.Metric{vitals.LCP, vitals.FID, vitals.CLS}

type Change struct {
	Metric        vitals.Metric `json:"metric"`
	Previous      float64       `json:"previous"`
	Current       float64       `json:"current"`
	ChangePercent float64       `json:"change_percent"`
}

type Trend struct {
	Trend   Direction `json:"trend"`
	Changes []Change  `json:"changes"`
}

// AnalyzePerformanceTrend compares LCP, FID and CLS between two snapshots.
// A previous value of zero yields a 0% change.
func (*Analyzer) AnalyzePerformanceTrend(current, previous vitals.Snapshot) Trend {
	t := Trend{Changes: make([]Change, 0, len(trendMetrics))}

	decreased, increased := 0, 0
	for _, m := range trendMetrics {
		c := Change{
			Metric:   m,
			Previous: previous.Value(m),
			Current:  current.Value(m),
		}
		if c.Previous != 0 {
			c.ChangePercent = (c.Current - c.Previous) / c.Previous * 100
		}

		switch {
		case c.ChangePercent < 0:
			decreased++
		case c.ChangePercent > 0:
			increased++
		}
		t.Changes = append(t.Changes, c)
	}

	switch {
	case decreased > increased:
		t.Trend = Improving
	case increased > decreased:
		t.Trend = Declining
	default:
		t.Trend = Stable
	}

	return t
}
