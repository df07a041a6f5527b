package vitals_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/vitals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	m, ok := vitals.ParseMetric("LCP")
	require.True(t, ok)
	assert.Equal(t, vitals.LCP, m)

	_, ok = vitals.ParseMetric("TBT")
	assert.False(t, ok)
}

func TestRate(t *testing.T) {
	tests := []struct {
		metric vitals.Metric
		value  float64
		want   vitals.Rating
	}{
		{vitals.CLS, 0.1, vitals.RatingGood},
		{vitals.CLS, 0.2, vitals.RatingNeedsImprovement},
		{vitals.CLS, 0.26, vitals.RatingPoor},
		{vitals.LCP, 2500, vitals.RatingGood},
		{vitals.LCP, 4000, vitals.RatingNeedsImprovement},
		{vitals.LCP, 4001, vitals.RatingPoor},
		{vitals.FID, 301, vitals.RatingPoor},
		{vitals.INP, 250, vitals.RatingNeedsImprovement},
		{vitals.FCP, 1500, vitals.RatingGood},
		{vitals.TTFB, 1900, vitals.RatingPoor},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, vitals.Rate(tt.metric, tt.value), "%s=%v", tt.metric, tt.value)
	}
}

func TestSnapshotObserved(t *testing.T) {
	var s vitals.Snapshot
	assert.False(t, s.Measured())

	s.Set(vitals.CLS, 0)
	assert.True(t, s.Has(vitals.CLS), "a zero CLS that was reported counts as measured")
	assert.True(t, s.Measured())
	assert.False(t, s.Complete())

	s.Set(vitals.LCP, 2000)
	s.Set(vitals.FCP, 1200)
	s.Set(vitals.TTFB, 300)
	assert.False(t, s.Complete())

	s.Set(vitals.INP, 90)
	assert.True(t, s.Complete())
}

func TestSnapshotValueFallback(t *testing.T) {
	s := vitals.Snapshot{LCP: 2000}
	assert.True(t, s.Has(vitals.LCP))
	assert.False(t, s.Has(vitals.CLS))
	assert.True(t, s.Measured())
}

func TestSnapshotValidate(t *testing.T) {
	require.NoError(t, vitals.Snapshot{CLS: 0.05, LCP: 2000}.Validate())

	err := vitals.Snapshot{LCP: -1}.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidSnapshot))

	assert.Error(t, vitals.Snapshot{FCP: math.NaN()}.Validate())
	assert.Error(t, vitals.Snapshot{ResourceTiming: vitals.ResourceTiming{TotalSize: -5}}.Validate())
	assert.Error(t, vitals.Snapshot{ResourceTiming: vitals.ResourceTiming{
		SlowResources: []vitals.Resource{{Name: "a.js", Duration: 10, TransferSize: -1}},
	}}.Validate())
}

func TestSnapshotClone(t *testing.T) {
	s := vitals.Snapshot{ResourceTiming: vitals.ResourceTiming{
		SlowResources: []vitals.Resource{{Name: "hero.jpg", Duration: 900}},
	}}
	c := s.Clone()
	c.ResourceTiming.SlowResources[0].Name = "changed"

	assert.Equal(t, "hero.jpg", s.ResourceTiming.SlowResources[0].Name)
}
