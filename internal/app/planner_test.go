package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var plannerNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func relevantHits(score float64) []ScoredChunk {
	return []ScoredChunk{
		{DocumentID: "d1", Source: "go-notes.md", Seq: 0, Content: "goroutine and channel basics in Go", Score: score},
		{DocumentID: "d1", Source: "go-notes.md", Seq: 1, Content: "a mutex protects shared state", Score: score},
	}
}

func TestPlanLocalOnly(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: true})

	plan := planner.Plan("how does a goroutine use a channel", relevantHits(0.8), false, plannerNow)
	assert.True(t, plan.UseLocal)
	assert.False(t, plan.UseExternal)
	assert.Nil(t, plan.TimeFilter)
}

func TestPlanExternalOnLowRelevance(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: true})

	plan := planner.Plan("how does a goroutine use a channel", relevantHits(0.2), false, plannerNow)
	assert.False(t, plan.UseLocal)
	assert.True(t, plan.UseExternal)
}

func TestPlanExternalOnEmptyIndex(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: true})

	plan := planner.Plan("anything at all", nil, true, plannerNow)
	assert.False(t, plan.UseLocal)
	assert.True(t, plan.UseExternal)
}

func TestPlanNeitherWhenExternalDisabled(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: false})

	plan := planner.Plan("cooking pasta", relevantHits(0.1), false, plannerNow)
	assert.False(t, plan.UseLocal)
	assert.False(t, plan.UseExternal)
}

func TestPlanWeatherQueryOnEmptyIndex(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: true})

	plan := planner.Plan("What is the weather tomorrow?", nil, true, plannerNow)
	assert.False(t, plan.UseLocal)
	assert.True(t, plan.UseExternal)
	require.NotNil(t, plan.TimeFilter)
	assert.Equal(t, plannerNow, plan.TimeFilter.To)
	assert.Equal(t, plannerNow.Add(-24*time.Hour), plan.TimeFilter.From)
}

func TestPlanHybridOnRelevantLocalWithRecencyCue(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: true})

	hits := []ScoredChunk{
		{DocumentID: "d1", Source: "go-notes.md", Content: "goroutine scheduling changes", Score: 0.9},
	}
	plan := planner.Plan("latest goroutine scheduling changes", hits, false, plannerNow)
	assert.True(t, plan.UseLocal)
	assert.True(t, plan.UseExternal, "recency plus relevant local content is a hybrid plan")
	require.NotNil(t, plan.TimeFilter)
}

func TestPlanRecencyWindows(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: true})

	cases := []struct {
		query  string
		window time.Duration
	}{
		{"latest Go release notes", 7 * 24 * time.Hour},
		{"recent database benchmarks", 30 * 24 * time.Hour},
		{"news about the election", 7 * 24 * time.Hour},
		{"what happened today", 24 * time.Hour},
	}
	for _, tc := range cases {
		plan := planner.Plan(tc.query, nil, true, plannerNow)
		require.NotNil(t, plan.TimeFilter, tc.query)
		assert.Equal(t, tc.window, plan.TimeFilter.To.Sub(plan.TimeFilter.From), tc.query)
	}
}

func TestPlanTightestWindowWins(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: true})

	plan := planner.Plan("latest news today", nil, true, plannerNow)
	require.NotNil(t, plan.TimeFilter)
	assert.Equal(t, 24*time.Hour, plan.TimeFilter.To.Sub(plan.TimeFilter.From))
}

func TestPlanKeywordVerification(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: true})

	// High similarity score but no query term appears in the text: the
	// local route is rejected.
	hits := []ScoredChunk{
		{DocumentID: "d1", Source: "s", Content: "completely unrelated prose", Score: 0.95},
	}
	plan := planner.Plan("kubernetes ingress configuration", hits, false, plannerNow)
	assert.False(t, plan.UseLocal)
	assert.True(t, plan.UseExternal)
}

func TestPlanDeterministic(t *testing.T) {
	planner := NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: true})

	first := planner.Plan("latest goroutine news", relevantHits(0.7), false, plannerNow)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, planner.Plan("latest goroutine news", relevantHits(0.7), false, plannerNow))
	}
}
