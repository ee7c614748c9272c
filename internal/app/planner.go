package app

import (
	"strings"
	"time"
	"unicode"
)

// DateRange bounds external search results by publish date.
type DateRange struct {
	From time.Time
	To   time.Time
}

// RetrievalPlan is the planner's decision for one query. Both flags false
// means the answer is generated from conversation history alone.
type RetrievalPlan struct {
	UseLocal    bool
	UseExternal bool
	TimeFilter  *DateRange
}

type PlannerConfig struct {
	MinRelevance    float64
	ExternalEnabled bool
}

// recencyCues map trigger phrases to lookback windows.
var recencyCues = []struct {
	phrase string
	window time.Duration
}{
	{"today", 24 * time.Hour},
	{"tomorrow", 24 * time.Hour},
	{"yesterday", 48 * time.Hour},
	{"right now", 24 * time.Hour},
	{"latest", 7 * 24 * time.Hour},
	{"breaking", 24 * time.Hour},
	{"this week", 7 * 24 * time.Hour},
	{"this month", 30 * 24 * time.Hour},
	{"recent", 30 * 24 * time.Hour},
	{"recently", 30 * 24 * time.Hour},
	{"news", 7 * 24 * time.Hour},
	{"current", 7 * 24 * time.Hour},
	{"weather", 24 * time.Hour},
}

// Planner decides where supporting context should come from. It is a pure
// decision over the local retrieval outcome and the query text, so results
// are reproducible given the same inputs.
type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	return &Planner{cfg: cfg}
}

// Plan inspects the local hits for query and decides the retrieval route.
// now is injected so recency windows are deterministic in tests.
func (p *Planner) Plan(query string, localHits []ScoredChunk, indexEmpty bool, now time.Time) RetrievalPlan {
	plan := RetrievalPlan{}

	if !indexEmpty && len(localHits) > 0 {
		avg := 0.0
		for _, hit := range localHits {
			avg += hit.Score
		}
		avg /= float64(len(localHits))
		if avg > p.cfg.MinRelevance && keywordOverlap(query, localHits) {
			plan.UseLocal = true
		}
	}

	// Recency cues force external search even when local content looks
	// relevant; a relevant index plus a recency cue yields a hybrid plan.
	wantsRecency, window := recencyWindow(query)
	if p.cfg.ExternalEnabled && (wantsRecency || !plan.UseLocal) {
		plan.UseExternal = true
		if wantsRecency {
			plan.TimeFilter = &DateRange{From: now.Add(-window), To: now}
		}
	}

	return plan
}

// keywordOverlap checks that at least one meaningful query term actually
// appears in the retrieved text. Embedding similarity alone passes on vague
// matches, this guards against them.
func keywordOverlap(query string, hits []ScoredChunk) bool {
	terms := significantTerms(query)
	if len(terms) == 0 {
		return true
	}

	var corpus strings.Builder
	for _, hit := range hits {
		corpus.WriteString(strings.ToLower(hit.Content))
		corpus.WriteString("\n")
	}
	text := corpus.String()

	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"what": {}, "which": {}, "who": {}, "how": {}, "why": {}, "when": {},
	"where": {}, "do": {}, "does": {}, "did": {}, "can": {}, "could": {},
	"please": {}, "tell": {}, "me": {}, "about": {}, "of": {}, "in": {},
	"on": {}, "to": {}, "for": {}, "and": {}, "or": {}, "it": {}, "this": {},
	"that": {}, "with": {}, "be": {}, "my": {}, "your": {}, "i": {}, "you": {},
}

func significantTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var terms []string
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

func recencyWindow(query string) (bool, time.Duration) {
	lower := strings.ToLower(query)
	matched := false
	window := time.Duration(0)
	for _, cue := range recencyCues {
		if strings.Contains(lower, cue.phrase) {
			matched = true
			// The tightest window among matched cues wins.
			if window == 0 || cue.window < window {
				window = cue.window
			}
		}
	}
	return matched, window
}
