package degrade

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pampax/internal/pampax"
)

func TestDegradeReturnsLevelNoneWhenWithinBudget(t *testing.T) {
	items := []Item{{ID: "a", Content: "short", Tokens: 10}}
	res := Degrade(items, 100, DefaultThresholds)
	assert.Equal(t, LevelNone, res.Applied.Level)
	assert.Len(t, res.Degraded, 1)
	assert.False(t, res.Degraded[0].Dropped)
}

func TestDegradeLevelsAreMonotoneOrdered(t *testing.T) {
	assert.Greater(t, DefaultThresholds.Level1, 0.0)
	assert.Greater(t, DefaultThresholds.Level2, DefaultThresholds.Level1)
	assert.Greater(t, DefaultThresholds.Level3, DefaultThresholds.Level2)
	assert.Greater(t, DefaultThresholds.Level4, DefaultThresholds.Level3)
	assert.Greater(t, DefaultThresholds.Emergency, DefaultThresholds.Level4)
}

func TestDropLowPriorityDropsLowestScoringFirst(t *testing.T) {
	items := []Item{
		{ID: "hi", Content: "keep me", SpanKind: pampax.SpanFunction, Score: 0.95, Tokens: 500},
		{ID: "lo", Content: "drop me", SpanKind: pampax.SpanComment, Score: 0.05, Tokens: 500},
	}
	res := Degrade(items, 850, DefaultThresholds)
	assert.Equal(t, LevelDropLowPriority, res.Applied.Level)

	var kept, dropped bool
	for _, d := range res.Degraded {
		if d.ID == "hi" && !d.Dropped {
			kept = true
		}
		if d.ID == "lo" && d.Dropped {
			dropped = true
		}
	}
	assert.True(t, kept)
	assert.True(t, dropped)
}

func TestHeadTailTruncateInsertsMarker(t *testing.T) {
	content := strings.Repeat("x", 2000)
	items := []Item{{ID: "a", Content: content, SpanKind: pampax.SpanFunction, Score: 0.5, Tokens: 500}}
	res := Degrade(items, 350, DefaultThresholds)
	require.Equal(t, LevelHeadTailTruncate, res.Applied.Level)
	assert.Contains(t, res.Degraded[0].Content, truncationMarker)
}

func TestCapsuleSummaryPreservesCodeSignatures(t *testing.T) {
	content := "import \"fmt\"\n\nfunc DoThing(x int) error {\n\t// lots of body\n\treturn nil\n}\n"
	items := []Item{{ID: "a", Content: strings.Repeat(content, 20), SpanKind: pampax.SpanFunction, Score: 0.5, Tokens: 2000}}
	res := Degrade(items, 1200, DefaultThresholds)
	require.Equal(t, LevelCapsuleSummary, res.Applied.Level)
	require.NotNil(t, res.Degraded[0].Capsule)
	assert.Contains(t, res.Degraded[0].Content, "func DoThing")
	assert.Greater(t, res.Degraded[0].Capsule.QualityScore, 0.0)
}

func TestCapsuleFallsBackToMinimalWhenQualityTooLow(t *testing.T) {
	it := Item{ID: "a", Content: "just some prose with nothing structural to preserve at all", SpanKind: pampax.SpanFunction, Score: 0.5, Tokens: 200}
	cap := makeCapsule(it)
	assert.Contains(t, cap.Text, "content compressed")
}

func TestAggressiveLevelDropsOnTopOfCapsules(t *testing.T) {
	items := []Item{
		{ID: "keep", Content: strings.Repeat("func A() {}\n", 50), SpanKind: pampax.SpanFunction, Score: 0.9, Tokens: 3000},
		{ID: "cut", Content: strings.Repeat("func B() {}\n", 50), SpanKind: pampax.SpanFunction, Score: 0.1, Tokens: 3000},
	}
	res := Degrade(items, 2400, DefaultThresholds)
	assert.Equal(t, LevelAggressive, res.Applied.Level)
	var dropped bool
	for _, d := range res.Degraded {
		if d.ID == "cut" && d.Dropped {
			dropped = true
		}
	}
	assert.True(t, dropped)
}

func TestEmergencyLevelProducesPathOnlyStubs(t *testing.T) {
	items := []Item{{ID: "internal/foo.go", Content: "package foo\nfunc Foo() {}", SpanKind: pampax.SpanFunction, Score: 0.5, Tokens: 10000}}
	res := Degrade(items, 10, DefaultThresholds)
	assert.Equal(t, LevelEmergency, res.Applied.Level)
	assert.Contains(t, res.Degraded[0].Content, "content compressed")
}

func TestCacheKeyIsStableForSameInputs(t *testing.T) {
	items := []Item{{ID: "a", Content: "x"}}
	k1 := CacheKey("policy-1", 500, items)
	k2 := CacheKey("policy-1", 500, items)
	assert.Equal(t, k1, k2)
}

func TestCacheKeyChangesWithContent(t *testing.T) {
	k1 := CacheKey("policy-1", 500, []Item{{ID: "a", Content: "x"}})
	k2 := CacheKey("policy-1", 500, []Item{{ID: "a", Content: "y"}})
	assert.NotEqual(t, k1, k2)
}
