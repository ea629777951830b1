package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerAddItemAndReport(t *testing.T) {
	tr := NewTracker(100)
	remaining := tr.AddItem("a", 30)
	assert.Equal(t, 70, remaining)

	rep := tr.Report()
	assert.Equal(t, 100, rep.Budget)
	assert.Equal(t, 30, rep.Used)
	assert.Equal(t, 70, rep.Remaining)
	assert.InDelta(t, 30.0, rep.Percentage, 1e-9)
	require.Len(t, rep.Items, 1)
}

func TestTrackerCanFit(t *testing.T) {
	tr := NewTracker(10)
	tr.AddItem("a", 8)
	assert.True(t, tr.CanFit(2))
	assert.False(t, tr.CanFit(3))
}

func TestFitToBudgetEmptyInput(t *testing.T) {
	res := FitToBudget(nil, 100)
	assert.Empty(t, res.Results)
	assert.Equal(t, 0, res.TokenReport.Used)
}

func TestFitToBudgetUnboundedReturnsEverythingUntouched(t *testing.T) {
	items := []Scored{
		{Item: Item{Summary: "a", Tokens: 1000}, Score: 0.1},
		{Item: Item{Summary: "b", Tokens: 5000}, Score: 0.9},
	}
	res := FitToBudget(items, Unbounded)
	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		assert.False(t, r.Truncated)
	}
}

func TestFitToBudgetSelectsHighestScoringFirst(t *testing.T) {
	items := []Scored{
		{Item: Item{Summary: "low", Tokens: 10}, Score: 0.1},
		{Item: Item{Summary: "high", Tokens: 10}, Score: 0.9},
	}
	res := FitToBudget(items, 10)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "high", res.Results[0].Summary)
}

func TestFitToBudgetInsertsTruncationStubAtOverflow(t *testing.T) {
	items := []Scored{
		{Item: Item{Summary: "a", Tokens: 5}, Score: 0.9},
		{Item: Item{Summary: "b", Tokens: 50}, Score: 0.5},
	}
	res := FitToBudget(items, 10)
	require.Len(t, res.Results, 2)
	assert.False(t, res.Results[0].Truncated)
	assert.True(t, res.Results[1].Truncated)
	assert.LessOrEqual(t, res.TokenReport.Used, 10)
}
