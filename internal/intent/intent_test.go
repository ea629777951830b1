package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pampax/internal/pampax"
)

func TestClassifyEmptyQueryReturnsUncertainDefault(t *testing.T) {
	r := Classify("", Hints{})
	assert.Equal(t, pampax.IntentSearch, r.Intent)
	assert.Equal(t, 0.5, r.Confidence)
	assert.Empty(t, r.Entities)
}

func TestClassifyIncidentKeywords(t *testing.T) {
	r := Classify("why does the handler panic with a nil pointer exception", Hints{})
	assert.Equal(t, pampax.IntentIncident, r.Intent)
	assert.Greater(t, r.Confidence, 0.5)
}

func TestClassifyAPIRoute(t *testing.T) {
	r := Classify("what does /api/v1/users/{id} return", Hints{})
	assert.Equal(t, pampax.IntentAPI, r.Intent)
	found := false
	for _, e := range r.Entities {
		if e.Kind == "route" {
			found = true
		}
	}
	assert.True(t, found, "expected a route entity to be extracted")
}

func TestClassifyConfigKeywords(t *testing.T) {
	r := Classify("where is the timeout configured in config.yaml", Hints{})
	assert.Equal(t, pampax.IntentConfig, r.Intent)
	found := false
	for _, e := range r.Entities {
		if e.Kind == "file" && e.Text == "config.yaml" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestClassifySymbolShape(t *testing.T) {
	r := Classify("where is NewTracker defined", Hints{})
	assert.Equal(t, pampax.IntentSymbol, r.Intent)
}

func TestClassifyIsDeterministic(t *testing.T) {
	q := "how does the retrieveResults function rank candidates"
	a := Classify(q, Hints{})
	b := Classify(q, Hints{})
	assert.Equal(t, a, b)
}

func TestClassifyNeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		Classify("\x00\xff\xfe weird bytes () {} [[[", Hints{})
	})
}

func TestClassifyVagueQueryFallsBackToSearch(t *testing.T) {
	r := Classify("tell me about this", Hints{})
	assert.Equal(t, pampax.IntentSearch, r.Intent)
}
