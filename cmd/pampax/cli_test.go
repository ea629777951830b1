package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pampax/internal/pampaxconfig"
)

func TestRunCacheClearReportsCompletionForEveryScope(t *testing.T) {
	for _, scope := range []string{"search", "bundle", "graph", "rerank", "all", ""} {
		cacheClearScope = scope
		cmd := &cobra.Command{}
		buf := &bytes.Buffer{}
		cmd.SetOut(buf)
		err := runCacheClear(cmd, nil)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "Cache clearing completed")
	}
}

func TestRunStatsPrintsHealthAsJSON(t *testing.T) {
	statsJSON = true
	defer func() { statsJSON = false }()

	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := runStats(cmd, nil)
	require.NoError(t, err)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &health))
	assert.Contains(t, health, "Healthy")
}

func TestRunQueryAgainstEmptyInMemoryIndexReturnsEmptyBundle(t *testing.T) {
	logger = zap.NewNop()
	cfg = pampaxconfig.Default()
	dbPath = ":memory:"
	timeout = time.Second
	queryBudget = 1000
	queryJSON = true
	defer func() { queryJSON = false }()

	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := runQuery(cmd, []string{"anything"})
	require.NoError(t, err)

	var bundle map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &bundle))
	assert.Equal(t, "anything", bundle["Query"])
}

func TestDurationSecondsConvertsToSeconds(t *testing.T) {
	assert.Equal(t, 5*time.Second, durationSeconds(5))
	assert.Equal(t, time.Duration(0), durationSeconds(0))
}
