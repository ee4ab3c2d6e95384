package stats

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runJSON = `{
  "run": {"command": "nx run-many -t test", "startTime": "2025-01-01T00:00:00Z", "endTime": "2025-01-01T00:01:00Z", "inner": false},
  "tasks": [
    {"taskId": "app:test", "hash": "111", "cacheStatus": "remote-cache-hit", "status": 0},
    {"taskId": "lib:test", "hash": "222", "cacheStatus": "local-cache-hit", "status": 0},
    {"taskId": "api:test", "hash": "333", "cacheStatus": "cache-miss", "status": 0},
    {"taskId": "web:test", "hash": "444", "cacheStatus": "none", "status": 1}
  ]
}`

func TestCompute(t *testing.T) {
	rep, err := Compute(strings.NewReader(runJSON))
	require.NoError(t, err)

	assert.Equal(t, "nx run-many -t test", rep.Command)
	assert.Equal(t, 4, rep.TotalTasks)
	assert.Equal(t, []Task{{TaskID: "lib:test", Hash: "222"}}, rep.LocalCacheHits)
	assert.Equal(t, []Task{{TaskID: "app:test", Hash: "111"}}, rep.RemoteCacheHits)
	assert.Equal(t, []Task{{TaskID: "api:test", Hash: "333"}, {TaskID: "web:test", Hash: "444"}}, rep.NoCache)
	assert.Equal(t, "nx_run-many_-t_test.json", rep.FileName())
}

func TestCompute_MissingFields(t *testing.T) {
	rep, err := Compute(strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "<unknown>", rep.Command)
	assert.Zero(t, rep.TotalTasks)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, rep))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, []any{}, decoded["noCache"], "empty buckets encode as arrays")
}

func TestCompute_InvalidJSON(t *testing.T) {
	_, err := Compute(strings.NewReader(`{"tasks": [`))
	assert.Error(t, err)
}

func TestPrint(t *testing.T) {
	rep, err := Compute(strings.NewReader(runJSON))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, rep))
	out := buf.String()
	assert.Contains(t, out, "Tasks executed    : 4")
	assert.Contains(t, out, "Remote cache hits : 1")
	assert.Contains(t, out, "  - app:test (111)")
	assert.Contains(t, out, "Uncached tasks:")
}
