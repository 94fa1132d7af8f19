package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/search-eval/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(1500 * time.Millisecond)
	runs := []model.PipelineRun{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Stage:       "candidates",
			Status:      model.RunStatusComplete,
			StartedAt:   now,
			CompletedAt: &done,
			Rows:        3000,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Stage:     "judge",
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "STAGE")
	assert.Contains(t, output, "candidates")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "3000")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30:00")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.PipelineRun{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Stage:       "judge",
			Status:      model.RunStatusFailed,
			StartedAt:   now,
			CompletedAt: &now,
			Error:       "judge: query 17: ollama: unexpected status 500: model not loaded",
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "judge: query 17")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, "model not loaded")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
