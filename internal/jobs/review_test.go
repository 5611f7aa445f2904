package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndexes() map[string]IndexConfig {
	return map[string]IndexConfig{
		"quarterly": {Index: "FIX100", ISIN: "DE000A0C4CA0"},
		"annual":    {Index: "FIX500", ISIN: "DE000A0C4CB8"},
	}
}

// progressLog collects report callbacks; the job may call them from the
// scanner loop while the test reads.
type progressLog struct {
	mu      sync.Mutex
	entries []string
	percent []int
}

func (l *progressLog) report(percent int, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.percent = append(l.percent, percent)
	l.entries = append(l.entries, message)
}

func (l *progressLog) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *progressLog) percents() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.percent...)
}

func TestReviewJobExecute(t *testing.T) {
	script := `echo "PROGRESS 25 Loading holdings"; echo "OUTPUT /tmp/report.xlsx"; echo "PROGRESS 80 Writing report"; echo "plain log line"`
	j := NewReviewJob(testIndexes(), []string{"/bin/sh", "-c", script, "runner"})

	log := &progressLog{}
	payload, err := j.Execute(context.Background(), map[string]any{
		"review_type": "quarterly",
		"date":        "2026-03-31",
	}, log.report)

	require.NoError(t, err)
	assert.Equal(t, "quarterly", payload["review_type"])
	assert.Equal(t, "FIX100", payload["index"])
	assert.Equal(t, "DE000A0C4CA0", payload["isin"])
	assert.Equal(t, []string{"/tmp/report.xlsx"}, payload["outputs"])

	tail, ok := payload["output_tail"].(string)
	require.True(t, ok)
	assert.Contains(t, tail, "plain log line")
	assert.Contains(t, tail, "PROGRESS 25 Loading holdings")

	assert.Contains(t, log.messages(), "Loading holdings")
	assert.Contains(t, log.messages(), "Writing report")
	assert.Contains(t, log.percents(), 25)
	assert.Contains(t, log.percents(), 80)
}

func TestReviewJobHandlesLongOutputLines(t *testing.T) {
	// A single line well past bufio.Scanner's 64KiB default; lines after it
	// must still be parsed.
	script := `head -c 100000 /dev/zero | tr '\0' 'x'; echo; echo "OUTPUT /tmp/report.xlsx"`
	j := NewReviewJob(testIndexes(), []string{"/bin/sh", "-c", script, "runner"})

	payload, err := j.Execute(context.Background(), map[string]any{
		"review_type": "quarterly",
		"date":        "2026-03-31",
	}, func(int, string) {})

	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/report.xlsx"}, payload["outputs"])
}

func TestReviewJobRunnerFailure(t *testing.T) {
	j := NewReviewJob(testIndexes(), []string{"/bin/sh", "-c", "exit 3", "runner"})

	_, err := j.Execute(context.Background(), map[string]any{
		"review_type": "quarterly",
		"date":        "2026-03-31",
	}, func(int, string) {})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "review runner failed")
}

func TestReviewJobCancellation(t *testing.T) {
	j := NewReviewJob(testIndexes(), []string{"/bin/sh", "-c", "sleep 10", "runner"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := j.Execute(ctx, map[string]any{
		"review_type": "quarterly",
		"date":        "2026-03-31",
	}, func(int, string) {})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestReviewJobValidation(t *testing.T) {
	j := NewReviewJob(testIndexes(), []string{"/bin/sh", "-c", "true", "runner"})
	noop := func(int, string) {}

	t.Run("unknown review type", func(t *testing.T) {
		_, err := j.Execute(context.Background(), map[string]any{
			"review_type": "monthly",
			"date":        "2026-03-31",
		}, noop)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown review type")
	})

	t.Run("missing review type", func(t *testing.T) {
		_, err := j.Execute(context.Background(), map[string]any{"date": "2026-03-31"}, noop)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "review_type")
	})

	t.Run("missing date", func(t *testing.T) {
		_, err := j.Execute(context.Background(), map[string]any{"review_type": "quarterly"}, noop)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "date")
	})

	t.Run("no runner configured", func(t *testing.T) {
		bare := NewReviewJob(testIndexes(), nil)
		_, err := bare.Execute(context.Background(), map[string]any{
			"review_type": "quarterly",
			"date":        "2026-03-31",
		}, noop)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no review runner command")
	})
}

func TestParseReviewParams(t *testing.T) {
	t.Run("dates default to review date", func(t *testing.T) {
		p, err := parseReviewParams(map[string]any{
			"review_type": "quarterly",
			"date":        "2026-03-31",
		})
		require.NoError(t, err)
		assert.Equal(t, "2026-03-31", p.CoDate)
		assert.Equal(t, "2026-03-31", p.EffectiveDate)
	})

	t.Run("explicit dates kept", func(t *testing.T) {
		p, err := parseReviewParams(map[string]any{
			"review_type":    "quarterly",
			"date":           "2026-03-31",
			"co_date":        "2026-03-30",
			"effective_date": "2026-04-01",
		})
		require.NoError(t, err)
		assert.Equal(t, "2026-03-30", p.CoDate)
		assert.Equal(t, "2026-04-01", p.EffectiveDate)
	})
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		percent int
		message string
		ok      bool
	}{
		{
			name:    "percent and message",
			line:    "PROGRESS 40 Computing weights",
			percent: 40,
			message: "Computing weights",
			ok:      true,
		},
		{
			name:    "percent only",
			line:    "PROGRESS 90",
			percent: 90,
			message: "",
			ok:      true,
		},
		{
			name: "not a progress line",
			line: "loading holdings",
			ok:   false,
		},
		{
			name: "non-numeric percent",
			line: "PROGRESS abc done",
			ok:   false,
		},
		{
			name: "out of range",
			line: "PROGRESS 150 too much",
			ok:   false,
		},
		{
			name: "negative",
			line: "PROGRESS -5 backwards",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			percent, message, ok := parseProgressLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.percent, percent)
				assert.Equal(t, tt.message, message)
			}
		})
	}
}

func TestSetTailLines(t *testing.T) {
	j := NewReviewJob(testIndexes(), []string{"/bin/sh", "-c", "true"})

	j.SetTailLines(5)
	assert.Equal(t, 5, j.tailLines)

	// Non-positive values keep the current setting.
	j.SetTailLines(0)
	assert.Equal(t, 5, j.tailLines)

	script := `for i in 1 2 3 4 5 6 7 8 9 10; do echo "line $i"; done`
	short := NewReviewJob(testIndexes(), []string{"/bin/sh", "-c", script, "runner"})
	short.SetTailLines(3)

	payload, err := short.Execute(context.Background(), map[string]any{
		"review_type": "quarterly",
		"date":        "2026-03-31",
	}, func(int, string) {})
	require.NoError(t, err)

	tail := payload["output_tail"].(string)
	assert.Equal(t, "line 8\nline 9\nline 10", tail)
}
