// Package jobs provides the job implementations registered with the task
// manager. Each job carries the business logic for one descriptor type; the
// orchestration core never looks past the Job interface.
package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/indexops/recalc/internal/job"
)

const (
	defaultTailLines = 300

	// maxOutputLineBytes bounds a single runner output line; methodology
	// scripts occasionally dump whole data rows onto one line.
	maxOutputLineBytes = 1024 * 1024
)

// IndexConfig describes one reviewable index: its code and the ISIN the
// recalculation runs against.
type IndexConfig struct {
	Index string `json:"index" mapstructure:"index"`
	ISIN  string `json:"isin" mapstructure:"isin"`
}

type ReviewParams struct {
	ReviewType    string `json:"review_type"`
	Date          string `json:"date"`
	CoDate        string `json:"co_date"`
	EffectiveDate string `json:"effective_date"`
}

// ReviewJob runs an index recalculation in a fresh subprocess per task, so a
// misbehaving methodology script cannot take the orchestrator down with it.
// The runner reports progress over stdout with lines of the form
// "PROGRESS <percent> <message>" and announces generated files with
// "OUTPUT <path>".
type ReviewJob struct {
	indexes   map[string]IndexConfig
	command   []string
	tailLines int
}

func NewReviewJob(indexes map[string]IndexConfig, command []string) *ReviewJob {
	return &ReviewJob{
		indexes:   indexes,
		command:   command,
		tailLines: defaultTailLines,
	}
}

func (j *ReviewJob) SetTailLines(n int) {
	if n > 0 {
		j.tailLines = n
	}
}

func (j *ReviewJob) Execute(ctx context.Context, params map[string]any, report job.ProgressFunc) (map[string]any, error) {
	p, err := parseReviewParams(params)
	if err != nil {
		return nil, err
	}

	cfg, ok := j.indexes[p.ReviewType]
	if !ok {
		return nil, fmt.Errorf("unknown review type: %s", p.ReviewType)
	}
	if len(j.command) == 0 {
		return nil, errors.New("no review runner command configured")
	}

	report(5, fmt.Sprintf("Starting %s review...", p.ReviewType))

	args := append(append([]string{}, j.command[1:]...),
		"--index", cfg.Index,
		"--isin", cfg.ISIN,
		"--date", p.Date,
		"--co-date", p.CoDate,
		"--effective-date", p.EffectiveDate,
	)
	cmd := exec.CommandContext(ctx, j.command[0], args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open runner stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start review runner: %w", err)
	}

	tail := make([]string, 0, j.tailLines)
	outputs := []string{}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLineBytes)
	for scanner.Scan() {
		line := scanner.Text()

		if percent, message, ok := parseProgressLine(line); ok {
			report(percent, message)
		}
		if path, ok := strings.CutPrefix(line, "OUTPUT "); ok {
			outputs = append(outputs, strings.TrimSpace(path))
		}

		tail = append(tail, line)
		if len(tail) > j.tailLines {
			tail = tail[1:]
		}
	}

	// A scanner failure (an over-long line, a broken pipe) silently ends the
	// loop; treat it as a failed run even when the process exits cleanly.
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read runner output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("review runner failed: %w", err)
	}

	report(95, fmt.Sprintf("Finalizing %s review...", p.ReviewType))

	return map[string]any{
		"review_type": p.ReviewType,
		"index":       cfg.Index,
		"isin":        cfg.ISIN,
		"outputs":     outputs,
		"output_tail": strings.Join(tail, "\n"),
	}, nil
}

func parseReviewParams(params map[string]any) (*ReviewParams, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var p ReviewParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	if p.ReviewType == "" {
		return nil, errors.New("missing required field: review_type")
	}
	if p.Date == "" {
		return nil, errors.New("missing required field: date")
	}
	if p.CoDate == "" {
		p.CoDate = p.Date
	}
	if p.EffectiveDate == "" {
		p.EffectiveDate = p.Date
	}

	return &p, nil
}

// parseProgressLine understands "PROGRESS <percent> <message>" runner output.
func parseProgressLine(line string) (int, string, bool) {
	rest, ok := strings.CutPrefix(line, "PROGRESS ")
	if !ok {
		return 0, "", false
	}

	fields := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	percent, err := strconv.Atoi(fields[0])
	if err != nil || percent < 0 || percent > 100 {
		return 0, "", false
	}

	message := ""
	if len(fields) == 2 {
		message = fields[1]
	}
	return percent, message, true
}
