// Package statestore persists the Pipeline Run record to a single
// human-readable file: a key/value header section followed by an
// append-only transition log, written atomically via a temp-file-then-rename
// swap (spec.md §4.2), grounded on the teacher's internal/registry.Registry
// Save/Load pattern.
package statestore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
)

const logMarker = "---LOG---"

// Store is a file-backed ports.StateStore implementation.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store rooted at path, creating the parent directory.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domainrun.NewDomainError(domainrun.ErrCodeInfra, "create state store directory", err, nil)
	}
	return &Store{path: path}, nil
}

func (s *Store) load() (*domainrun.Run, []string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, domainrun.NewDomainError(domainrun.ErrCodeInfra, "read state file", err, nil)
	}

	header := map[string]string{}
	var logLines []string
	inLog := false
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == logMarker {
			inLog = true
			continue
		}
		if inLog {
			if line != "" {
				logLines = append(logLines, line)
			}
			continue
		}
		kv := strings.SplitN(line, ": ", 2)
		if len(kv) != 2 {
			continue // resume tolerates malformed/missing fields
		}
		header[kv[0]] = kv[1]
	}

	r := runFromHeader(header)
	return r, logLines, nil
}

// Load reads the current run record, if any. Missing fields are simply
// absent from the zero-valued Run (spec.md §4.2 "reads tolerate missing
// fields — resume fills defaults").
func (s *Store) Load(_ context.Context) (*domainrun.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, _, err := s.load()
	return r, err
}

// Save atomically persists the run record plus one new transition-log line.
func (s *Store) Save(_ context.Context, r *domainrun.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existingLog, err := s.load()
	if err != nil {
		return err
	}
	transition := fmt.Sprintf("%d status=%s current_stage=%s", time.Now().Unix(), r.Status, r.CurrentStage)
	existingLog = append(existingLog, transition)

	var b strings.Builder
	for _, line := range headerLines(r) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(logMarker)
	b.WriteByte('\n')
	for _, line := range existingLog {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	return s.atomicWrite(b.String())
}

// StartIfAbsent refuses to create a new run while one is already
// running|paused|interrupted (spec.md §5 first-wins check).
func (s *Store) StartIfAbsent(ctx context.Context, r *domainrun.Run) error {
	s.mu.Lock()
	existing, _, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if existing != nil {
		switch existing.Status {
		case domainrun.StatusRunning, domainrun.StatusPaused, domainrun.StatusInterrupted:
			return domainrun.NewStateError("a run is already in progress", map[string]interface{}{
				"existing_run_id": existing.ID, "status": existing.Status,
			})
		}
	}
	return s.Save(ctx, r)
}

// Clear removes the state file, used after pipeline.completed cleanup.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return domainrun.NewDomainError(domainrun.ErrCodeInfra, "clear state file", err, nil)
	}
	return nil
}

func (s *Store) atomicWrite(content string) error {
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return domainrun.NewDomainError(domainrun.ErrCodeInfra, "write temporary state file", err, nil)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return domainrun.NewDomainError(domainrun.ErrCodeInfra, "rename temporary state file", err, nil)
	}
	return nil
}

func headerLines(r *domainrun.Run) []string {
	lines := []string{
		"id: " + r.ID,
		"template_name: " + r.TemplateName,
		"goal: " + r.Goal,
		"issue_ref: " + r.IssueRef,
		"status: " + string(r.Status),
		"current_stage: " + string(r.CurrentStage),
		"working_branch: " + r.WorkingBranch,
		"base_branch: " + r.BaseBranch,
		"work_dir: " + r.WorkDir,
		"start_epoch: " + strconv.FormatInt(r.StartEpoch, 10),
		"updated_epoch: " + strconv.FormatInt(r.UpdatedEpoch, 10),
		"stage_order: " + joinStages(r.StageOrder),
		"pr_number: " + strconv.Itoa(r.PRNumber),
		"progress_comment_id: " + r.ProgressCommentID,
		"input_tokens: " + strconv.FormatInt(r.Counters.InputTokens, 10),
		"output_tokens: " + strconv.FormatInt(r.Counters.OutputTokens, 10),
		"self_heal_count: " + strconv.Itoa(r.Counters.SelfHealCount),
		"backtrack_count: " + strconv.Itoa(r.Counters.BacktrackCount),
		"slowest_stage: " + string(r.SlowestStage),
	}
	for _, stage := range r.StageOrder {
		lines = append(lines, fmt.Sprintf("stage_status.%s: %s", stage, r.StageStatus[stage]))
		t := r.StageTiming[stage]
		lines = append(lines, fmt.Sprintf("stage_start.%s: %d", stage, t.StartEpoch))
		lines = append(lines, fmt.Sprintf("stage_end.%s: %d", stage, t.EndEpoch))
	}
	return lines
}

func joinStages(stages []domainrun.StageKind) string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return strings.Join(out, ",")
}

func runFromHeader(h map[string]string) *domainrun.Run {
	if h["id"] == "" {
		return nil
	}
	var stageOrder []domainrun.StageKind
	if so := h["stage_order"]; so != "" {
		for _, s := range strings.Split(so, ",") {
			stageOrder = append(stageOrder, domainrun.StageKind(s))
		}
	}

	r := domainrun.NewRun(h["id"], h["template_name"], h["goal"], stageOrder, parseInt64(h["start_epoch"]))
	r.IssueRef = h["issue_ref"]
	r.Status = domainrun.Status(h["status"])
	r.CurrentStage = domainrun.StageKind(h["current_stage"])
	r.WorkingBranch = h["working_branch"]
	r.BaseBranch = h["base_branch"]
	r.WorkDir = h["work_dir"]
	r.UpdatedEpoch = parseInt64(h["updated_epoch"])
	r.PRNumber, _ = strconv.Atoi(h["pr_number"])
	r.ProgressCommentID = h["progress_comment_id"]
	r.Counters.InputTokens = parseInt64(h["input_tokens"])
	r.Counters.OutputTokens = parseInt64(h["output_tokens"])
	r.Counters.SelfHealCount, _ = strconv.Atoi(h["self_heal_count"])
	r.Counters.BacktrackCount, _ = strconv.Atoi(h["backtrack_count"])
	r.SlowestStage = domainrun.StageKind(h["slowest_stage"])

	for _, stage := range stageOrder {
		if status, ok := h["stage_status."+string(stage)]; ok {
			r.StageStatus[stage] = domainrun.StageStatus(status)
		}
		start := parseInt64(h["stage_start."+string(stage)])
		end := parseInt64(h["stage_end."+string(stage)])
		if start != 0 || end != 0 {
			r.StageTiming[stage] = domainrun.StageTiming{StartEpoch: start, EndEpoch: end}
		}
	}
	return r
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
