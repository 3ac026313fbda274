package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	domainrun "github.com/shipwrightrun/shipwright/internal/domain/run"
	"github.com/shipwrightrun/shipwright/internal/engine/intelligence"
	"github.com/shipwrightrun/shipwright/internal/executil"
)

// checkSkip reads the cross-stage artifacts intelligence.ShouldSkip needs
// (intake's labels, plan's checklist size, any reassessment override) and
// applies spec.md §4.11.1.
func (d *driver) checkSkip(ctx context.Context, stage domainrun.StageKind) intelligence.SkipDecision {
	return intelligence.ShouldSkip(intelligence.SkipInput{
		Target:           stage,
		Labels:           d.readLabels(),
		Complexity:       d.readComplexity(),
		ReassessmentSkip: d.reassessmentSkip,
	})
}

// checkCompoundQualitySkip additionally weighs the diff size, since
// CompoundQualityTarget is the only skip target the diff-lines rule applies
// to (spec.md §4.11.1).
func (d *driver) checkCompoundQualitySkip(ctx context.Context) intelligence.SkipDecision {
	return intelligence.ShouldSkip(intelligence.SkipInput{
		Target:           intelligence.CompoundQualityTarget,
		Labels:           d.readLabels(),
		Complexity:       d.readComplexity(),
		ReassessmentSkip: d.reassessmentSkip,
		DiffLines:        d.diffLines(ctx),
	})
}

func (d *driver) readLabels() []string {
	var parsed struct {
		Labels []string `json:"labels"`
	}
	if !readArtifact(d.rc.ArtifactDir, "intake.json", &parsed) {
		return nil
	}
	return parsed.Labels
}

// readComplexity derives the 1-5 estimate spec.md §4.11.2 needs from plan's
// checklist size, the only complexity signal the plan stage records.
func (d *driver) readComplexity() int {
	var parsed struct {
		ChecklistSize int `json:"checklist_size"`
	}
	if !readArtifact(d.rc.ArtifactDir, "plan.json", &parsed) {
		return 3
	}
	return clamp(1+parsed.ChecklistSize/3, 1, 5)
}

func (d *driver) diffLines(ctx context.Context) int {
	base := d.rc.Run.BaseBranch
	if base == "" {
		base = "main"
	}
	res, err := executil.Run(ctx, "git", []string{"diff", "--shortstat", "origin/" + base + "...HEAD"}, executil.Options{Dir: d.rc.WorkDir})
	if err != nil {
		return 0
	}
	return parseShortstatLines(res.Stdout)
}

// applyReassessment recomputes the complexity/effort comparison after
// build+test and folds the result into the skip overrides consulted for
// every stage still pending (spec.md §4.11.2).
func (d *driver) applyReassessment(ctx context.Context) {
	base := d.rc.Run.BaseBranch
	if base == "" {
		base = "main"
	}
	res, err := executil.Run(ctx, "git", []string{"diff", "--numstat", "origin/" + base + "...HEAD"}, executil.Options{Dir: d.rc.WorkDir})
	filesChanged, linesChanged := 0, 0
	if err == nil {
		filesChanged, linesChanged = parseNumstat(res.Stdout)
	}

	reassessment := intelligence.Reassess(intelligence.ReassessmentInput{
		InitialComplexity: d.readComplexity(),
		FilesChanged:      filesChanged,
		LinesChanged:      linesChanged,
		SelfHealCycles:    d.rc.Run.Counters.SelfHealCount,
	})
	if d.reassessmentSkip == nil {
		d.reassessmentSkip = map[domainrun.StageKind]bool{}
	}
	for k, v := range reassessment.SkipStages {
		d.reassessmentSkip[k] = v
	}
}

func readArtifact(artifactDir, name string, out interface{}) bool {
	data, err := os.ReadFile(filepath.Join(artifactDir, name))
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// parseShortstatLines extracts the insertions+deletions total from
// `git diff --shortstat` output such as
// " 3 files changed, 40 insertions(+), 2 deletions(-)".
func parseShortstatLines(stat string) int {
	total := 0
	num := 0
	have := false
	for _, r := range stat {
		if r >= '0' && r <= '9' {
			num = num*10 + int(r-'0')
			have = true
			continue
		}
		if have && r == ' ' {
			continue
		}
		if have && (r == 'i' || r == 'd') {
			total += num
		}
		num = 0
		have = false
	}
	return total
}

// parseNumstat sums `git diff --numstat`'s per-file added+removed columns.
func parseNumstat(out string) (files, lines int) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var added, removed int
		var path string
		n, _ := fmt.Sscanf(line, "%d\t%d\t%s", &added, &removed, &path)
		if n < 2 {
			continue
		}
		files++
		lines += added + removed
	}
	return files, lines
}
