// Package dod implements Definition-of-Done verification, invoked at the
// end of the compound quality loop (spec.md §4.10.12): paired-test-file
// detection for changed source files, a test-added ratio, and a DoD audit
// file's checkbox pass rate.
package dod

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shipwrightrun/shipwright/internal/engine/compoundquality"
	"github.com/shipwrightrun/shipwright/internal/executil"
)

// testableExtensions are the source extensions spec.md §4.10.12 names as
// in-scope for paired-test-file detection.
var testableExtensions = map[string]bool{
	".ts": true, ".js": true, ".tsx": true, ".jsx": true,
	".py": true, ".go": true, ".rs": true, ".sh": true,
}

var testFileMarkers = []string{".test.", ".spec.", "__tests__/", "_test.", "test_"}

// Verifier implements compoundquality.DoDVerifier against a repository
// working directory and a Definition-of-Done checklist file.
type Verifier struct {
	WorkDir string
	DoDPath string
	BaseRef string

	// LastPairedTestCoverage and LastTestAddedRatio record the most recent
	// VerifyDoD call's supplementary signals (spec.md §4.10.12); neither
	// affects the pass rate VerifyDoD returns, and no other package reads
	// them.
	LastPairedTestCoverage float64
	LastTestAddedRatio     float64
}

// NewVerifier returns a DoD Verifier bound to workDir's working tree and the
// dodPath checklist file, diffing against baseRef.
func NewVerifier(workDir, dodPath, baseRef string) *Verifier {
	return &Verifier{WorkDir: workDir, DoDPath: dodPath, BaseRef: baseRef}
}

// VerifyDoD implements compoundquality.DoDVerifier.
func (v *Verifier) VerifyDoD(ctx context.Context) (float64, error) {
	changed, err := v.changedSourceFiles(ctx)
	if err != nil {
		return 0, err
	}
	diff, err := v.diffText(ctx)
	if err != nil {
		return 0, err
	}

	v.LastPairedTestCoverage = PairedTestCoverage(changed, func(candidate string) bool {
		_, statErr := os.Stat(filepath.Join(v.WorkDir, candidate))
		return statErr == nil
	})
	v.LastTestAddedRatio = TestAddedRatio(diff)

	data, err := os.ReadFile(v.DoDPath)
	if err != nil {
		return 0, nil
	}
	passed, total := CountChecklist(string(data))
	return PassRate(passed, total), nil
}

func (v *Verifier) changedSourceFiles(ctx context.Context) ([]string, error) {
	base := v.BaseRef
	if base == "" {
		base = "HEAD~1"
	}
	result, err := executil.Run(ctx, "git", []string{"diff", "--name-only", base + "...HEAD"}, executil.Options{Dir: v.WorkDir})
	if err != nil {
		return nil, nil
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(result.Stdout), "\n") {
		if line == "" {
			continue
		}
		if IsTestableSource(line) {
			files = append(files, line)
		}
	}
	return files, nil
}

func (v *Verifier) diffText(ctx context.Context) (string, error) {
	base := v.BaseRef
	if base == "" {
		base = "HEAD~1"
	}
	result, err := executil.Run(ctx, "git", []string{"diff", base + "...HEAD"}, executil.Options{Dir: v.WorkDir})
	if err != nil {
		return "", nil
	}
	return result.Stdout, nil
}

// IsTestableSource reports whether path has one of the extensions
// spec.md §4.10.12 considers in-scope and is not itself a test file.
func IsTestableSource(path string) bool {
	ext := filepath.Ext(path)
	if !testableExtensions[ext] {
		return false
	}
	return !IsTestFile(path)
}

// IsTestFile reports whether path matches one of the standard test-file
// naming patterns (spec.md §4.10.12).
func IsTestFile(path string) bool {
	lower := strings.ToLower(path)
	for _, marker := range testFileMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// PairedTestCoverage reports, for each changed source file, whether a paired
// test file exists under one of the standard naming conventions, using
// exists to probe candidate paths. It returns the fraction with a pair.
func PairedTestCoverage(changed []string, exists func(candidate string) bool) float64 {
	if len(changed) == 0 {
		return 1
	}
	paired := 0
	for _, f := range changed {
		if hasPairedTestFile(f, exists) {
			paired++
		}
	}
	return float64(paired) / float64(len(changed))
}

func hasPairedTestFile(path string, exists func(string) bool) bool {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	candidates := []string{
		filepath.Join(dir, base+".test"+ext),
		filepath.Join(dir, base+".spec"+ext),
		filepath.Join(dir, "__tests__", base+ext),
		filepath.Join(dir, base+"_test"+ext),
		filepath.Join(dir, "test_"+base+ext),
	}
	for _, c := range candidates {
		if exists(c) {
			return true
		}
	}
	return false
}

var testPrimitivePattern = regexp.MustCompile(`(?i)(\bfunc Test\w*|\bdef test_\w*|\bit\(|\bdescribe\(|#\[test\]|@Test\b)`)

// TestAddedRatio computes the fraction of added diff lines that match a
// language-agnostic set of test-primitive patterns (spec.md §4.10.12:
// "diff patterns matching language-specific test primitives").
func TestAddedRatio(diffText string) float64 {
	added := 0
	testLines := 0
	for _, line := range strings.Split(diffText, "\n") {
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		added++
		if testPrimitivePattern.MatchString(line) {
			testLines++
		}
	}
	if added == 0 {
		return 0
	}
	return float64(testLines) / float64(added)
}

var checklistItemPattern = regexp.MustCompile(`(?m)^\s*-\s*\[([ xX])\]`)

// CountChecklist counts `[x]`/`[ ]` Definition-of-Done checklist items,
// returning (passed, total).
func CountChecklist(dodText string) (passed, total int) {
	matches := checklistItemPattern.FindAllStringSubmatch(dodText, -1)
	for _, m := range matches {
		total++
		if strings.ToLower(m[1]) == "x" {
			passed++
		}
	}
	return passed, total
}

// PassRate computes passed/total*100, treating a checklist with no items as
// fully passing (nothing was required).
func PassRate(passed, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(passed) / float64(total) * 100
}

var _ compoundquality.DoDVerifier = (*Verifier)(nil)
