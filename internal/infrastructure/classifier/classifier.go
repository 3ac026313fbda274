// Package classifier implements the Error Classifier (spec.md §4.4): it maps
// a stage failure log tail to the taxonomy infrastructure/configuration/
// logic/unknown, computing a deterministic signature for caching and for the
// "stuck" convergence signal.
package classifier

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/shipwrightrun/shipwright/internal/ports"
)

const (
	tailLines = 50
	signatureLines = 3
)

const (
	ClassInfra  = "infrastructure"
	ClassConfig = "configuration"
	ClassLogic  = "logic"
	ClassUnknown = "unknown"
)

var errorLineRe = regexp.MustCompile(`(?i)error|fail|exception|fatal`)

var infraRe = regexp.MustCompile(`(?i)timeout|timed out|ETIMEDOUT|ECONNRESET|ECONNREFUSED|network|socket hang up|OOM|out of memory|killed|signal 9|cannot allocate memory`)
var configRe = regexp.MustCompile(`(?i)ENOENT|not found|No such file|command not found|MODULE_NOT_FOUND|Cannot find module|missing.*env|undefined variable|permission denied|EACCES`)
var logicRe = regexp.MustCompile(`(?i)AssertionError|assert.*fail|Expected.*but.*got|TypeError|ReferenceError|SyntaxError|CompileError|type mismatch|cannot assign|incompatible type|error\[E[0-9]+\]|build failed|tsc.*error|eslint.*error`)

// Classifier implements ports.Classifier with an in-memory, mutex-guarded
// cache, grounded on the teacher plugin Registry's sync.RWMutex-guarded map
// pattern. LLM is an optional fallback used only when the regex families
// leave the result at ClassUnknown (spec.md §4.4 step 5); it may be nil.
type Classifier struct {
	mu    sync.RWMutex
	cache map[string]string

	LLM ports.LLMClient
}

// New returns a Classifier with an empty cache. Pass a non-nil primed cache
// (e.g. restored from a baseline.Record) via Prime to survive restarts.
func New(llm ports.LLMClient) *Classifier {
	return &Classifier{cache: make(map[string]string), LLM: llm}
}

// Prime seeds the cache from a persisted snapshot (baseline.Record.ClassificationCache).
func (c *Classifier) Prime(cache map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range cache {
		c.cache[k] = v
	}
}

// Snapshot returns a copy of the current cache for persistence.
func (c *Classifier) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// Classify reads the tail of logPath, computes a signature, and classifies
// it per spec.md §4.4.
func (c *Classifier) Classify(ctx context.Context, stageID, logPath string) (string, string, error) {
	tail, err := readTail(logPath, tailLines)
	if err != nil {
		return ClassUnknown, "", err
	}

	signature := computeSignature(tail)

	c.mu.RLock()
	cached, ok := c.cache[signature]
	c.mu.RUnlock()
	if ok {
		return cached, signature, nil
	}

	joined := strings.Join(tail, "\n")
	class := classifyRegex(joined)

	if class == ClassUnknown && c.LLM != nil {
		if resp, err := c.LLM.Complete(ctx, classifyPrompt(joined)); err == nil {
			if candidate := normalizeLLMClass(resp); candidate != "" {
				class = candidate
			}
		}
	}

	c.mu.Lock()
	c.cache[signature] = class
	c.mu.Unlock()

	return class, signature, nil
}

func classifyRegex(text string) string {
	switch {
	case infraRe.MatchString(text):
		return ClassInfra
	case configRe.MatchString(text):
		return ClassConfig
	case logicRe.MatchString(text):
		return ClassLogic
	default:
		return ClassUnknown
	}
}

func classifyPrompt(tail string) string {
	return "Classify this failure as exactly one word, infrastructure, configuration, or logic:\n\n" + tail
}

func normalizeLLMClass(resp string) string {
	word := strings.ToLower(strings.TrimSpace(resp))
	switch word {
	case ClassInfra, ClassConfig, ClassLogic:
		return word
	default:
		return ""
	}
}

// CanonicalMapping returns the cross-subsystem canonical name for a class,
// per spec.md §4.4 step 6 (infra→timeout, config→config,
// logic→test_failure|build_error depending on stage).
func CanonicalMapping(class, stageID string) string {
	switch class {
	case ClassInfra:
		return "timeout"
	case ClassConfig:
		return "config"
	case ClassLogic:
		if stageID == "test" {
			return "test_failure"
		}
		return "build_error"
	default:
		return "unknown"
	}
}

func readTail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, scanner.Err()
}

// computeSignature hashes up to 3 lines matching the error/fail/exception/
// fatal pattern to a 16-hex-char fingerprint (spec.md §4.4 step 2).
func computeSignature(tail []string) string {
	var matched []string
	for _, line := range tail {
		if errorLineRe.MatchString(line) {
			matched = append(matched, line)
			if len(matched) == signatureLines {
				break
			}
		}
	}
	if len(matched) == 0 {
		matched = tail
	}
	sum := sha256.Sum256([]byte(strings.Join(matched, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}

var _ ports.Classifier = (*Classifier)(nil)
