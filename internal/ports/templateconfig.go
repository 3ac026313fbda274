package ports

import (
	"context"

	domaintemplate "github.com/shipwrightrun/shipwright/internal/domain/template"
)

// TemplateLoader loads and validates a Pipeline Template by name, resolving
// the "intelligence-composed template" override described in spec.md §4.3.
//
// Error mapping:
//   - no candidate path matches → ErrCodeNotFound ("template_not_found")
//   - malformed YAML or failed Validate() → ErrCodeValidation
type TemplateLoader interface {
	Load(ctx context.Context, name string) (*domaintemplate.Template, error)
}

// Classifier maps a stage failure log to the error taxonomy (spec.md §4.4).
type Classifier interface {
	// Classify reads the tail of logPath and returns one of "infrastructure",
	// "configuration", "logic", "unknown" plus the 16-hex-char signature used
	// for caching and the stuck-signal check (spec.md §4.7).
	Classify(ctx context.Context, stageID, logPath string) (class string, signature string, err error)
}

// LLMClient is the inline request/response text-completion interface used
// for planning, design, review, and classification fallback (spec.md §1,
// out of scope externally but consumed via this small interface).
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CodingAgent invokes the external "build loop" subprocess (spec.md §6.4).
type CodingAgent struct {
	// Goal is the enriched goal text (spec.md §4.10.4).
	Goal string
	TestCmd string
	FastTestCmd string
	MaxIterations int
	Model string
	Agents int
	DefinitionOfDoneFile string
	AuditFlags []string
	QualityGates bool
	MaxRestarts int
	SkipPermissions bool
}

// CodingAgentResult captures the structured outcome of a coding-agent run.
type CodingAgentResult struct {
	ExitCode       int
	CommitsAdded   int
	TestsPassing   bool
	ProgressPath   string
	InputTokens    int64
	OutputTokens   int64
	ReportedCostUSD float64
	ContextExhausted bool
}

// CodingAgentRunner runs a CodingAgent invocation to completion, streaming
// its stdout/stderr (spec.md §4.10.4, §6.4).
type CodingAgentRunner interface {
	Run(ctx context.Context, workDir string, req CodingAgent) (CodingAgentResult, error)
}
