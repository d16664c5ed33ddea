// Package policy evaluates route authorization decisions with embedded OPA
// Rego modules and exposes them as HTTP middleware.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

const defaultEntrypoint = "httpsugar/authz/decision"

// Options control engine construction.
type Options struct {
	// Entrypoint is the default decision path (e.g. "httpsugar/authz/decision").
	Entrypoint string
	// Modules contains the Rego modules to load, keyed by filename.
	Modules map[string]string
}

// Input is the request context handed to the policy.
type Input struct {
	Method  string
	Path    string
	Subject string
	Headers map[string]string
}

// Decision is the policy verdict for one request.
type Decision struct {
	Allow  bool
	Reason string
}

// Engine evaluates decisions using an embedded OPA instance. Prepared
// queries are cached per entrypoint.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	mu            sync.RWMutex
	queries       map[string]*rego.PreparedEvalQuery
}

// NewEngine parses and compiles the supplied Rego modules. The default
// entrypoint is compiled eagerly so syntax errors surface at construction.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}
	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(opts.Modules))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}

	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}
	return engine, nil
}

// Evaluate runs the policy at the engine's default entrypoint.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	return e.EvaluateAt(ctx, e.entrypoint, input)
}

// EvaluateAt runs the policy at entry. The decision document may be either a
// bare boolean or an object with "allow" and optional "reason" fields. An
// undefined decision denies.
func (e *Engine) EvaluateAt(ctx context.Context, entry string, input Input) (Decision, error) {
	payload := map[string]any{
		"method":  input.Method,
		"path":    input.Path,
		"subject": input.Subject,
		"headers": headersToMap(input.Headers),
	}

	prepared, err := e.getPreparedQuery(ctx, entry)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: false, Reason: "decision undefined"}, nil
	}

	switch value := results[0].Expressions[0].Value.(type) {
	case bool:
		return Decision{Allow: value}, nil
	case map[string]any:
		allow, _ := value["allow"].(bool)
		reason, _ := value["reason"].(string)
		return Decision{Allow: allow, Reason: reason}, nil
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Another goroutine may have prepared it first; respect the first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}
	e.queries[entry] = &prepared
	return &prepared, nil
}

func headersToMap(headers map[string]string) map[string]any {
	out := make(map[string]any, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}
