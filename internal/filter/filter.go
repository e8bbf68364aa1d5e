// Package filter selects processed incidents with CEL predicates such as
// `year >= 2020 && attack_type in ["Phishing", "Ransomware"]`.
package filter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/threatlens/internal/domain"
)

// ErrInvalidFilter is returned for expressions that do not compile to a
// boolean predicate.
var ErrInvalidFilter = errors.New("invalid filter")

// chunkSize is the number of rows one worker evaluates at a time.
const chunkSize = 1024

// Engine compiles filter expressions and caches the programs by source.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*Filter
	maxWorkers int
	maxCached  int
}

// Filter is a compiled predicate. It is safe for concurrent use.
type Filter struct {
	Expression string
	program    cel.Program
}

// NewEngine creates a filter engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	// Numeric columns are doubles, so int literals must compare against them.
	env, err := cel.NewEnv(
		cel.CrossTypeNumericComparisons(true),
		cel.Variable("incident", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("country", cel.StringType),
		cel.Variable("year", cel.IntType),
		cel.Variable("attack_type", cel.StringType),
		cel.Variable("target_industry", cel.StringType),
		cel.Variable("financial_loss", cel.DoubleType),
		cel.Variable("affected_users", cel.DoubleType),
		cel.Variable("attack_source", cel.StringType),
		cel.Variable("vulnerability_type", cel.StringType),
		cel.Variable("defense_mechanism", cel.StringType),
		cel.Variable("resolution_hours", cel.DoubleType),
		cel.Variable("severity_factor", cel.DoubleType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("cluster", cel.IntType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("tier_rank", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*Filter),
		maxWorkers: maxWorkers,
		maxCached:  256,
	}, nil
}

// Compile returns the filter for expr. An empty expression yields nil, which
// matches every row.
func (e *Engine) Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	e.mu.RLock()
	f, ok := e.compiled[expr]
	e.mu.RUnlock()
	if ok {
		return f, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidFilter, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for filter: %w", err)
	}
	f = &Filter{Expression: expr, program: program}

	e.mu.Lock()
	if len(e.compiled) >= e.maxCached {
		e.compiled = make(map[string]*Filter)
	}
	e.compiled[expr] = f
	e.mu.Unlock()
	return f, nil
}

// Apply compiles expr and returns the matching rows in input order.
func (e *Engine) Apply(ctx context.Context, expr string, rows []domain.ProcessedIncident) ([]domain.ProcessedIncident, error) {
	f, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}
	return e.Select(ctx, f, rows)
}

// Select evaluates f over rows in parallel chunks and returns the matching
// rows in input order. A nil filter returns rows unchanged.
func (e *Engine) Select(ctx context.Context, f *Filter, rows []domain.ProcessedIncident) ([]domain.ProcessedIncident, error) {
	if f == nil {
		return rows, nil
	}

	chunks := (len(rows) + chunkSize - 1) / chunkSize
	keep := make([]bool, len(rows))
	errs := make([]error, chunks)
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for c := 0; c < chunks; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if err := ctx.Err(); err != nil {
				errs[c] = err
				return
			}
			end := min((c+1)*chunkSize, len(rows))
			for i := c * chunkSize; i < end; i++ {
				ok, err := f.Match(&rows[i])
				if err != nil {
					errs[c] = fmt.Errorf("row %d: %w", i, err)
					return
				}
				keep[i] = ok
			}
		}(c)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	out := make([]domain.ProcessedIncident, 0, len(rows))
	for i := range rows {
		if keep[i] {
			out = append(out, rows[i])
		}
	}
	return out, nil
}

// Match evaluates the filter against one row.
func (f *Filter) Match(r *domain.ProcessedIncident) (bool, error) {
	out, _, err := f.program.Eval(activation(r))
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("filter returned %s, want bool", out.Type())
	}
	return bool(b), nil
}

func activation(r *domain.ProcessedIncident) map[string]any {
	vars := map[string]any{
		"country":            r.Country,
		"year":               int64(math.Round(r.Year)),
		"attack_type":        r.AttackType,
		"target_industry":    r.TargetIndustry,
		"financial_loss":     r.FinancialLoss,
		"affected_users":     r.AffectedUsers,
		"attack_source":      r.AttackSource,
		"vulnerability_type": r.VulnerabilityType,
		"defense_mechanism":  r.DefenseMechanism,
		"resolution_hours":   r.ResolutionHours,
		"severity_factor":    r.AttackSeverityFactor,
		"risk_score":         r.RiskScore,
		"cluster":            int64(r.Cluster),
		"tier":               string(r.Tier),
		"tier_rank":          int64(r.Tier.Rank()),
	}

	// incident exposes the rows under their dataset column names.
	raw := r.Raw()
	incident := make(map[string]any, len(domain.RawColumns))
	for _, col := range domain.RawColumns {
		if n, ok := raw.Numeric(col); ok {
			incident[col] = n.Value
			continue
		}
		v, _ := raw.Categorical(col)
		incident[col] = v
	}
	vars["incident"] = incident
	return vars
}
