package shield

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/goodtune/tabnova/internal/storage"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Query is the rego rule consulted by RegoDecider.
const Query = "data.tabnova.shield.block"

//go:embed default.rego
var defaultPolicy string

// Input describes a processed usage update.
type Input struct {
	Package string `json:"package"`
	Minutes int    `json:"minutes"`
	Limit   int    `json:"limit"`
	Kind    string `json:"kind"`
}

// Decider decides whether a package must be shielded.
type Decider interface {
	ShouldShield(ctx context.Context, in Input) (bool, error)
}

// ThresholdDecider blocks on a LimitReached event or once the total
// reaches the daily limit.
type ThresholdDecider struct{}

// ShouldShield implements Decider.
func (ThresholdDecider) ShouldShield(_ context.Context, in Input) (bool, error) {
	if in.Kind == string(storage.EventLimitReached) {
		return true, nil
	}
	return in.Limit > 0 && in.Minutes >= in.Limit, nil
}

// RegoDecider evaluates a rego policy. An undefined result means no block.
type RegoDecider struct {
	path   string
	logger zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewRegoDecider compiles the policy at path, or the built-in policy when
// path is empty.
func NewRegoDecider(path string, logger zerolog.Logger) (*RegoDecider, error) {
	d := &RegoDecider{
		path:   path,
		logger: logger.With().Str("component", "shield-policy").Logger(),
	}

	if err := d.Reload(); err != nil {
		return nil, err
	}

	return d, nil
}

// LoadDecider returns a RegoDecider for a configured policy file and the
// built-in ThresholdDecider otherwise.
func LoadDecider(path string, logger zerolog.Logger) (Decider, error) {
	if path == "" {
		return ThresholdDecider{}, nil
	}
	return NewRegoDecider(path, logger)
}

// Reload re-reads and recompiles the policy. The previous query stays in
// use when compilation fails.
func (d *RegoDecider) Reload() error {
	name := "default.rego"
	source := defaultPolicy
	if d.path != "" {
		content, err := os.ReadFile(d.path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", d.path, err)
		}
		name = d.path
		source = string(content)
	}

	module, err := ast.ParseModule(name, source)
	if err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", name, err)
	}

	r := rego.New(
		rego.Query(Query),
		rego.Module(name, source),
	)

	query, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare shield query: %w", err)
	}

	d.mu.Lock()
	d.query = query
	d.mu.Unlock()

	d.logger.Info().
		Str("policy", name).
		Str("package", module.Package.Path.String()).
		Msg("Shield policy loaded")

	return nil
}

// ShouldShield implements Decider.
func (d *RegoDecider) ShouldShield(ctx context.Context, in Input) (bool, error) {
	d.mu.RLock()
	query := d.query
	d.mu.RUnlock()

	input := map[string]interface{}{
		"package": in.Package,
		"minutes": in.Minutes,
		"limit":   in.Limit,
		"kind":    in.Kind,
	}

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("shield query evaluation failed: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	block, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("shield decision is not a boolean: %T", results[0].Expressions[0].Value)
	}

	return block, nil
}
