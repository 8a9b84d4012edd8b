package patterns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(ctx context.Context, answer string) (float64, error)

func (f ValidatorFunc) Validate(ctx context.Context, answer string) (float64, error) {
	return f(ctx, answer)
}

// ValidatorRegistry resolves a Lens's ValidatorRef.Name to a concrete
// Validator. Deterministic validators (regex/schema checks) and heuristic
// validators (model-graded checks) both satisfy Validator; the registry
// does not distinguish between them at call time (spec §4.5).
type ValidatorRegistry map[string]Validator

// Resolve looks up the Validator registered under name, returning ok=false
// when none is registered (callers skip unregistered validators rather
// than failing the pattern).
func (r ValidatorRegistry) Resolve(name string) (Validator, bool) {
	v, ok := r[name]
	return v, ok
}

// RunAll runs every named validator against answer and averages the
// scores. Unregistered validators are skipped. An empty or fully
// unregistered set of names yields score 1 (no validators configured
// means nothing to fail).
func RunAll(ctx context.Context, registry ValidatorRegistry, names []string, answer string) (float64, error) {
	if len(names) == 0 {
		return 1, nil
	}
	var total float64
	var count int
	for _, name := range names {
		v, ok := registry.Resolve(name)
		if !ok {
			continue
		}
		score, err := v.Validate(ctx, answer)
		if err != nil {
			return 0, err
		}
		total += score
		count++
	}
	if count == 0 {
		return 1, nil
	}
	return total / float64(count), nil
}

// SchemaValidator is a deterministic_validator (spec §4.5) that scores an
// answer 1 when it parses as JSON conforming to schema, 0 otherwise.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles schemaJSON once so Validate never
// recompiles on the hot path.
func NewSchemaValidator(name string, schemaJSON []byte) (*SchemaValidator, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("patterns: schema validator %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("patterns: schema validator %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("patterns: schema validator %s: %w", name, err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// Validate reports 1 when answer is valid JSON conforming to the
// compiled schema, 0 for any parse or schema violation.
func (v *SchemaValidator) Validate(_ context.Context, answer string) (float64, error) {
	var instance any
	if err := json.Unmarshal([]byte(answer), &instance); err != nil {
		return 0, nil
	}
	if err := v.schema.Validate(instance); err != nil {
		return 0, nil
	}
	return 1, nil
}
