package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/aspect-build/attestproof/internal/claims"
)

const regoQuery = "data.attestproof"

type regoPolicy struct {
	query rego.PreparedEvalQuery
}

func compileRego(ctx context.Context, name, source string) (*regoPolicy, error) {
	if name == "" {
		name = "policy.rego"
	}
	q, err := rego.New(
		rego.Query(regoQuery),
		rego.Module(name, source),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego policy %s: %w", name, err)
	}
	return &regoPolicy{query: q}, nil
}

// evaluate feeds the raw payload as input. A missing or non-true allow is a
// rejection.
func (r *regoPolicy) evaluate(ctx context.Context, c *claims.Claims) ([]string, error) {
	var input any
	if len(c.Raw) > 0 {
		if err := json.Unmarshal(c.Raw, &input); err != nil {
			return nil, fmt.Errorf("rego input: %w", err)
		}
	}
	results, err := r.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("rego evaluation: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return []string{"rego policy produced no decision"}, nil
	}
	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return []string{"rego policy result is not an object"}, nil
	}

	var reasons []string
	if list, ok := doc["reasons"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				reasons = append(reasons, s)
			}
		}
		sort.Strings(reasons)
	}
	if allow, _ := doc["allow"].(bool); allow {
		return nil, nil
	}
	if len(reasons) == 0 {
		reasons = []string{"rego policy denied"}
	}
	return reasons, nil
}
