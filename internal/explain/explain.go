// Package explain turns model attributions and triggered rules into a
// ranked list of human-readable risk factors.
package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/veilpay/riskengine/internal/rules"
)

// Factor is one contributor to a risk decision. Value is a signed
// attribution for model features (positive pushes toward fraud) and the
// imposed floor for rule factors.
type Factor struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
}

// Generator ranks factors. topK limits the number of model-derived factors;
// triggered rules are always reported in full.
type Generator struct {
	featureNames []string
	topK         int
}

// NewGenerator builds a generator over the transformer's feature order.
// topK <= 0 disables model factors entirely.
func NewGenerator(featureNames []string, topK int) *Generator {
	return &Generator{featureNames: featureNames, topK: topK}
}

// Generate merges per-feature model attributions with triggered rule
// outcomes into one list ranked by absolute value. Model factors are
// truncated to topK before the merge; rule factors are included
// unconditionally, value set to the floor the rule imposed. A nil or short
// contributions slice yields rule factors only — explanation never fails
// the scoring path.
func (g *Generator) Generate(contributions []float64, outcomes []rules.Outcome) []Factor {
	factors := make([]Factor, 0, g.topK+len(outcomes))

	if g.topK > 0 && len(contributions) > 0 {
		model := make([]Factor, 0, len(contributions))
		for i, c := range contributions {
			if i >= len(g.featureNames) || c == 0 {
				continue
			}
			model = append(model, Factor{
				Name:        g.featureNames[i],
				Value:       c,
				Description: describeContribution(g.featureNames[i], c),
			})
		}
		sort.SliceStable(model, func(i, j int) bool {
			return math.Abs(model[i].Value) > math.Abs(model[j].Value)
		})
		if len(model) > g.topK {
			model = model[:g.topK]
		}
		factors = append(factors, model...)
	}

	for _, o := range outcomes {
		factors = append(factors, Factor{
			Name:        o.Rule,
			Value:       o.Floor,
			Description: o.Description,
		})
	}

	// A rule floor usually dominates individual attributions; the final
	// ranking is over the merged list, not per source.
	sort.SliceStable(factors, func(i, j int) bool {
		return math.Abs(factors[i].Value) > math.Abs(factors[j].Value)
	})
	return factors
}

func describeContribution(name string, c float64) string {
	if c > 0 {
		return fmt.Sprintf("%s raised the model risk estimate by %.4f", name, c)
	}
	return fmt.Sprintf("%s lowered the model risk estimate by %.4f", name, -c)
}
